// Package kerberos manages the GSSAPI acceptor's keytab and krb5.conf
// lifecycle for the broker's Kerberos primary authentication variant.
//
// The Provider type holds the loaded keytab, krb5.conf, service principal,
// and max clock skew, with hot-reload on keytab rotation. The actual AP-REQ
// verification (service.NewSettings + service.VerifyAPREQ) lives in
// internal/broker/auth, which consumes a *Provider for those values.
//
// Config is a standalone type rather than internal/broker/config.KerberosConfig
// directly: internal/broker/config depends on internal/broker/auth, which
// depends on this package, so taking the config package's type here would
// close an import cycle. Callers translate at the wiring boundary.
//
// References:
//   - RFC 4121: The Kerberos Version 5 GSS-API Mechanism
package kerberos
