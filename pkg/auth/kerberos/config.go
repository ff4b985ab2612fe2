package kerberos

import "time"

// Config holds the GSSAPI acceptor settings needed to load a Provider.
type Config struct {
	KeytabPath      string
	ServiceName     string
	ServiceHostname string
	OriginRealm     string
	Krb5ConfPath    string
	MaxClockSkew    time.Duration
}

// ServicePrincipal builds the acceptor's service principal name from its
// parts, e.g. "broker/broker.example.com@EXAMPLE.COM".
func (c Config) ServicePrincipal() string {
	return c.ServiceName + "/" + c.ServiceHostname + "@" + c.OriginRealm
}
