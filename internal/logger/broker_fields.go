package logger

import "log/slog"

// Broker-specific field keys, additive to the set in fields.go (Procedure,
// ClientIP, SessionID, and Err are reused as-is: RPC endpoint name maps onto
// Procedure, the caller's address onto ClientIP).
const (
	KeyOwner        = "owner"         // session/request owner principal
	KeyRenewer      = "renewer"       // session renewer principal
	KeyTarget       = "target"        // delegated resource target
	KeyScope        = "scope"         // requested OAuth scope
	KeyResponseType = "response_type" // success | reject | server-error
)

func Owner(v string) slog.Attr        { return slog.String(KeyOwner, v) }
func Renewer(v string) slog.Attr      { return slog.String(KeyRenewer, v) }
func Target(v string) slog.Attr       { return slog.String(KeyTarget, v) }
func Scope(v string) slog.Attr        { return slog.String(KeyScope, v) }
func ResponseType(v string) slog.Attr { return slog.String(KeyResponseType, v) }
