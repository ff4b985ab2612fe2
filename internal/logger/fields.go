package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently
// across log statements so aggregation and querying can rely on them.
const (
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	KeyProcedure = "procedure"  // RPC procedure name: GetSessionToken, etc.
	KeyStatusMsg = "status_msg" // Human-readable status message

	KeyClientIP = "client_ip" // Client IP address
	KeySessionID = "session_id" // Session identifier

	KeyError     = "error"      // Error message
	KeyErrorCode = "error_code" // Numeric error code (grpc status code)
)

// TraceID returns a slog.Attr for the OpenTelemetry trace ID.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for the OpenTelemetry span ID.
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Procedure returns a slog.Attr for the RPC procedure name.
func Procedure(name string) slog.Attr {
	return slog.String(KeyProcedure, name)
}

// StatusMsg returns a slog.Attr for a human-readable status message.
func StatusMsg(msg string) slog.Attr {
	return slog.String(KeyStatusMsg, msg)
}

// ClientIP returns a slog.Attr for the client's address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// SessionID returns a slog.Attr for a session identifier.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Err returns a slog.Attr for an error, or a zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code.
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}
