// Package brokererr defines the broker's handled-error carrier: the type
// every RPC endpoint uses for errors that map straight to a client-visible
// gRPC status, as opposed to anything else, which the RPC envelope masks to
// a generic server error before it ever reaches a caller.
package brokererr

import (
	"fmt"

	"google.golang.org/grpc/codes"
)

// Error is the handled-error carrier. It is constructed deliberately by
// the core and propagates to the client unchanged in both code and
// message.
type Error struct {
	Code    codes.Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs a handled error.
func New(code codes.Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// UnknownMessage is what an unhandled error (a bare error, or a recovered
// panic) is masked to before it reaches the client. The real cause is
// logged server-side, never returned.
const UnknownMessage = "Server error"

// As reports whether err is a handled *Error.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
