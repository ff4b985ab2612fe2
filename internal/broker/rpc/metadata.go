package rpc

import "google.golang.org/grpc/metadata"

// mdMetadata adapts grpc's incoming metadata.MD to auth.Metadata, keeping
// the auth package transport-agnostic.
type mdMetadata metadata.MD

func (m mdMetadata) Get(key string) string {
	vals := metadata.MD(m).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
