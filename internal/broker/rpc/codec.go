package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered as the wire codec for the Broker service.
// With no .proto/generated stubs in this repository, messages are plain Go
// structs (pkg/brokerapi) and grpc-go's pluggable encoding.Codec is the
// extension point that lets a non-protobuf payload ride a real grpc.Server.
const jsonCodecName = "broker-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
