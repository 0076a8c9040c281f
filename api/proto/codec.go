package proto

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content subtype this codec registers under.
// No protoc-generated codec exists for this service, so frames are
// carried as JSON rather than the default binary protobuf wire format.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec by
// delegating to encoding/json. The MarshalJSON/UnmarshalJSON methods
// on AgentMessage's variant types (FunctionRequest, FunctionResult,
// TunnelMessage, TunnelResponse) handle the protobuf well-known-type
// fields that plain encoding/json cannot round-trip unaided.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}
