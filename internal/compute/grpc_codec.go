package compute

import (
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/grpc/encoding"
)

// GRPCCodecName is the content subtype both ends of the gRPC transport use.
const GRPCCodecName = "json"

var registerCodecOnce sync.Once

// jsonCodec carries the hand-written message structs in computeproto as
// JSON, so the workflow payload is byte-identical across HTTP and gRPC.
type jsonCodec struct{}

func (jsonCodec) Name() string { return GRPCCodecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("grpc json marshal %T: %w", v, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("grpc json unmarshal %T: %w", v, err)
	}
	return nil
}

// EnsureGRPCJSONCodec registers the JSON codec. Safe to call repeatedly.
func EnsureGRPCJSONCodec() {
	registerCodecOnce.Do(func() {
		encoding.RegisterCodec(jsonCodec{})
	})
}
