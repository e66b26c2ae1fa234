package grpcserver

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Name is the content-subtype clients select with
// grpc.CallContentSubtype(Name).
const Name = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries the plain request and response structs of this
// package, so the service needs no generated protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return Name }
