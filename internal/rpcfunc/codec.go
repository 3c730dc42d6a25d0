// Package rpcfunc is the gRPC transport for functions the local registry
// can't serve: it calls out to a sibling review-function service over the
// same RPC surface the original Python implementation used
// (review_service.ReviewFunctionService/Execute), adapted to Go.
//
// There is no protoc available to generate the usual *.pb.go stubs, and
// hand-authoring a proto.Message implementation by hand is a good way to
// produce code that looks right and silently isn't. Instead this package
// registers a plain JSON encoding.Codec with grpc and selects it per-call
// via CallContentSubtype, so the wire format is JSON over HTTP/2 instead
// of the protobuf binary encoding — grpc itself, and its connection
// management, retry and deadline plumbing, is still the real dependency
// doing real work.
package rpcfunc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}
