// Package plugin defines the wire protocol between the harness and
// out-of-process step plugins: a gRPC service whose frames are MessagePack
// encoded end-to-end. The harness is always the client; the plugin binary
// serves the service on a loopback port handed over via --port.
package plugin

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype both sides of the protocol use.
const CodecName = "msgpack"

func init() {
	encoding.RegisterCodec(codec{})
}

// codec serializes gRPC frames with MessagePack. Registering it lets both
// the client and plugin servers negotiate the msgpack content-subtype
// without any generated marshaling code.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal %T: %w", v, err)
	}
	return b, nil
}

func (codec) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgpack unmarshal %T: %w", v, err)
	}
	return nil
}

func (codec) Name() string { return CodecName }
