package daemon

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecName is the wire content-subtype this client negotiates. The
// compiler daemon speaks a small, closed RPC surface with no
// need for cross-language interop or schema evolution tooling, so the
// transport uses a plain gob codec over grpc's framing instead of
// generated protobuf message types — grpc itself (streaming, deadlines,
// otel instrumentation, connection management) is still exercised in
// full; only the per-message marshaling is simplified.
const codecName = "dexopt-gob"

type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
