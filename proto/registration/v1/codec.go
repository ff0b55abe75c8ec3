package registrationv1

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName — content-subtype запросов (application/grpc+json).
const CodecName = "json"

// Codec кодирует сообщения сервиса в JSON.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (Codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
