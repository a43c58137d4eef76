package event

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/errors"
)

// Codec encodes events for the wire. Both formats use the same field names.
type Codec interface {
	Encode(ev *DetectionEvent) ([]byte, error)
	Decode(data []byte, ev *DetectionEvent) error
	Name() string
}

// NewCodec returns the codec for format, json when empty
func NewCodec(format string) (Codec, error) {
	switch format {
	case "", conf.FormatJSON:
		return JSONCodec{}, nil
	case conf.FormatMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, errors.Newf("unknown wire format %q", format).
			Component("event").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// JSONCodec is the default wire encoding
type JSONCodec struct{}

// Encode implements Codec
func (JSONCodec) Encode(ev *DetectionEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, encodingError(err, conf.FormatJSON, "encode")
	}
	return data, nil
}

// Decode implements Codec
func (JSONCodec) Decode(data []byte, ev *DetectionEvent) error {
	if err := json.Unmarshal(data, ev); err != nil {
		return encodingError(err, conf.FormatJSON, "decode")
	}
	return nil
}

// Name implements Codec
func (JSONCodec) Name() string { return conf.FormatJSON }

// MsgpackCodec is a compact binary encoding for constrained links
type MsgpackCodec struct{}

// Encode implements Codec
func (MsgpackCodec) Encode(ev *DetectionEvent) ([]byte, error) {
	data, err := msgpack.Marshal(ev)
	if err != nil {
		return nil, encodingError(err, conf.FormatMsgpack, "encode")
	}
	return data, nil
}

// Decode implements Codec
func (MsgpackCodec) Decode(data []byte, ev *DetectionEvent) error {
	if err := msgpack.Unmarshal(data, ev); err != nil {
		return encodingError(err, conf.FormatMsgpack, "decode")
	}
	return nil
}

// Name implements Codec
func (MsgpackCodec) Name() string { return conf.FormatMsgpack }

// DetectFormat guesses the encoding of a payload from its first byte:
// JSON objects start with '{', msgpack maps with a fixmap, map16 or map32 tag.
func DetectFormat(data []byte) (string, bool) {
	for _, c := range data {
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			continue
		case c == '{':
			return conf.FormatJSON, true
		case c >= 0x80 && c <= 0x8f, c == 0xde, c == 0xdf:
			return conf.FormatMsgpack, true
		default:
			return "", false
		}
	}
	return "", false
}

func encodingError(err error, format, op string) error {
	return errors.New(err).
		Component("event").
		Category(errors.CategoryEncoding).
		Context("format", format).
		Context("operation", op).
		Build()
}
