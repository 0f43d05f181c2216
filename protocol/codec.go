package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Encoding names accepted by CodecFor.
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// Codec serializes websocket frames. Binary codecs are sent as binary
// frames, the others as text frames.
type Codec interface {
	Name() string
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return EncodingJSON }
func (jsonCodec) Binary() bool                       { return false }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// cborCodec decodes untyped maps with string keys so payload maps look the
// same whichever codec produced them.
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string                         { return EncodingCBOR }
func (cborCodec) Binary() bool                         { return true }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = newCBORCodec()
)

// CodecFor returns the codec for an encoding name. An empty name selects
// JSON.
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", EncodingJSON:
		return JSON, nil
	case EncodingCBOR:
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", name)
	}
}

// DecodePayload converts an untyped request payload into v by round
// tripping it through the codec that decoded the request.
func DecodePayload(c Codec, payload any, v any) error {
	data, err := c.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := c.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}
	return nil
}
