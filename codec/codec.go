// Package codec turns a sequence of typed values into a transportable buffer
// and back.
//
// An Encoder appends one slot per Encode call; a Decoder hands slots back in
// the same order. The n-th Decode must ask for the type used by the n-th
// Encode, otherwise it fails with a DecodeError.
//
//	enc := codec.GetCodec(codec.CodecTypeJSON).NewEncoder()
//	enc.Encode("calc", reflect.TypeOf(""))
//	enc.Encode(3, reflect.TypeOf(0))
//	dec := cdc.NewDecoder(enc.Buffer())
package codec

import (
	"errors"
	"fmt"
	"reflect"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

// ParseCodecType maps a configuration name to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "json", "":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("unknown codec: %q", name)
}

// UnmarshalText lets configuration loaders parse codec names.
func (t *CodecType) UnmarshalText(text []byte) error {
	ct, err := ParseCodecType(string(text))
	if err != nil {
		return err
	}
	*t = ct
	return nil
}

// Encoder appends typed values to a buffer.
type Encoder interface {
	// Encode validates v against t and appends it as the next slot.
	Encode(v any, t reflect.Type) error
	// Buffer returns the payload built so far.
	Buffer() []byte
}

// Decoder consumes slots in encoding order.
type Decoder interface {
	// Decode reconstructs the next slot as a value of type t.
	Decode(t reflect.Type) (reflect.Value, error)
	// Remaining reports whether unread bytes are left.
	Remaining() int
}

type Codec interface {
	NewEncoder() Encoder
	NewDecoder(buf []byte) Decoder
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeBinary {
		return &BinaryCodec{}
	}
	return &JSONCodec{}
}

// ErrExhausted is wrapped by the DecodeError returned when no slot is left.
var ErrExhausted = errors.New("buffer exhausted")

// DecodeError reports a slot that could not be decoded as the requested type.
type DecodeError struct {
	Index int          // Zero-based slot index
	Type  reflect.Type // Requested type
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode slot %d as %v: %v", e.Index, e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a value that does not match its declared type.
type EncodeError struct {
	Index int
	Type  reflect.Type
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("codec: encode slot %d as %v: %v", e.Index, e.Type, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeAs decodes the next slot as T.
func DecodeAs[T any](d Decoder) (T, error) {
	var zero T
	v, err := d.Decode(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	return v.Interface().(T), nil
}

// EncodeAs encodes v using its static type T.
func EncodeAs[T any](e Encoder, v T) error {
	return e.Encode(v, reflect.TypeOf((*T)(nil)).Elem())
}
