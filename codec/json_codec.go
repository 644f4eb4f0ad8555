package codec

import (
	"bytes"
	"reflect"
)

// slotSeparator terminates every JSON slot. Compact JSON escapes control
// characters inside strings, so a raw newline never occurs within a slot.
const slotSeparator = '\n'

// JSONCodec writes one compact JSON value per slot, newline terminated.
// Pros: human-readable, cross-language, easy to debug in an HTTP body.
// Cons: reflection + string parsing on every slot.
type JSONCodec struct{}

func (c *JSONCodec) NewEncoder() Encoder {
	return &jsonEncoder{}
}

func (c *JSONCodec) NewDecoder(buf []byte) Decoder {
	return &jsonDecoder{buf: buf}
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

type jsonEncoder struct {
	buf   bytes.Buffer
	count int
}

func (e *jsonEncoder) Encode(v any, t reflect.Type) error {
	slot, err := marshalSlot(v, t)
	if err != nil {
		return &EncodeError{Index: e.count, Type: t, Err: err}
	}
	e.buf.Write(slot)
	e.buf.WriteByte(slotSeparator)
	e.count++
	return nil
}

func (e *jsonEncoder) Buffer() []byte {
	return e.buf.Bytes()
}

type jsonDecoder struct {
	buf    []byte
	offset int
	count  int
}

func (d *jsonDecoder) Decode(t reflect.Type) (reflect.Value, error) {
	index := d.count
	if d.offset >= len(d.buf) {
		return reflect.Value{}, &DecodeError{Index: index, Type: t, Err: ErrExhausted}
	}

	rest := d.buf[d.offset:]
	end := bytes.IndexByte(rest, slotSeparator)
	var slot []byte
	if end < 0 {
		// Last slot without a terminator
		slot = rest
		d.offset = len(d.buf)
	} else {
		slot = rest[:end]
		d.offset += end + 1
	}
	d.count++

	v, err := unmarshalSlot(slot, t)
	if err != nil {
		return reflect.Value{}, &DecodeError{Index: index, Type: t, Err: err}
	}
	return v, nil
}

func (d *jsonDecoder) Remaining() int {
	return len(d.buf) - d.offset
}
