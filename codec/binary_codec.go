package codec

import (
	"encoding/binary"
	"fmt"
	"reflect"
)

// BinaryCodec frames every slot with a 4-byte big-endian length:
//
//	┌──────────┬──────────────┬──────────┬──────────────┐
//	│ len uint32│ slot 0 bytes │ len uint32│ slot 1 bytes │ ...
//	└──────────┴──────────────┴──────────┴──────────────┘
//
// Slot bodies are JSON values; framing by length lets any byte appear inside.
type BinaryCodec struct{}

func (c *BinaryCodec) NewEncoder() Encoder {
	return &binaryEncoder{}
}

func (c *BinaryCodec) NewDecoder(buf []byte) Decoder {
	return &binaryDecoder{buf: buf}
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

type binaryEncoder struct {
	buf   []byte
	count int
}

func (e *binaryEncoder) Encode(v any, t reflect.Type) error {
	slot, err := marshalSlot(v, t)
	if err != nil {
		return &EncodeError{Index: e.count, Type: t, Err: err}
	}
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(slot)))
	e.buf = append(e.buf, slot...)
	e.count++
	return nil
}

func (e *binaryEncoder) Buffer() []byte {
	return e.buf
}

type binaryDecoder struct {
	buf    []byte
	offset int
	count  int
}

func (d *binaryDecoder) Decode(t reflect.Type) (reflect.Value, error) {
	index := d.count
	if d.offset >= len(d.buf) {
		return reflect.Value{}, &DecodeError{Index: index, Type: t, Err: ErrExhausted}
	}
	if len(d.buf)-d.offset < 4 {
		return reflect.Value{}, &DecodeError{Index: index, Type: t, Err: fmt.Errorf("truncated length prefix")}
	}

	slotLen := int(binary.BigEndian.Uint32(d.buf[d.offset : d.offset+4]))
	start := d.offset + 4
	if slotLen > len(d.buf)-start {
		return reflect.Value{}, &DecodeError{Index: index, Type: t, Err: fmt.Errorf("slot length %d exceeds buffer", slotLen)}
	}
	slot := d.buf[start : start+slotLen]
	d.offset = start + slotLen
	d.count++

	v, err := unmarshalSlot(slot, t)
	if err != nil {
		return reflect.Value{}, &DecodeError{Index: index, Type: t, Err: err}
	}
	return v, nil
}

func (d *binaryDecoder) Remaining() int {
	return len(d.buf) - d.offset
}
