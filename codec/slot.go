package codec

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode/utf8"

	"typed-rpc/signature"
)

// A slot is a two element JSON array: the type tag of the declared type and
// the value itself.
//
//	["int",7]
//	["Point",{"x":1,"y":2}]
//	["[]uint8","AAEC"]
//
// Decoding checks the tag before the value, so a slot never decodes as a type
// it was not encoded with, even when the JSON shapes happen to fit.

var tags sync.Map // reflect.Type -> string

// TypeTag returns the identity a slot of type t is tagged with. Named types
// are identified by their name without the package, so a client-side copy of
// a type declaration matches the original.
func TypeTag(t reflect.Type) string {
	if tag, ok := tags.Load(t); ok {
		return tag.(string)
	}
	tag := typeTag(t)
	tags.Store(t, tag)
	return tag
}

func typeTag(t reflect.Type) string {
	if t == signature.Void {
		return "void"
	}
	if name := t.Name(); name != "" {
		// Instantiated generics carry full package paths of their arguments
		if i := strings.IndexByte(name, '['); i >= 0 {
			name = name[:i]
		}
		return name
	}
	switch t.Kind() {
	case reflect.Ptr:
		return "*" + typeTag(t.Elem())
	case reflect.Slice:
		return "[]" + typeTag(t.Elem())
	case reflect.Array:
		return fmt.Sprintf("[%d]%s", t.Len(), typeTag(t.Elem()))
	case reflect.Map:
		return "map[" + typeTag(t.Key()) + "]" + typeTag(t.Elem())
	case reflect.Interface:
		return "any"
	case reflect.Struct:
		var b strings.Builder
		b.WriteString("struct{")
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if jt, _, _ := strings.Cut(f.Tag.Get("json"), ","); jt == "-" {
				continue
			} else if jt != "" {
				name = jt
			}
			fmt.Fprintf(&b, "%s %s;", name, typeTag(f.Type))
		}
		b.WriteString("}")
		return b.String()
	}
	return t.String()
}

// marshalSlot validates v against t and returns the tagged slot.
func marshalSlot(v any, t reflect.Type) ([]byte, error) {
	if t == nil {
		return nil, errors.New("nil type")
	}
	body, err := MarshalValue(v, t)
	if err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(TypeTag(t))
	slot := make([]byte, 0, len(tag)+len(body)+3)
	slot = append(slot, '[')
	slot = append(slot, tag...)
	slot = append(slot, ',')
	slot = append(slot, body...)
	return append(slot, ']'), nil
}

// unmarshalSlot checks the tag of slot against t and decodes the value.
func unmarshalSlot(slot []byte, t reflect.Type) (reflect.Value, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(slot, &pair); err != nil {
		return reflect.Value{}, fmt.Errorf("malformed slot: %w", err)
	}
	if len(pair) != 2 {
		return reflect.Value{}, fmt.Errorf("malformed slot: %d elements", len(pair))
	}
	var tag string
	if err := json.Unmarshal(pair[0], &tag); err != nil {
		return reflect.Value{}, fmt.Errorf("malformed slot tag: %w", err)
	}
	if want := TypeTag(t); tag != want {
		return reflect.Value{}, fmt.Errorf("slot holds %s", tag)
	}
	return UnmarshalValue(pair[1], t)
}

// MarshalValue validates v against t and returns its plain JSON form.
func MarshalValue(v any, t reflect.Type) ([]byte, error) {
	if t == signature.Void {
		if v != nil && reflect.TypeOf(v) != signature.Void {
			return nil, fmt.Errorf("value %T for void slot", v)
		}
		return []byte("null"), nil
	}
	if v == nil {
		if !nilable(t) {
			return nil, fmt.Errorf("nil value for non-nilable type")
		}
		return []byte("null"), nil
	}
	if vt := reflect.TypeOf(v); !vt.AssignableTo(t) {
		if !vt.ConvertibleTo(t) || vt.Kind() != t.Kind() {
			return nil, fmt.Errorf("value of type %v is not assignable", vt)
		}
	}
	// encoding/json replaces invalid UTF-8 with U+FFFD
	if err := checkUTF8(reflect.ValueOf(v), make(map[uintptr]bool)); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// UnmarshalValue decodes plain JSON strictly into a new value of type t.
func UnmarshalValue(data []byte, t reflect.Type) (reflect.Value, error) {
	trimmed := bytes.TrimSpace(data)
	if t == signature.Void {
		if !bytes.Equal(trimmed, []byte("null")) {
			return reflect.Value{}, fmt.Errorf("expected null for void, got %.32q", trimmed)
		}
		return reflect.ValueOf(signature.NoValue{}), nil
	}
	if bytes.Equal(trimmed, []byte("null")) && !nilable(t) {
		return reflect.Value{}, errors.New("null for non-nilable type")
	}

	ptr := reflect.New(t)
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	if dec.More() {
		return reflect.Value{}, errors.New("trailing data in value")
	}
	return ptr.Elem(), nil
}

var (
	jsonMarshaler = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshaler = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// checkUTF8 rejects strings that JSON cannot carry unchanged. Values with
// their own marshalers are trusted.
func checkUTF8(v reflect.Value, seen map[uintptr]bool) error {
	if !v.IsValid() {
		return nil
	}
	t := v.Type()
	if t.Implements(jsonMarshaler) || t.Implements(textMarshaler) {
		return nil
	}
	switch v.Kind() {
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return fmt.Errorf("invalid UTF-8 in string %.32q", v.String())
		}
	case reflect.Ptr:
		if v.IsNil() || seen[v.Pointer()] {
			return nil
		}
		seen[v.Pointer()] = true
		return checkUTF8(v.Elem(), seen)
	case reflect.Interface:
		return checkUTF8(v.Elem(), seen)
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return nil // base64
		}
		fallthrough
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := checkUTF8(v.Index(i), seen); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkUTF8(iter.Key(), seen); err != nil {
				return err
			}
			if err := checkUTF8(iter.Value(), seen); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).IsExported() {
				if err := checkUTF8(v.Field(i), seen); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	}
	return false
}
