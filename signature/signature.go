// Package signature extracts the wire contract of a Go function.
//
// A TypedFunction is what both ends of a call agree on: the declaring module,
// the function name, the ordered argument types and the return type. Stubs use
// it to encode arguments and decode results, the dispatcher uses it to decode
// arguments and encode results.
//
// Contract rules:
//
//	func(ctx context.Context, a int) (int, error)   async, failable, returns int
//	func(a int, b string)                            sync, returns Void
//	func(a any)                                      rejected: no concrete type
package signature

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// NoValue is the wire type of functions that return nothing.
type NoValue struct{}

// Void is the return type recorded for functions without a result value.
var Void = reflect.TypeOf(NoValue{})

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// TypedFunction is the immutable call contract of one remote function.
type TypedFunction struct {
	Module   string         // Declaring module, e.g. "example/calc"
	Name     string         // Function name, "Type.Method" for methods
	Args     []reflect.Type // One per declared parameter, context excluded
	Return   reflect.Type   // Never nil; Void when nothing is returned
	Async    bool           // First parameter is context.Context
	Variadic bool           // Last entry of Args is the variadic slice
	Failable bool           // Last result is error
}

// SignatureError reports a function that cannot be exposed remotely.
type SignatureError struct {
	Module string
	Name   string
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("signature: %s.%s: %s", e.Module, e.Name, e.Reason)
}

// Extract builds the TypedFunction of fn, which must be a func value.
func Extract(module, name string, fn any) (*TypedFunction, error) {
	if fn == nil {
		return nil, &SignatureError{Module: module, Name: name, Reason: "nil function"}
	}
	return ExtractType(module, name, reflect.TypeOf(fn), 0)
}

// ExtractMethod builds the TypedFunction of an exported method obtained from
// a receiver type. The receiver is not part of the contract.
func ExtractMethod(module, typeName string, m reflect.Method) (*TypedFunction, error) {
	return ExtractType(module, typeName+"."+m.Name, m.Type, 1)
}

// ExtractType builds a TypedFunction from a func type, ignoring the first skip
// parameters (used for method receivers).
func ExtractType(module, name string, typ reflect.Type, skip int) (*TypedFunction, error) {
	fail := func(format string, args ...any) (*TypedFunction, error) {
		return nil, &SignatureError{Module: module, Name: name, Reason: fmt.Sprintf(format, args...)}
	}
	if typ == nil || typ.Kind() != reflect.Func {
		return fail("not a function: %v", typ)
	}
	if typ.NumIn() < skip {
		return fail("missing receiver")
	}

	tf := &TypedFunction{
		Module:   module,
		Name:     name,
		Variadic: typ.IsVariadic(),
	}

	first := skip
	if typ.NumIn() > first && typ.In(first) == contextType {
		tf.Async = true
		first++
	}
	for i := first; i < typ.NumIn(); i++ {
		in := typ.In(i)
		if reason := unsupported(in); reason != "" {
			return fail("parameter %d: %s", i-first, reason)
		}
		tf.Args = append(tf.Args, in)
	}

	outs := typ.NumOut()
	if outs > 0 && typ.Out(outs-1) == errorType {
		tf.Failable = true
		outs--
	}
	switch outs {
	case 0:
		tf.Return = Void
	case 1:
		out := typ.Out(0)
		if reason := unsupported(out); reason != "" {
			return fail("result: %s", reason)
		}
		tf.Return = out
	default:
		return fail("%d result values, at most one plus error is supported", outs)
	}
	return tf, nil
}

// unsupported returns why t cannot travel over the wire, or "".
func unsupported(t reflect.Type) string {
	return unsupportedIn(t, make(map[reflect.Type]bool))
}

// unsupportedIn walks element types once each; named types may refer to
// themselves, as in type Tree map[string]Tree.
func unsupportedIn(t reflect.Type, seen map[reflect.Type]bool) string {
	if seen[t] {
		return ""
	}
	seen[t] = true
	switch t.Kind() {
	case reflect.Interface:
		return fmt.Sprintf("interface type %v has no concrete type", t)
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return fmt.Sprintf("type %v is not serializable", t)
	case reflect.Ptr, reflect.Slice, reflect.Array:
		return unsupportedIn(t.Elem(), seen)
	case reflect.Map:
		if r := unsupportedIn(t.Key(), seen); r != "" {
			return r
		}
		return unsupportedIn(t.Elem(), seen)
	}
	return ""
}

// IsVoid reports whether the function returns no value.
func (tf *TypedFunction) IsVoid() bool {
	return tf.Return == Void
}

// Signature renders the contract, e.g. "calc.Add(int, int) int".
func (tf *TypedFunction) Signature() string {
	var b strings.Builder
	b.WriteString(tf.Module)
	b.WriteByte('.')
	b.WriteString(tf.Name)
	b.WriteByte('(')
	if tf.Async {
		b.WriteString("ctx")
		if len(tf.Args) > 0 {
			b.WriteString(", ")
		}
	}
	for i, a := range tf.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		if tf.Variadic && i == len(tf.Args)-1 {
			b.WriteString("..." + a.Elem().String())
			continue
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	if !tf.IsVoid() {
		b.WriteString(" " + tf.Return.String())
	}
	if tf.Failable {
		b.WriteString(" !")
	}
	return b.String()
}
