package stub

import (
	"context"
	"fmt"
	"reflect"

	"typed-rpc/signature"
)

// Bind points the function variable fnPtr at a proxy that calls name. The
// variable's type is the contract:
//
//	var add func(a, b int) (int, error)
//	s.Bind("Add", &add)
//	sum, err := add(3, 4)
//
// A leading context.Context makes the proxy async. Without an error result a
// failed call panics with the error.
func (s *Stub) Bind(name string, fnPtr any) error {
	ptr := reflect.ValueOf(fnPtr)
	if ptr.Kind() != reflect.Ptr || ptr.IsNil() || ptr.Elem().Kind() != reflect.Func {
		return fmt.Errorf("stub: Bind needs a non-nil pointer to a function variable, got %T", fnPtr)
	}
	fnType := ptr.Elem().Type()
	tf, err := signature.ExtractType(s.module, name, fnType, 0)
	if err != nil {
		return err
	}
	s.add(tf)

	proxy := reflect.MakeFunc(fnType, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		if tf.Async {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				ctx = c
			}
			in = in[1:]
		}
		args := make([]any, len(in))
		for i, v := range in {
			args[i] = v.Interface()
		}

		var (
			result any
			err    error
		)
		if tf.Async {
			result, err = s.InvokeAsync(ctx, name, args...)
		} else {
			result, err = s.Invoke(name, args...)
		}
		return proxyResults(fnType, tf, result, err)
	})
	ptr.Elem().Set(proxy)
	return nil
}

func proxyResults(fnType reflect.Type, tf *signature.TypedFunction, result any, err error) []reflect.Value {
	if err != nil && !tf.Failable {
		panic(err)
	}
	out := make([]reflect.Value, fnType.NumOut())
	for i := range out {
		out[i] = reflect.Zero(fnType.Out(i))
	}
	if err != nil {
		out[len(out)-1] = reflect.ValueOf(&err).Elem()
		return out
	}
	if !tf.IsVoid() && result != nil {
		v := reflect.ValueOf(result)
		if v.Type() != tf.Return && v.Type().ConvertibleTo(tf.Return) {
			v = v.Convert(tf.Return)
		}
		out[0] = v
	}
	return out
}
