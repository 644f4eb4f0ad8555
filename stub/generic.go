package stub

import (
	"context"
	"fmt"
)

// The helpers below are what generated client code calls. The Must variants
// serve functions declared without an error result: a failed call panics
// with the error, since there is no other way to report it.

// Call invokes name synchronously and returns its result as R.
func Call[R any](s *Stub, name string, args ...any) (R, error) {
	return as[R](s.Invoke(name, args...))
}

// CallAsync invokes name asynchronously and returns its result as R.
func CallAsync[R any](ctx context.Context, s *Stub, name string, args ...any) (R, error) {
	return as[R](s.InvokeAsync(ctx, name, args...))
}

// CallVoid invokes a function without result value.
func CallVoid(s *Stub, name string, args ...any) error {
	_, err := s.Invoke(name, args...)
	return err
}

func CallVoidAsync(ctx context.Context, s *Stub, name string, args ...any) error {
	_, err := s.InvokeAsync(ctx, name, args...)
	return err
}

func MustCall[R any](s *Stub, name string, args ...any) R {
	return must(Call[R](s, name, args...))
}

func MustCallAsync[R any](ctx context.Context, s *Stub, name string, args ...any) R {
	return must(CallAsync[R](ctx, s, name, args...))
}

func MustCallVoid(s *Stub, name string, args ...any) {
	if err := CallVoid(s, name, args...); err != nil {
		panic(err)
	}
}

func MustCallVoidAsync(ctx context.Context, s *Stub, name string, args ...any) {
	if err := CallVoidAsync(ctx, s, name, args...); err != nil {
		panic(err)
	}
}

func as[R any](v any, err error) (R, error) {
	var zero R
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	r, ok := v.(R)
	if !ok {
		return zero, &RemoteError{Reason: fmt.Sprintf("result of type %T, want %T", v, zero)}
	}
	return r, nil
}

func must[R any](r R, err error) R {
	if err != nil {
		panic(err)
	}
	return r
}
