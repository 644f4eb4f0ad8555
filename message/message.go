// Package message defines the request and response envelopes exchanged
// between a stub and a dispatcher, and how they map onto codec slots.
//
// Every envelope is a flat sequence of slots:
//
//	request:  seq, module, function, arg_1, ..., arg_n
//	response: seq, status, result            (status = "ok")
//	response: seq, status, error message     (status = "exception")
//
// seq is the correlation identifier chosen by the stub and echoed by the
// dispatcher, so responses can be matched to callers when several calls share
// one transport.
package message

import (
	"fmt"
	"reflect"

	"typed-rpc/codec"
	"typed-rpc/signature"
)

// Status of a Response.
type Status string

const (
	StatusOK        Status = "ok"
	StatusException Status = "exception"
)

// Request carries one call.
//
//   - Stub side:       Args holds the caller's values, encoded with the TypedFunction arg types.
//   - Dispatcher side: Args holds the decoded values, ready for invocation.
type Request struct {
	Seq      uint64
	Module   string
	Function string
	Args     []any
}

// Response carries the outcome of one call. Result is set iff Status is ok,
// Error iff Status is exception.
type Response struct {
	Seq    uint64
	Status Status
	Result any
	Error  string
}

// Method returns "module.function" for logging.
func (r *Request) Method() string {
	return r.Module + "." + r.Function
}

// OK builds a successful response.
func OK(seq uint64, result any) *Response {
	return &Response{Seq: seq, Status: StatusOK, Result: result}
}

// Exception builds a failed response.
func Exception(seq uint64, format string, args ...any) *Response {
	return &Response{Seq: seq, Status: StatusException, Error: fmt.Sprintf(format, args...)}
}

var (
	stringType = reflect.TypeOf("")
	seqType    = reflect.TypeOf(uint64(0))
)

// EncodeRequest writes req using the argument types of tf.
func EncodeRequest(enc codec.Encoder, req *Request, tf *signature.TypedFunction) error {
	if len(req.Args) != len(tf.Args) {
		return fmt.Errorf("message: %s expects %d arguments, got %d", tf.Signature(), len(tf.Args), len(req.Args))
	}
	if err := encodeHeader(enc, req.Seq, req.Module, req.Function); err != nil {
		return err
	}
	for i, arg := range req.Args {
		if err := enc.Encode(arg, tf.Args[i]); err != nil {
			return err
		}
	}
	return nil
}

func encodeHeader(enc codec.Encoder, seq uint64, module, function string) error {
	if err := enc.Encode(seq, seqType); err != nil {
		return err
	}
	if err := enc.Encode(module, stringType); err != nil {
		return err
	}
	return enc.Encode(function, stringType)
}

// DecodeSeq reads the correlation identifier that starts every envelope.
func DecodeSeq(dec codec.Decoder) (uint64, error) {
	return codec.DecodeAs[uint64](dec)
}

// DecodeRequestHeader reads module and function names after the seq slot.
func DecodeRequestHeader(dec codec.Decoder, req *Request) error {
	var err error
	if req.Module, err = codec.DecodeAs[string](dec); err != nil {
		return err
	}
	req.Function, err = codec.DecodeAs[string](dec)
	return err
}

// DecodeArgs reads the argument slots of tf into req.Args.
func DecodeArgs(dec codec.Decoder, req *Request, tf *signature.TypedFunction) error {
	req.Args = make([]any, 0, len(tf.Args))
	for _, t := range tf.Args {
		v, err := dec.Decode(t)
		if err != nil {
			return err
		}
		req.Args = append(req.Args, v.Interface())
	}
	return nil
}

// EncodeResponse writes resp; returnType is used for the result slot.
func EncodeResponse(enc codec.Encoder, resp *Response, returnType reflect.Type) error {
	if err := enc.Encode(resp.Seq, seqType); err != nil {
		return err
	}
	if err := enc.Encode(string(resp.Status), stringType); err != nil {
		return err
	}
	if resp.Status == StatusOK {
		return enc.Encode(resp.Result, returnType)
	}
	return enc.Encode(resp.Error, stringType)
}

// UnknownStatusError reports a status slot that is neither ok nor exception.
type UnknownStatusError struct {
	Status string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("message: unknown response status %q", e.Status)
}

// DecodeResponseBody reads status and payload after the seq slot.
func DecodeResponseBody(dec codec.Decoder, seq uint64, returnType reflect.Type) (*Response, error) {
	status, err := codec.DecodeAs[string](dec)
	if err != nil {
		return nil, err
	}
	resp := &Response{Seq: seq, Status: Status(status)}
	switch resp.Status {
	case StatusOK:
		v, err := dec.Decode(returnType)
		if err != nil {
			return nil, err
		}
		resp.Result = v.Interface()
	case StatusException:
		if resp.Error, err = codec.DecodeAs[string](dec); err != nil {
			return nil, err
		}
	default:
		return nil, &UnknownStatusError{Status: status}
	}
	return resp, nil
}
