package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"typed-rpc/codec"
	"typed-rpc/message"
)

// JSONRPCService is the gateway name: clients call "RPC.Call".
const JSONRPCService = "RPC"

// CallArgs are the params of RPC.Call. Each entry of Args is the JSON form
// of one argument, decoded with the declared parameter type.
type CallArgs struct {
	Module   string            `json:"module"`
	Function string            `json:"function"`
	Args     []json.RawMessage `json:"args"`
}

// CallReply holds the JSON form of the result; null for void functions.
type CallReply struct {
	Result json.RawMessage `json:"result"`
}

type gateway struct {
	d *Dispatcher
}

// Call decodes args with the callee's contract, runs it through the
// dispatcher's middleware chain and encodes the result.
func (g *gateway) Call(r *http.Request, args *CallArgs, reply *CallReply) error {
	fn, err := g.d.Registry().Lookup(args.Module, args.Function)
	if err != nil {
		return err
	}
	if len(args.Args) != len(fn.Args) {
		return fmt.Errorf("%s expects %d arguments, got %d", fn.Signature(), len(fn.Args), len(args.Args))
	}

	req := &message.Request{Module: args.Module, Function: args.Function, Args: make([]any, 0, len(fn.Args))}
	for i, raw := range args.Args {
		v, err := codec.UnmarshalValue(raw, fn.Args[i])
		if err != nil {
			return fmt.Errorf("invalid arguments for %s: argument %d: %w", fn.Signature(), i, err)
		}
		req.Args = append(req.Args, v.Interface())
	}

	resp := g.d.Invoke(r.Context(), req)
	if resp.Status != message.StatusOK {
		return errors.New(resp.Error)
	}

	result, err := codec.MarshalValue(resp.Result, fn.Return)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	reply.Result = result
	return nil
}

// JSONRPCHandler exposes the dispatcher's registry as a JSON-RPC 2.0 endpoint
// with a single method:
//
//	{"jsonrpc":"2.0","method":"RPC.Call","params":{"module":"calc","function":"Add","args":[1,2]},"id":1}
func JSONRPCHandler(d *Dispatcher) (http.Handler, error) {
	s := rpc.NewServer()
	s.RegisterCodec(json2.NewCodec(), "application/json")
	if err := s.RegisterService(&gateway{d: d}, JSONRPCService); err != nil {
		return nil, err
	}
	return s, nil
}
