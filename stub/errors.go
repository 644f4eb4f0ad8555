package stub

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBinder is returned by a lazily bound stub when no binder is installed.
	ErrNoBinder = errors.New("stub: no binder installed")
	// ErrNoTransport is returned by a stub created without a transport.
	ErrNoTransport = errors.New("stub: no transport")
)

// RemoteException reports a call that reached the callee and failed there.
// Message is the string form of the callee's error or panic.
type RemoteException struct {
	Module   string
	Function string
	Message  string
}

func (e *RemoteException) Error() string {
	return fmt.Sprintf("remote %s.%s: %s", e.Module, e.Function, e.Message)
}

// RemoteError reports a protocol anomaly: a response that cannot be decoded,
// carries an unknown status or answers a call nobody made. It usually means
// the stub and the dispatcher disagree about a contract.
type RemoteError struct {
	Reason string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stub: %s: %v", e.Reason, e.Err)
	}
	return "stub: " + e.Reason
}

func (e *RemoteError) Unwrap() error { return e.Err }

// UnknownFunctionError is returned when a function has no registered contract.
type UnknownFunctionError struct {
	Module   string
	Function string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("stub: %s.%s has no registered signature", e.Module, e.Function)
}
