package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates that no reply arrived within the response timeout.
	ErrTimeout = errors.New("rpc: waiting for call reply timed out")

	// ErrClosed indicates that the connection to the backend is gone. Calls
	// pending when the reader exits fail with ErrClosed rather than waiting
	// out their individual timeouts.
	ErrClosed = errors.New("rpc: connection closed")

	// ErrProtocol indicates an inbound message that is neither a reply nor a
	// notification. It is fatal to the connection.
	ErrProtocol = errors.New("rpc: malformed message from backend")

	// ErrUnknownScheme is returned by [Dial] for an unsupported URI scheme.
	ErrUnknownScheme = errors.New("rpc: unknown uri scheme")
)

// Error is a structured error decoded from the error member of a backend
// reply. It is distinct from [ErrTimeout] and [ErrClosed]: the call reached
// the backend and the backend rejected it.
type Error struct {
	Data    any
	Message string
	Code    int64
}

// newError builds an [*Error] from a decoded error member. The backend is
// trusted to follow the JSON-RPC error shape; missing members decode to zero
// values rather than failing the call a second time.
func newError(v any) *Error {
	e := &Error{}

	obj, ok := v.(map[string]any)
	if !ok {
		e.Data = v
		return e
	}

	if code, ok := obj["code"].(float64); ok {
		e.Code = int64(code)
	}

	if msg, ok := obj["message"].(string); ok {
		e.Message = msg
	}

	e.Data = obj["data"]

	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code: %d, data: %v)", e.Message, e.Code, e.Data)
}

// Is reports whether t is an [*Error] with the same code.
func (e *Error) Is(t error) bool {
	if terr, ok := t.(*Error); ok {
		return e.Code == terr.Code
	}

	return false
}
