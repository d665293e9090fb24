package message

import (
	"errors"
	"strings"
)

var (
	ErrDuplicateRegistration = errors.New("rpc: duplicate registration")
	ErrServiceNotFound       = errors.New("rpc: service not found")
	ErrMethodNotFound        = errors.New("rpc: method not found")
	ErrAmbiguousMethod       = errors.New("rpc: ambiguous method signature")
	ErrSerialization         = errors.New("rpc: serialization failed")
	ErrProtocol              = errors.New("rpc: protocol error")
	ErrTimeout               = errors.New("rpc: call timed out")
	ErrConnectionClosed      = errors.New("rpc: connection closed")
	ErrRemoteInvocation      = errors.New("rpc: remote invocation failed")
)

// Dispatch failures travel as text; these are recognized again on the calling side.
var remoteSentinels = []error{
	ErrServiceNotFound,
	ErrMethodNotFound,
	ErrSerialization,
	ErrProtocol,
}

// RemoteError is returned to callers when the server answered with an error Response.
type RemoteError struct {
	Message string
	cause   error
}

// NewRemoteError wraps the error text of a Response.
func NewRemoteError(msg string) *RemoteError {
	e := &RemoteError{Message: msg}
	for _, s := range remoteSentinels {
		if strings.HasPrefix(msg, s.Error()) {
			e.cause = s
			break
		}
	}
	return e
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Is matches ErrRemoteInvocation, and the dispatch sentinel the message starts with, if any.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteInvocation || (e.cause != nil && target == e.cause)
}
