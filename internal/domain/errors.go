package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeAuth       ErrorCode = "auth"
	CodeNotFound   ErrorCode = "not_found"
	CodePermission ErrorCode = "permission"
	CodeEngine     ErrorCode = "engine"
	CodeProtocol   ErrorCode = "protocol"
)

// SignalError is the typed failure carried in a signaling ack.
// Handlers never return raw errors to the wire.
type SignalError struct {
	Code    ErrorCode
	Message string
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func AuthErrorf(format string, args ...any) *SignalError {
	return &SignalError{Code: CodeAuth, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *SignalError {
	return &SignalError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Permissionf(format string, args ...any) *SignalError {
	return &SignalError{Code: CodePermission, Message: fmt.Sprintf(format, args...)}
}

func Protocolf(format string, args ...any) *SignalError {
	return &SignalError{Code: CodeProtocol, Message: fmt.Sprintf(format, args...)}
}

// EngineError wraps a failure reported by the media engine.
func EngineError(err error) *SignalError {
	return &SignalError{Code: CodeEngine, Message: err.Error()}
}

// AsSignalError maps any error onto a SignalError for the wire.
// Unknown errors are reported as engine failures, not crashes.
func AsSignalError(err error) *SignalError {
	var se *SignalError
	if errors.As(err, &se) {
		return se
	}
	return EngineError(err)
}
