package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/sqlpilot/sqlpilot/internal/llm"
)

var (
	ErrNoTerminalCall     = errors.New("model did not call the terminal tool")
	ErrToolRoundsExceeded = errors.New("tool round limit reached")
)

type Kind string

const (
	KindProtocol  Kind = "protocol"
	KindMalformed Kind = "malformed_arguments"
	KindTransport Kind = "transport"
	KindTimeout   Kind = "timeout"
)

// Error is a generation failure. Protocol and malformed-argument failures
// come from the model's behaviour; transport and timeout failures come from
// reaching it.
type Error struct {
	Kind      Kind
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func protocolError(err error) *Error {
	return &Error{Kind: KindProtocol, Err: err}
}

func malformedError(format string, args ...any) *Error {
	return &Error{Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}

func transportError(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Retryable: true, Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindTransport, Err: err}
	case errors.Is(err, llm.ErrEmptyResponse):
		return protocolError(ErrNoTerminalCall)
	}
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		return &Error{Kind: KindTransport, Retryable: statusErr.Retryable(), Err: err}
	}
	return &Error{Kind: KindTransport, Retryable: true, Err: err}
}
