package server

import (
	"errors"
	"fmt"

	"github.com/cloudmeeting/orderhub/pkg/model"
)

// Error codes carried in SERVER_EVENT error payloads.
const (
	CodeBadRequest   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeThrottled    = 429
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserExists         = errors.New("username already exists")
)

// Error is a caller-facing failure with a protocol error code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func newError(code int, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// toError maps domain errors onto protocol error codes.
func toError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	code := CodeBadRequest
	switch {
	case errors.Is(err, ErrOrderNotFound):
		code = CodeNotFound
	case errors.Is(err, ErrInvalidCredentials):
		code = CodeUnauthorized
	case errors.Is(err, ErrUserExists),
		errors.Is(err, model.ErrOrderNotOpen),
		errors.Is(err, model.ErrInvalidTransition):
		code = CodeConflict
	case errors.Is(err, model.ErrNotParticipant),
		errors.Is(err, model.ErrCreatorOnly):
		code = CodeForbidden
	}
	return newError(code, err.Error())
}
