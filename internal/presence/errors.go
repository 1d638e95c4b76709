package presence

import (
	"context"
	"errors"
	"fmt"
)

// NetworkError means the request never produced an HTTP response:
// connection failures, TLS errors and timeouts all land here.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("presence: could not connect to the server: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerRejectedError is any response other than 200 OK.
type ServerRejectedError struct {
	Code    int
	Message string
}

func (e *ServerRejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("presence: server rejected request: HTTP %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("presence: server rejected request: HTTP %d", e.Code)
}

// PayloadEncodingError covers JSON bodies we could not build or read.
type PayloadEncodingError struct {
	Err error
}

func (e *PayloadEncodingError) Error() string {
	return fmt.Sprintf("presence: payload encoding: %v", e.Err)
}

func (e *PayloadEncodingError) Unwrap() error { return e.Err }

// LoginRejectedError is returned by Login when the server answered with an
// error message instead of a session.
type LoginRejectedError struct {
	Message string
}

func (e *LoginRejectedError) Error() string {
	return "presence: login rejected: " + e.Message
}

// IsCanceled reports whether err stems from the caller canceling the
// request. Such errors are not meant to be shown to the user.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
