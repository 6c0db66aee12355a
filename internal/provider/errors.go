package provider

import (
	"errors"
	"fmt"
)

// TransportError is a network or decoding failure talking to the provider.
// It never represents an HTTP status; those are part of a normal Response.
type TransportError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s - %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError carries the provider HTTP status of a rejected request.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v (status %d)", e.Err, e.Status)
	}
	return fmt.Sprintf("provider status %d", e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

// ErrTokenRejected is wrapped by StatusError for non-2xx token responses.
var ErrTokenRejected = errors.New("token request rejected")

// StatusOf returns the provider status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return 0, false
}
