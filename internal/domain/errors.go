package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoItems signals an empty order.
	ErrNoItems = errors.New("order has no items")
	// ErrPresentationBlocked signals that the host refused to open a presentation surface.
	// Delivery recovers from it by falling back to download.
	ErrPresentationBlocked = errors.New("presentation surface blocked")
	// ErrUnknownMode signals a delivery mode other than print, view or download.
	ErrUnknownMode = errors.New("unknown delivery mode")
)

// ServerError is a non-2xx answer from the Document Service.
type ServerError struct {
	Status int
	Body   []byte
}

func (e *ServerError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("document service responded %d", e.Status)
	}
	return fmt.Sprintf("document service responded %d: %s", e.Status, e.Body)
}

// NetworkError means the request left but no response came back.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "document service unreachable: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// RequestSetupError means the request could not be built or sent at all.
type RequestSetupError struct {
	Err error
}

func (e *RequestSetupError) Error() string { return "ticket request setup: " + e.Err.Error() }
func (e *RequestSetupError) Unwrap() error { return e.Err }
