package client

import (
	"errors"
	"fmt"
)

// GenericTransportMessage is shown for any network or channel failure.
const GenericTransportMessage = "Could not reach the scraping service. Please try again."

// ValidationError is raised before any I/O for unusable input.
type ValidationError struct {
	Message string
	Err     error
}

func (e ValidationError) Error() string {
	return "validation: " + e.Message
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

// TransportError indicates a network or channel failure.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string {
	return fmt.Errorf("transport: %s: %w", e.Op, e.Err).Error()
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// ApplicationError indicates the service answered but refused the request.
// Message carries the service's error payload when there was one.
type ApplicationError struct {
	Status  int
	Message string
}

func (e ApplicationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("application: status %d: %s", e.Status, e.Message)
	}
	return "application: " + e.Message
}

// ParseError indicates a payload that could not be decoded.
type ParseError struct {
	What string
	Err  error
}

func (e ParseError) Error() string {
	return fmt.Errorf("parse %s: %w", e.What, e.Err).Error()
}

func (e ParseError) Unwrap() error {
	return e.Err
}

// Kind labels err for logs and metrics.
func Kind(err error) string {
	if err == nil {
		return "unknown"
	}
	var validation ValidationError
	if errors.As(err, &validation) {
		return "validation"
	}
	var transport TransportError
	if errors.As(err, &transport) {
		return "transport"
	}
	var application ApplicationError
	if errors.As(err, &application) {
		return "application"
	}
	var parse ParseError
	if errors.As(err, &parse) {
		return "parse"
	}
	return "other"
}

// UserMessage converts err into the single string shown to the user.
// fallback is used when err carries no message of its own.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var validation ValidationError
	if errors.As(err, &validation) && validation.Message != "" {
		return validation.Message
	}
	var application ApplicationError
	if errors.As(err, &application) && application.Message != "" {
		return application.Message
	}
	var transport TransportError
	if errors.As(err, &transport) {
		return GenericTransportMessage
	}
	if fallback != "" {
		return fallback
	}
	return "Something went wrong. Please try again."
}
