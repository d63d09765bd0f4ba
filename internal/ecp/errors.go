// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ecp

import (
	"errors"
	"fmt"

	"github.com/ManuGH/rokutuner/internal/domain"
)

// ErrCircuitOpen is returned without contacting the device while its breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StatusError is a non-2xx ECP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// errMalformedResponse marks a reply the device sent but we could not parse.
var errMalformedResponse = errors.New("malformed response")

// countsAgainstDevice reports whether err means the device is unhealthy:
// a transport failure or a 5xx. A 4xx or an unparsable body still proves
// the device answered.
func countsAgainstDevice(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return !errors.Is(err, errMalformedResponse)
}

// RequestError describes one failed ECP call. Every failure classifies as
// domain.ErrDeviceUnreachable.
type RequestError struct {
	Device    string
	Operation string
	Status    int
	Err       error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("ecp %s %s: %v", e.Device, e.Operation, domain.ErrDeviceUnreachable)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrDeviceUnreachable}
	}
	return []error{domain.ErrDeviceUnreachable, e.Err}
}
