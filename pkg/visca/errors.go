// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package visca

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned for packet lengths outside [1,16] and for
	// accessors reaching past the end of a packet.
	ErrOutOfRange = errors.New("visca: out of range")

	// ErrShortBuffer is returned when a destination buffer cannot hold a message.
	ErrShortBuffer = errors.New("visca: buffer too small")

	// ErrIncomplete is returned by ParseMessage when more bytes are needed.
	ErrIncomplete = errors.New("visca: incomplete message")
)

// ProtocolError reports a malformed or unexpected exchange: garbled
// responses, framing faults, or a transport that failed mid-exchange.
type ProtocolError struct {
	Msg string
	Err error
}

// NewProtocolError creates a ProtocolError with a formatted message
func NewProtocolError(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "visca protocol error: " + e.Msg + ": " + e.Err.Error()
	}
	return "visca protocol error: " + e.Msg
}

// Unwrap returns the underlying cause, if any
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ResponseError is a well-formed error response reported by the device.
type ResponseError struct {
	Response Packet
}

// Code returns the device error code (third response byte)
func (e *ResponseError) Code() ErrorCode {
	b, err := e.Response.Byte(2)
	if err != nil {
		return 0
	}
	return ErrorCode(b)
}

// Error implements the error interface
func (e *ResponseError) Error() string {
	return fmt.Sprintf("visca device error: %s (%s)", FormatErrorCode(e.Code()), e.Response)
}

// IsProtocolError reports whether err is, or wraps, a *ProtocolError
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsResponseError reports whether err is, or wraps, a *ResponseError
func IsResponseError(err error) bool {
	var re *ResponseError
	return errors.As(err, &re)
}
