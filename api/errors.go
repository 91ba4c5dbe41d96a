// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy and structured error type shared by every layer of the engine.

package api

import (
	"errors"
	"fmt"
)

// Sentinel errors. Errors returned by the engine match their sentinel through
// errors.Is.
var (
	ErrHardwareInit        = errors.New("hardware initialization failed")
	ErrDeviceBusy          = errors.New("device port busy")
	ErrTokenExhausted      = errors.New("hardware tokens exhausted")
	ErrRegistrationFailure = errors.New("memory registration failed")
	ErrProtocolViolation   = errors.New("protocol violation")
	ErrUnrecognizedEvent   = errors.New("unrecognized hardware event")
	ErrStaleHandle         = errors.New("stale or invalid handle")
	ErrMalformedPacket     = errors.New("malformed control packet")
	ErrClosed              = errors.New("runtime is closed")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrHardware            = errors.New("hardware operation failed")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeHardwareInit
	ErrCodeDeviceBusy
	ErrCodeTokenExhausted
	ErrCodeRegistrationFailure
	ErrCodeProtocolViolation
	ErrCodeUnrecognizedEvent
	ErrCodeStaleHandle
	ErrCodeMalformedPacket
	ErrCodeClosed
	ErrCodeInvalidArgument
	ErrCodeHardware
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeHardwareInit:        ErrHardwareInit,
	ErrCodeDeviceBusy:          ErrDeviceBusy,
	ErrCodeTokenExhausted:      ErrTokenExhausted,
	ErrCodeRegistrationFailure: ErrRegistrationFailure,
	ErrCodeProtocolViolation:   ErrProtocolViolation,
	ErrCodeUnrecognizedEvent:   ErrUnrecognizedEvent,
	ErrCodeStaleHandle:         ErrStaleHandle,
	ErrCodeMalformedPacket:     ErrMalformedPacket,
	ErrCodeClosed:              ErrClosed,
	ErrCodeInvalidArgument:     ErrInvalidArgument,
	ErrCodeHardware:            ErrHardware,
}

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                  "ok",
	ErrCodeHardwareInit:        "hardware_init",
	ErrCodeDeviceBusy:          "device_busy",
	ErrCodeTokenExhausted:      "token_exhausted",
	ErrCodeRegistrationFailure: "registration_failure",
	ErrCodeProtocolViolation:   "protocol_violation",
	ErrCodeUnrecognizedEvent:   "unrecognized_event",
	ErrCodeStaleHandle:         "stale_handle",
	ErrCodeMalformedPacket:     "malformed_packet",
	ErrCodeClosed:              "closed",
	ErrCodeInvalidArgument:     "invalid_argument",
	ErrCodeHardware:            "hardware",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if s, ok := codeSentinels[e.Code]; ok {
		msg = s.Error() + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Is matches the sentinel associated with the error code.
func (e *Error) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// Unwrap exposes the underlying hardware or library cause.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Errorf creates a structured error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause attaches the lower-level error that triggered e.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// CodeOf extracts the ErrorCode carried by err, or ErrCodeOK when err is nil
// and not structured.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for code, s := range codeSentinels {
		if errors.Is(err, s) {
			return code
		}
	}
	return ErrCodeOK
}
