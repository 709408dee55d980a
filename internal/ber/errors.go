package ber

import (
	"errors"
	"fmt"
)

// Decoder errors. Every structural failure returned by Decode or ReadElement
// matches ErrMalformedElement via errors.Is; the more specific sentinels
// describe what went wrong.
var (
	// ErrMalformedElement is the umbrella error for any byte sequence that
	// cannot be parsed as a well-formed BER element.
	ErrMalformedElement = errors.New("ber: malformed element")

	// ErrUnexpectedEOF is returned when the data ends in the middle of an
	// element.
	ErrUnexpectedEOF = errors.New("ber: unexpected end of data")

	// ErrInvalidLength is returned when a length header is malformed: a
	// length-of-length of zero, a length-of-length wider than supported, or
	// the indefinite form.
	ErrInvalidLength = errors.New("ber: invalid length encoding")

	// ErrLengthMismatch is returned when a constructed element's declared
	// length does not match the bytes consumed by its sub-elements.
	ErrLengthMismatch = errors.New("ber: sequence length mismatch")

	// ErrInvalidBoolean is returned when a boolean value does not have
	// exactly one content byte.
	ErrInvalidBoolean = errors.New("ber: invalid boolean encoding")

	// ErrInvalidInteger is returned when an integer value is empty or wider
	// than 64 bits.
	ErrInvalidInteger = errors.New("ber: invalid integer encoding")

	// ErrTrailingData is returned by Decode when valid bytes follow the
	// first complete element.
	ErrTrailingData = errors.New("ber: trailing data after element")
)

// DecodeError carries the byte offset at which decoding failed.
type DecodeError struct {
	Offset  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ber: decode error at offset %d: %s: %v", e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("ber: decode error at offset %d: %s", e.Offset, e.Message)
}

// Unwrap returns the specific sentinel for the failure.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes every DecodeError match ErrMalformedElement.
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformedElement
}

func newDecodeError(offset int, message string, err error) *DecodeError {
	return &DecodeError{Offset: offset, Message: message, Err: err}
}
