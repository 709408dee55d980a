package ldapwire

import (
	"errors"
	"fmt"

	"github.com/netresearch/ldap-wire-go/internal/ber"
)

// Sentinel errors for the engine's failure taxonomy. All of them work with
// errors.Is through whatever wrapping the call path adds.
var (
	// ErrMalformedElement is returned when bytes on the wire cannot be
	// parsed as a well-formed BER element. Always connection-fatal.
	ErrMalformedElement = ber.ErrMalformedElement

	// ErrMalformedMessage is returned when a well-formed element is not a
	// valid LDAP message envelope. Always connection-fatal.
	ErrMalformedMessage = errors.New("ldapwire: malformed message envelope")

	// ErrControlDecoding is returned when a specific control or result
	// value is structurally invalid. Scoped to that control: it never
	// aborts an otherwise-successful response unless the caller asked for
	// that control explicitly.
	ErrControlDecoding = errors.New("ldapwire: control value could not be decoded")

	// ErrConnect is returned when a connection cannot be established or
	// replaced. Fatal to the in-flight attempt; never retried a third time.
	ErrConnect = errors.New("ldapwire: connection could not be established")

	// ErrPoolExhausted is returned when no connection becomes available
	// within the checkout timeout. Surfaced to the caller, not retried.
	ErrPoolExhausted = errors.New("ldapwire: connection pool exhausted")

	// ErrPoolClosed is returned when using a closed pool or client.
	ErrPoolClosed = errors.New("ldapwire: connection pool is closed")

	// ErrTimeout is returned when an awaited result never arrived. Treated
	// as connection-fatal and triggers the one-retry path.
	ErrTimeout = errors.New("ldapwire: operation timed out")

	// ErrCancelled is returned when the caller cancelled the operation.
	// Never retried.
	ErrCancelled = errors.New("ldapwire: operation cancelled")

	// ErrConnectionDefunct is returned when sending on a connection that
	// suffered an unrecoverable I/O or decode error.
	ErrConnectionDefunct = errors.New("ldapwire: connection is defunct")

	// ErrConnectionClosed is returned when a connection was closed while
	// requests were outstanding.
	ErrConnectionClosed = errors.New("ldapwire: connection closed")
)

// Error is an enhanced error carrying operation context for debugging.
type Error struct {
	// Op is the operation name (e.g., "Search", "Bind", "Checkout").
	Op string
	// Server is the address of the server involved.
	Server string
	// Code is the LDAP result code, if the failure came from a Result.
	Code ResultCode
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("ldapwire %s failed on server %q: %v", e.Op, e.Server, e.Err)
	}
	return fmt.Sprintf("ldapwire %s failed: %v", e.Op, e.Err)
}

// Unwrap implements the Go 1.13+ error unwrapping interface.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches other *Error values by operation and code, and otherwise
// defers to the wrapped error so sentinel comparisons keep working.
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Op == other.Op && e.Code == other.Code
	}
	return errors.Is(e.Err, target)
}

func opError(op, server string, err error) *Error {
	return &Error{Op: op, Server: server, Err: err}
}
