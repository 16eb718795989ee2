// Package status defines the flat error taxonomy shared by the varbus
// client, server, and wire protocol.
//
// Semantic failures are sentinel errors so callers can classify them with
// errors.Is; transport-level OS errors are passed through wrapped, never
// translated into one of the sentinels. The taxonomy is part of the wire
// contract: every sentinel has a stable numeric code carried in the
// response header, and both sides must agree on the mapping.
package status

import (
	"errors"
	"fmt"
)

// Code is the numeric form of a semantic error as carried in the
// responseValue field of the wire header. Zero means success.
type Code uint32

const (
	// OK indicates the request completed.
	OK Code = iota

	// CodeInvalidArgument is a null or malformed input, detected before I/O.
	CodeInvalidArgument

	// CodeNotFound is a name/type lookup miss or an exhausted iteration.
	CodeNotFound

	// CodeTooBig means the destination capacity cannot hold the payload.
	CodeTooBig

	// CodeOutOfMemory is an allocation failure for an owned buffer.
	CodeOutOfMemory

	// CodeNotSupported means the operation is undefined for the type, or an
	// internal-consistency violation from a misbehaving peer.
	CodeNotSupported

	// CodeRange is a numeric parse outside the representable range.
	CodeRange

	// CodeTimedOut means no response arrived within the transport bound.
	CodeTimedOut

	// codeEnd is the first invalid code. Keep it last.
	codeEnd
)

// Sentinel errors corresponding to the wire codes above.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrTooBig          = errors.New("destination too small for payload")
	ErrOutOfMemory     = errors.New("out of memory")
	ErrNotSupported    = errors.New("operation not supported")
	ErrRange           = errors.New("value out of range")
	ErrTimedOut        = errors.New("timed out")
)

var codeToErr = [...]error{
	OK:                  nil,
	CodeInvalidArgument: ErrInvalidArgument,
	CodeNotFound:        ErrNotFound,
	CodeTooBig:          ErrTooBig,
	CodeOutOfMemory:     ErrOutOfMemory,
	CodeNotSupported:    ErrNotSupported,
	CodeRange:           ErrRange,
	CodeTimedOut:        ErrTimedOut,
}

// Err converts a wire code into its sentinel error. OK yields nil.
// Codes outside the taxonomy (a newer peer, or corruption) are reported
// verbatim so they are never mistaken for success.
func Err(c Code) error {
	if c < codeEnd {
		return codeToErr[c]
	}
	return fmt.Errorf("unknown status code %d", uint32(c))
}

// CodeOf maps an error back to its wire code. Errors outside the taxonomy
// (OS and transport errors) map to CodeNotSupported: the peer can observe
// that something failed but never a fabricated semantic meaning.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrTooBig):
		return CodeTooBig
	case errors.Is(err, ErrOutOfMemory):
		return CodeOutOfMemory
	case errors.Is(err, ErrNotSupported):
		return CodeNotSupported
	case errors.Is(err, ErrRange):
		return CodeRange
	case errors.Is(err, ErrTimedOut):
		return CodeTimedOut
	default:
		return CodeNotSupported
	}
}

// String returns the canonical name of a code, for logs and metrics labels.
func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeTooBig:
		return "TOO_BIG"
	case CodeOutOfMemory:
		return "OUT_OF_MEMORY"
	case CodeNotSupported:
		return "NOT_SUPPORTED"
	case CodeRange:
		return "RANGE"
	case CodeTimedOut:
		return "TIMED_OUT"
	default:
		return fmt.Sprintf("CODE_%d", uint32(c))
	}
}
