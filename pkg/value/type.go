// Package value implements the varbus tagged value model.
//
// A variable's value is an Object: a type tag plus either an inline scalar
// or a referenced byte buffer for strings and blobs. All per-type behavior
// (string parsing, default formatting, type names) is dispatched through a
// fixed converter table indexed by the type tag, so the tag ordering below
// is load-bearing: it is both the dense table index and the wire encoding
// of the type.
package value

import (
	"strings"

	"github.com/marmos91/varbus/pkg/status"
)

// Type tags every Object and every value carried in a wire VarInfo.
type Type uint16

const (
	// Invalid is the zero tag. No operation accepts it.
	Invalid Type = iota
	UInt16
	Int16
	UInt32
	Int32
	UInt64
	Int64
	Float
	String
	Blob

	// endMarker bounds the converter table. Never a valid value type.
	endMarker
)

// Valid reports whether t can be operated on: strictly between Invalid
// and the end marker.
func (t Type) Valid() bool {
	return t > Invalid && t < endMarker
}

// Scalar reports whether t stores its value inline.
func (t Type) Scalar() bool {
	return t.Valid() && t != String && t != Blob
}

// String returns the canonical type name, or "invalid" for tags outside
// the table.
func (t Type) String() string {
	if !t.Valid() {
		return "invalid"
	}
	return converters[t].name
}

// TypeName renders t's canonical name into a bounded destination. It
// fails with status.ErrTooBig when the name does not fit, leaving dst
// unmodified, and status.ErrNotSupported for tags outside the table.
func TypeName(t Type, dst []byte) (int, error) {
	if !t.Valid() {
		return 0, status.ErrNotSupported
	}
	name := converters[t].name
	if len(dst) < len(name) {
		return 0, status.ErrTooBig
	}
	return copy(dst, name), nil
}

// TypeFromName resolves a case-insensitive type name against the
// converter table. Unknown names yield status.ErrNotFound, empty input
// status.ErrInvalidArgument.
func TypeFromName(name string) (Type, error) {
	if name == "" {
		return Invalid, status.ErrInvalidArgument
	}
	for t := Invalid + 1; t < endMarker; t++ {
		if strings.EqualFold(converters[t].name, name) {
			return t, nil
		}
	}
	return Invalid, status.ErrNotFound
}
