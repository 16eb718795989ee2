package value

import (
	"bytes"
	"math"

	"github.com/marmos91/varbus/pkg/status"
)

// Object is a single typed value.
//
// Scalar types live inline in the scalar field as a bit pattern. String
// and Blob reference a byte buffer whose full length is the declared
// capacity: for strings that capacity includes the NUL terminator the
// wire protocol requires. Whether the buffer was supplied by the caller
// or allocated on the object's behalf is an explicit property (Owned),
// not a nil-pointer convention: only owned buffers are replaced by Copy,
// borrowed ones are written in place or rejected with ErrTooBig.
type Object struct {
	typ    Type
	scalar uint64
	data   []byte
	owned  bool
}

// Scalar sizes in bytes, indexed by type via the converter table.
const (
	sizeU16 = 2
	sizeU32 = 4
	sizeU64 = 8
	sizeF32 = 4
)

// ============================================================================
// Constructors
// ============================================================================

// Int16Value and friends build scalar objects. The bit pattern is stored
// widened to 64 bits; accessors narrow it back.

func UInt16Value(v uint16) Object { return Object{typ: UInt16, scalar: uint64(v)} }
func Int16Value(v int16) Object   { return Object{typ: Int16, scalar: uint64(uint16(v))} }
func UInt32Value(v uint32) Object { return Object{typ: UInt32, scalar: uint64(v)} }
func Int32Value(v int32) Object   { return Object{typ: Int32, scalar: uint64(uint32(v))} }
func UInt64Value(v uint64) Object { return Object{typ: UInt64, scalar: v} }
func Int64Value(v int64) Object   { return Object{typ: Int64, scalar: uint64(v)} }
func FloatValue(v float32) Object { return Object{typ: Float, scalar: uint64(math.Float32bits(v))} }

// FloatFromBits builds a Float object from a raw IEEE-754 bit pattern,
// as carried on the wire.
func FloatFromBits(bits uint32) Object { return Object{typ: Float, scalar: uint64(bits)} }

// StringValue allocates an owned buffer holding s plus its NUL terminator.
func StringValue(s string) Object {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return Object{typ: String, data: buf, owned: true}
}

// BlobValue allocates an owned buffer holding a copy of b.
func BlobValue(b []byte) Object {
	buf := make([]byte, len(b))
	copy(buf, b)
	return Object{typ: Blob, data: buf, owned: true}
}

// BorrowString wraps a caller-supplied buffer as a String object without
// copying. The buffer's full length is the declared capacity and must
// leave room for the NUL terminator of whatever content is stored.
func BorrowString(buf []byte) Object {
	return Object{typ: String, data: buf}
}

// BorrowBlob wraps a caller-supplied buffer as a Blob object without
// copying.
func BorrowBlob(buf []byte) Object {
	return Object{typ: Blob, data: buf}
}

// ============================================================================
// Accessors
// ============================================================================

// Type returns the object's type tag.
func (o *Object) Type() Type { return o.typ }

// Owned reports whether the referenced buffer was allocated on the
// object's behalf. Always false for scalar types.
func (o *Object) Owned() bool { return o.owned }

// Len returns the declared length: the buffer capacity for String/Blob
// (including the string NUL), the scalar size otherwise, and 0 for
// invalid tags.
func (o *Object) Len() int {
	switch o.typ {
	case String, Blob:
		return len(o.data)
	case UInt16, Int16:
		return sizeU16
	case UInt32, Int32, Float:
		return sizeU32
	case UInt64, Int64:
		return sizeU64
	default:
		return 0
	}
}

// Bits returns the raw 64-bit scalar pattern. Zero for String/Blob.
func (o *Object) Bits() uint64 { return o.scalar }

func (o *Object) Uint16() uint16  { return uint16(o.scalar) }
func (o *Object) Int16() int16    { return int16(uint16(o.scalar)) }
func (o *Object) Uint32() uint32  { return uint32(o.scalar) }
func (o *Object) Int32() int32    { return int32(uint32(o.scalar)) }
func (o *Object) Uint64() uint64  { return o.scalar }
func (o *Object) Int64() int64    { return int64(o.scalar) }
func (o *Object) Float() float32  { return math.Float32frombits(uint32(o.scalar)) }

// Bytes returns the referenced buffer for String/Blob objects, nil for
// scalars. The slice aliases the object's storage.
func (o *Object) Bytes() []byte { return o.data }

// Text returns the string content up to the NUL terminator. For a string
// buffer with no terminator the whole buffer is the content.
func (o *Object) Text() string {
	if o.typ != String {
		return ""
	}
	if i := bytes.IndexByte(o.data, 0); i >= 0 {
		return string(o.data[:i])
	}
	return string(o.data)
}

// contentLen is the number of payload bytes Copy must transfer: string
// content plus terminator, or the whole blob capacity.
func (o *Object) contentLen() int {
	if o.typ == String {
		if i := bytes.IndexByte(o.data, 0); i >= 0 {
			return i + 1
		}
		return len(o.data)
	}
	return len(o.data)
}

// ============================================================================
// Copy
// ============================================================================

// Copy duplicates src into dst.
//
// Scalars copy tag and bit pattern; any buffer dst previously referenced
// is dropped. For String/Blob the destination buffer is reused when dst
// already references one (failing status.ErrTooBig, with dst unmodified,
// when src's content does not fit); otherwise a fresh owned buffer of
// exactly src.Len() bytes is allocated. A String/Blob src with a nil
// buffer is an internal-consistency violation and fails
// status.ErrNotSupported: it cannot occur from a well-formed peer.
func Copy(dst, src *Object) error {
	if dst == nil || src == nil {
		return status.ErrInvalidArgument
	}
	if !src.typ.Valid() {
		return status.ErrNotSupported
	}

	if src.typ.Scalar() {
		dst.typ = src.typ
		dst.scalar = src.scalar
		dst.data = nil
		dst.owned = false
		return nil
	}

	if src.data == nil {
		return status.ErrNotSupported
	}

	need := src.contentLen()
	if dst.data != nil {
		if len(dst.data) < need {
			return status.ErrTooBig
		}
	} else {
		dst.data = make([]byte, src.Len())
		dst.owned = true
	}
	dst.typ = src.typ
	dst.scalar = 0
	copy(dst.data, src.data[:need])
	return nil
}
