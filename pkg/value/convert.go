package value

import (
	"errors"
	"strconv"

	"github.com/marmos91/varbus/pkg/status"
)

// ============================================================================
// Converter Table
// ============================================================================

// converter bundles the per-type operations. A nil parse or format entry
// means the operation is not installed for the type and dispatch fails
// with status.ErrNotSupported. The table is dense and indexed by Type, so
// adding a type without a table row is caught by the bounds assertion in
// the package tests.
type converter struct {
	name   string
	parse  func(o *Object, text string) error
	format func(o *Object) (string, error)
}

var converters = [endMarker]converter{
	UInt16: {name: "uint16", parse: parseUnsigned(16, UInt16), format: formatUnsigned},
	Int16:  {name: "int16", parse: parseSigned(16, Int16), format: formatSigned},
	UInt32: {name: "uint32", parse: parseUnsigned(32, UInt32), format: formatUnsigned},
	Int32:  {name: "int32", parse: parseSigned(32, Int32), format: formatSigned},
	UInt64: {name: "uint64", parse: parseUnsigned(64, UInt64), format: formatUnsigned},
	Int64:  {name: "int64", parse: parseSigned(64, Int64), format: formatSigned},
	Float:  {name: "float", parse: parseFloat, format: formatFloat},
	String: {name: "string", parse: parseString, format: formatString},
	Blob:   {name: "blob", parse: parseBlob, format: formatBlob},
}

// ============================================================================
// Parsing (string → value)
// ============================================================================

// Option adjusts FromString behavior.
type Option func(*createOptions)

type createOptions struct {
	copied   bool
	capacity int
}

// Copied forces String/Blob values into a freshly owned buffer instead of
// one sized exactly to the content. Combined with Sized, the buffer gets
// the requested capacity and the parse fails with status.ErrTooBig when
// the content does not fit.
func Copied() Option {
	return func(o *createOptions) { o.copied = true }
}

// Sized presets the capacity of the owned buffer allocated by Copied.
func Sized(capacity int) Option {
	return func(o *createOptions) { o.capacity = capacity }
}

// FromString parses text according to t's grammar and returns the
// resulting object.
//
// Unsigned integer types accept decimal digits or a 0x-prefixed hex form
// and nothing else; in particular a leading minus sign is out of range
// (status.ErrRange), never a negative value. Signed types parse decimal
// only. Overflow and malformed numerics are status.ErrRange, a type with
// no installed parser is status.ErrNotSupported, and empty input is
// status.ErrInvalidArgument.
func FromString(text string, t Type, opts ...Option) (Object, error) {
	if text == "" && t != String {
		return Object{}, status.ErrInvalidArgument
	}
	if !t.Valid() {
		return Object{}, status.ErrNotSupported
	}
	conv := converters[t]
	if conv.parse == nil {
		return Object{}, status.ErrNotSupported
	}

	var co createOptions
	for _, opt := range opts {
		opt(&co)
	}

	var obj Object
	obj.typ = t
	if co.copied && co.capacity > 0 && !t.Scalar() {
		obj.data = make([]byte, co.capacity)
		obj.owned = true
	}
	if err := conv.parse(&obj, text); err != nil {
		return Object{}, err
	}
	return obj, nil
}

// numErr maps strconv failures onto the taxonomy. Both overflow and
// malformed digits report status.ErrRange: the caller asked for a value
// of the type and did not get one representable in it.
func numErr(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return status.ErrRange
	}
	return status.ErrInvalidArgument
}

func parseUnsigned(bits int, t Type) func(*Object, string) error {
	return func(o *Object, text string) error {
		// Only plain digits or an explicit 0x prefix. An explicit base
		// keeps ParseUint from also taking 0b/0o forms and underscore
		// separators, and it rejects signs outright.
		digits, base := text, 10
		if len(text) > 2 && (text[:2] == "0x" || text[:2] == "0X") {
			digits, base = text[2:], 16
		}
		v, err := strconv.ParseUint(digits, base, bits)
		if err != nil {
			return numErr(err)
		}
		o.typ = t
		o.scalar = v
		return nil
	}
}

func parseSigned(bits int, t Type) func(*Object, string) error {
	return func(o *Object, text string) error {
		v, err := strconv.ParseInt(text, 10, bits)
		if err != nil {
			return numErr(err)
		}
		o.typ = t
		switch bits {
		case 16:
			o.scalar = uint64(uint16(int16(v)))
		case 32:
			o.scalar = uint64(uint32(int32(v)))
		default:
			o.scalar = uint64(v)
		}
		return nil
	}
}

func parseFloat(o *Object, text string) error {
	v, err := strconv.ParseFloat(text, 32)
	if err != nil {
		return numErr(err)
	}
	*o = FloatValue(float32(v))
	return nil
}

// parseString stores the content NUL-terminated. A preset buffer (Copied
// with Sized) is filled in place and must hold content plus terminator.
func parseString(o *Object, text string) error {
	need := len(text) + 1
	if o.data != nil {
		if len(o.data) < need {
			return status.ErrTooBig
		}
	} else {
		o.data = make([]byte, need)
		o.owned = true
	}
	n := copy(o.data, text)
	o.data[n] = 0
	return nil
}

// parseBlob stores the raw bytes of text with no terminator.
func parseBlob(o *Object, text string) error {
	if o.data != nil {
		if len(o.data) < len(text) {
			return status.ErrTooBig
		}
	} else {
		o.data = make([]byte, len(text))
		o.owned = true
	}
	copy(o.data, text)
	return nil
}

// ============================================================================
// Formatting (value → string)
// ============================================================================

// Format renders the object with its type's default format: %d for
// signed, %u for unsigned, %f for float, the content for strings, and
// the literal "<object>" for blobs. Tags outside the table, or with no
// installed formatter, fail status.ErrNotSupported.
func (o *Object) Format() (string, error) {
	if !o.typ.Valid() {
		return "", status.ErrNotSupported
	}
	conv := converters[o.typ]
	if conv.format == nil {
		return "", status.ErrNotSupported
	}
	return conv.format(o)
}

// Render writes the default rendering into a bounded destination and
// returns the byte count. A rendering that would truncate fails with
// status.ErrTooBig and leaves dst unmodified.
func (o *Object) Render(dst []byte) (int, error) {
	s, err := o.Format()
	if err != nil {
		return 0, err
	}
	if len(dst) < len(s) {
		return 0, status.ErrTooBig
	}
	return copy(dst, s), nil
}

func formatSigned(o *Object) (string, error) {
	switch o.typ {
	case Int16:
		return strconv.FormatInt(int64(o.Int16()), 10), nil
	case Int32:
		return strconv.FormatInt(int64(o.Int32()), 10), nil
	default:
		return strconv.FormatInt(o.Int64(), 10), nil
	}
}

func formatUnsigned(o *Object) (string, error) {
	switch o.typ {
	case UInt16:
		return strconv.FormatUint(uint64(o.Uint16()), 10), nil
	case UInt32:
		return strconv.FormatUint(uint64(o.Uint32()), 10), nil
	default:
		return strconv.FormatUint(o.Uint64(), 10), nil
	}
}

// formatFloat matches C's %f default: fixed notation, six decimals.
func formatFloat(o *Object) (string, error) {
	return strconv.FormatFloat(float64(o.Float()), 'f', 6, 32), nil
}

func formatString(o *Object) (string, error) {
	if o.data == nil {
		return "", status.ErrNotSupported
	}
	return o.Text(), nil
}

func formatBlob(o *Object) (string, error) {
	return "<object>", nil
}
