package wire

import (
	"bytes"

	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/value"
)

// StageValue places obj on a message: scalar bit patterns ride in the
// fixed header, string and blob content is copied into the work buffer
// and announced through PayloadLen. Strings travel with their NUL
// terminator so the receiver can probe content length without a second
// field. A payload that does not fit strictly inside the work buffer
// fails ErrTooBig with the message's payload fields untouched except
// for the declared type.
func StageValue(m *Message, obj *value.Object, workBuf []byte) error {
	if obj == nil {
		return status.ErrInvalidArgument
	}
	t := obj.Type()
	if !t.Valid() {
		return status.ErrNotSupported
	}

	m.Info.ValueType = uint16(t)
	m.Info.ValueLen = uint32(obj.Len())

	if t.Scalar() {
		m.Info.Scalar = obj.Bits()
		m.PayloadLen = 0
		return nil
	}

	if obj.Bytes() == nil {
		return status.ErrNotSupported
	}

	if t == value.String {
		text := obj.Text()
		if len(text)+1 > len(workBuf) {
			return status.ErrTooBig
		}
		n := copy(workBuf, text)
		workBuf[n] = 0
		m.PayloadLen = uint32(n + 1)
		return nil
	}

	content := obj.Bytes()
	if len(content) > len(workBuf) {
		return status.ErrTooBig
	}
	copy(workBuf, content)
	m.PayloadLen = uint32(len(content))
	return nil
}

// TakeValue interprets a message's staged value. Scalars come out of
// the header. For strings and blobs the payload sits in the work
// buffer: a dst that already references a buffer keeps it, failing
// ErrTooBig when the content does not fit, and otherwise a fresh owned
// buffer sized to the payload is allocated. A declared type that does
// not match dst's preset type, a payload arriving for a scalar
// declaration, or a string payload with no terminator is
// ErrNotSupported: well-formed peers produce none of these.
func TakeValue(dst *value.Object, m *Message, workBuf []byte) error {
	if dst == nil {
		return status.ErrInvalidArgument
	}
	declared := value.Type(m.Info.ValueType)
	if !declared.Valid() {
		return status.ErrNotSupported
	}
	if dst.Type().Valid() && dst.Type() != declared {
		return status.ErrNotSupported
	}

	if declared.Scalar() {
		if m.PayloadLen != 0 {
			return status.ErrNotSupported
		}
		src := scalarObject(declared, m.Info.Scalar)
		return value.Copy(dst, &src)
	}

	if m.PayloadLen == 0 || int(m.PayloadLen) > len(workBuf) {
		return status.ErrNotSupported
	}
	payload := workBuf[:m.PayloadLen]

	var src value.Object
	if declared == value.String {
		// Content length probe: the terminator decides, PayloadLen only
		// bounds the buffer.
		if i := bytes.IndexByte(payload, 0); i < 0 {
			return status.ErrNotSupported
		}
		src = value.BorrowString(payload)
	} else {
		src = value.BorrowBlob(payload)
	}
	return value.Copy(dst, &src)
}

func scalarObject(t value.Type, bits uint64) value.Object {
	switch t {
	case value.UInt16:
		return value.UInt16Value(uint16(bits))
	case value.Int16:
		return value.Int16Value(int16(uint16(bits)))
	case value.UInt32:
		return value.UInt32Value(uint32(bits))
	case value.Int32:
		return value.Int32Value(int32(uint32(bits)))
	case value.UInt64:
		return value.UInt64Value(bits)
	case value.Int64:
		return value.Int64Value(int64(bits))
	case value.Float:
		return value.FloatFromBits(uint32(bits))
	default:
		return value.Object{}
	}
}
