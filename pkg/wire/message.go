package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/marmos91/varbus/pkg/status"
)

// HeaderSize is the exact encoded size of a Message. The reserved tail
// pads the record to a fixed power-of-two-friendly size so the
// shared-memory layout stays stable when fields are added to the
// reserved space.
const HeaderSize = 448

// VarInfo is the fixed-size variable descriptor embedded in every
// message. On requests it carries creation parameters or lookup keys; on
// responses the server fills in what the operation produced. Query
// requests reuse its fields as search criteria (Name as match text, Tags
// as tag spec, Flags and InstanceID as filters) and query responses
// reuse them as the per-match result.
type VarInfo struct {
	Handle       uint32
	InstanceID   uint32
	GUID         [16]byte
	Flags        uint32
	Notification uint16
	ValueType    uint16
	Scalar       uint64
	ValueLen     uint32
	Name         [NameMax]byte
	Format       [FormatMax]byte
	Tags         [TagMax]byte
	ReaderCount  uint8
	WriterCount  uint8
	_            [2]byte
	Readers      [CredMax]uint32
	Writers      [CredMax]uint32
}

// Message is the wire record. A non-zero PayloadLen means PayloadLen raw
// bytes follow the header in the transport, except on ReqOpen where the
// field carries the requested work-buffer capacity and nothing follows.
type Message struct {
	Magic        uint32
	Version      uint16
	Request      uint16
	ClientPID    uint32
	PeerPID      uint32
	RequestValue uint32
	ResponseValue uint32
	PayloadLen   uint32

	// Context is the opaque server-held cursor token for query
	// continuation and the change serial for watch waits. Zero means
	// "no context" / iteration finished.
	Context uint32

	// CredCount/Creds carry the caller's group-membership set so the
	// server can evaluate permissions without a separate syscall.
	CredCount uint8
	_         [3]byte
	Creds     [CredMax]uint32

	Info VarInfo

	_ [12]byte
}

// ============================================================================
// Bounded string helpers
// ============================================================================

// putBounded copies s into a fixed zero-padded field. Content must be
// strictly shorter than the field so at least one zero byte remains.
func putBounded(dst []byte, s string) error {
	if len(s) >= len(dst) {
		return status.ErrTooBig
	}
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func getBounded(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

// SetName stores a variable name or query match text.
func (vi *VarInfo) SetName(name string) error { return putBounded(vi.Name[:], name) }

// GetName returns the stored name up to its terminator.
func (vi *VarInfo) GetName() string { return getBounded(vi.Name[:]) }

// SetFormat stores the format specification.
func (vi *VarInfo) SetFormat(format string) error { return putBounded(vi.Format[:], format) }

// GetFormat returns the stored format specification.
func (vi *VarInfo) GetFormat() string { return getBounded(vi.Format[:]) }

// SetTags stores the tag specification.
func (vi *VarInfo) SetTags(tags string) error { return putBounded(vi.Tags[:], tags) }

// GetTags returns the stored tag specification.
func (vi *VarInfo) GetTags() string { return getBounded(vi.Tags[:]) }

// SetReaders installs the reader principal set.
func (vi *VarInfo) SetReaders(gids []uint32) error {
	return putCreds(&vi.Readers, &vi.ReaderCount, gids)
}

// SetWriters installs the writer principal set.
func (vi *VarInfo) SetWriters(gids []uint32) error {
	return putCreds(&vi.Writers, &vi.WriterCount, gids)
}

// GetReaders returns the reader principal set.
func (vi *VarInfo) GetReaders() []uint32 { return vi.Readers[:vi.ReaderCount] }

// GetWriters returns the writer principal set.
func (vi *VarInfo) GetWriters() []uint32 { return vi.Writers[:vi.WriterCount] }

func putCreds(dst *[CredMax]uint32, count *uint8, gids []uint32) error {
	if len(gids) > CredMax {
		return status.ErrTooBig
	}
	copy(dst[:], gids)
	for i := len(gids); i < CredMax; i++ {
		dst[i] = 0
	}
	*count = uint8(len(gids))
	return nil
}

// SetCreds installs the caller's group-membership set on the request.
func (m *Message) SetCreds(gids []uint32) error {
	return putCreds(&m.Creds, &m.CredCount, gids)
}

// GetCreds returns the request's credential set.
func (m *Message) GetCreds() []uint32 { return m.Creds[:m.CredCount] }

// Status decodes the response code into the error taxonomy.
func (m *Message) Status() error { return status.Err(status.Code(m.ResponseValue)) }

// SetStatus encodes err into the response code field.
func (m *Message) SetStatus(err error) { m.ResponseValue = uint32(status.CodeOf(err)) }

// ============================================================================
// Encoding
// ============================================================================

// NewMessage returns a request record stamped with the protocol identity
// and the issuing process.
func NewMessage(req RequestType, pid int) Message {
	return Message{
		Magic:     Magic,
		Version:   Version,
		Request:   uint16(req),
		ClientPID: uint32(pid),
	}
}

// Encode serializes the record into dst, which must hold HeaderSize
// bytes. All multi-byte fields are big-endian.
func (m *Message) Encode(dst []byte) error {
	if len(dst) < HeaderSize {
		return status.ErrTooBig
	}
	buf := bytes.NewBuffer(dst[:0])
	if err := binary.Write(buf, binary.BigEndian, m); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	return nil
}

// Decode deserializes a record from src and validates the protocol
// identity. A record whose magic or version disagrees cannot be trusted
// at all, so decoding fails rather than returning a partial message.
func (m *Message) Decode(src []byte) error {
	if len(src) < HeaderSize {
		return fmt.Errorf("short header: %d of %d bytes", len(src), HeaderSize)
	}
	if err := binary.Read(bytes.NewReader(src), binary.BigEndian, m); err != nil {
		return fmt.Errorf("decode header: %w", err)
	}
	if m.Magic != Magic {
		return fmt.Errorf("bad protocol magic %#x", m.Magic)
	}
	if m.Version != Version {
		return fmt.Errorf("unsupported protocol version %d", m.Version)
	}
	return nil
}

// ReadMessage reads one full header from r, completing short reads.
func ReadMessage(r io.Reader, m *Message) error {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	return m.Decode(buf[:])
}

// WriteMessage writes one full header to w.
func WriteMessage(w io.Writer, m *Message) error {
	var buf [HeaderSize]byte
	if err := m.Encode(buf[:]); err != nil {
		return err
	}
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}
