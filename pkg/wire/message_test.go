package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/varbus/pkg/status"
)

// ============================================================================
// Layout Tests
// ============================================================================

func TestHeaderLayout(t *testing.T) {
	t.Run("EncodedSizeMatchesConstant", func(t *testing.T) {
		assert.Equal(t, HeaderSize, binary.Size(Message{}))
	})

	t.Run("MagicIsBigEndianVBUS", func(t *testing.T) {
		m := NewMessage(ReqGet, 1234)
		var buf [HeaderSize]byte
		require.NoError(t, m.Encode(buf[:]))
		assert.Equal(t, []byte("VBUS"), buf[:4])
	})
}

// ============================================================================
// Round Trip Tests
// ============================================================================

func TestMessageRoundTrip(t *testing.T) {
	m := NewMessage(ReqSet, 4321)
	m.PeerPID = 99
	m.RequestValue = 7
	m.PayloadLen = 512
	m.Context = 42
	require.NoError(t, m.SetCreds([]uint32{100, 200, 300}))
	require.NoError(t, m.Info.SetName("sensor/temp"))
	require.NoError(t, m.Info.SetFormat("%05d"))
	require.NoError(t, m.Info.SetTags("telemetry,cabin"))
	require.NoError(t, m.Info.SetReaders([]uint32{100}))
	require.NoError(t, m.Info.SetWriters([]uint32{100, 200}))
	m.Info.Handle = 17
	m.Info.ValueType = 3
	m.Info.Scalar = 0xdeadbeef
	m.Info.ValueLen = 4

	var buf [HeaderSize]byte
	require.NoError(t, m.Encode(buf[:]))

	var out Message
	require.NoError(t, out.Decode(buf[:]))

	assert.Equal(t, m, out)
	assert.Equal(t, "sensor/temp", out.Info.GetName())
	assert.Equal(t, "%05d", out.Info.GetFormat())
	assert.Equal(t, []uint32{100, 200, 300}, out.GetCreds())
	assert.Equal(t, []uint32{100, 200}, out.Info.GetWriters())
}

func TestMessageStreamIO(t *testing.T) {
	m := NewMessage(ReqLookup, 1)
	require.NoError(t, m.Info.SetName("a"))

	var stream bytes.Buffer
	require.NoError(t, WriteMessage(&stream, &m))
	assert.Equal(t, HeaderSize, stream.Len())

	var out Message
	require.NoError(t, ReadMessage(&stream, &out))
	assert.Equal(t, m, out)
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestDecodeRejectsForeignRecords(t *testing.T) {
	t.Run("BadMagic", func(t *testing.T) {
		var buf [HeaderSize]byte
		copy(buf[:], "NOPE")
		var out Message
		assert.Error(t, out.Decode(buf[:]))
	})

	t.Run("WrongVersion", func(t *testing.T) {
		m := NewMessage(ReqGet, 1)
		m.Version = Version + 1
		var buf [HeaderSize]byte
		require.NoError(t, m.Encode(buf[:]))
		var out Message
		assert.Error(t, out.Decode(buf[:]))
	})

	t.Run("ShortBuffer", func(t *testing.T) {
		var out Message
		assert.Error(t, out.Decode(make([]byte, HeaderSize-1)))
	})
}

func TestBoundedFields(t *testing.T) {
	t.Run("NameAtCapacityIsTooBig", func(t *testing.T) {
		var vi VarInfo
		// NameMax-1 content is the longest that leaves a terminator.
		long := bytes.Repeat([]byte{'x'}, NameMax)
		assert.ErrorIs(t, vi.SetName(string(long)), status.ErrTooBig)
		assert.NoError(t, vi.SetName(string(long[:NameMax-1])))
	})

	t.Run("ShorterNameClearsStaleBytes", func(t *testing.T) {
		var vi VarInfo
		require.NoError(t, vi.SetName("longer-name"))
		require.NoError(t, vi.SetName("ab"))
		assert.Equal(t, "ab", vi.GetName())
	})

	t.Run("CredOverflowIsTooBig", func(t *testing.T) {
		var m Message
		assert.ErrorIs(t, m.SetCreds(make([]uint32, CredMax+1)), status.ErrTooBig)
	})
}

func TestStatusMapping(t *testing.T) {
	var m Message
	m.SetStatus(status.ErrTooBig)
	assert.ErrorIs(t, m.Status(), status.ErrTooBig)

	m.SetStatus(nil)
	assert.NoError(t, m.Status())
}
