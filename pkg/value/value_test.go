package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/varbus/pkg/status"
)

// ============================================================================
// Type Table Tests
// ============================================================================

func TestTypeTable(t *testing.T) {
	t.Run("EveryValidTypeHasAName", func(t *testing.T) {
		for typ := Invalid + 1; typ < endMarker; typ++ {
			assert.NotEmpty(t, converters[typ].name, "type %d has no table row", typ)
		}
	})

	t.Run("NameBijection", func(t *testing.T) {
		for typ := Invalid + 1; typ < endMarker; typ++ {
			back, err := TypeFromName(typ.String())
			require.NoError(t, err)
			assert.Equal(t, typ, back)
		}
	})

	t.Run("NameLookupIsCaseInsensitive", func(t *testing.T) {
		typ, err := TypeFromName("UINT32")
		require.NoError(t, err)
		assert.Equal(t, UInt32, typ)
	})

	t.Run("UnknownNameIsNotFound", func(t *testing.T) {
		_, err := TypeFromName("decimal")
		assert.ErrorIs(t, err, status.ErrNotFound)
	})

	t.Run("EmptyNameIsInvalidArgument", func(t *testing.T) {
		_, err := TypeFromName("")
		assert.ErrorIs(t, err, status.ErrInvalidArgument)
	})

	t.Run("TypeNameBoundedDestination", func(t *testing.T) {
		var small [3]byte
		_, err := TypeName(UInt16, small[:])
		assert.ErrorIs(t, err, status.ErrTooBig)

		var big [16]byte
		n, err := TypeName(UInt16, big[:])
		require.NoError(t, err)
		assert.Equal(t, "uint16", string(big[:n]))
	})

	t.Run("SentinelTagsAreRejected", func(t *testing.T) {
		assert.False(t, Invalid.Valid())
		assert.False(t, endMarker.Valid())
		_, err := TypeName(Invalid, make([]byte, 16))
		assert.ErrorIs(t, err, status.ErrNotSupported)
	})
}

// ============================================================================
// Parse / Format Round Trips
// ============================================================================

func TestScalarRoundTrip(t *testing.T) {
	cases := []struct {
		typ  Type
		text string
	}{
		{UInt16, "0"},
		{UInt16, "65535"},
		{Int16, "-32768"},
		{Int16, "32767"},
		{UInt32, "4294967295"},
		{Int32, "-2147483648"},
		{UInt64, "18446744073709551615"},
		{Int64, "-9223372036854775808"},
		{Int64, "9223372036854775807"},
	}

	for _, tc := range cases {
		t.Run(tc.typ.String()+"/"+tc.text, func(t *testing.T) {
			obj, err := FromString(tc.text, tc.typ)
			require.NoError(t, err)

			out, err := obj.Format()
			require.NoError(t, err)
			assert.Equal(t, tc.text, out)
		})
	}
}

func TestUnsignedParsing(t *testing.T) {
	t.Run("HexPrefixAccepted", func(t *testing.T) {
		obj, err := FromString("0xff", UInt16)
		require.NoError(t, err)
		assert.Equal(t, uint16(255), obj.Uint16())
	})

	t.Run("LeadingMinusIsRange", func(t *testing.T) {
		_, err := FromString("-1", UInt32)
		assert.ErrorIs(t, err, status.ErrRange)
	})

	t.Run("NonDigitIsRange", func(t *testing.T) {
		_, err := FromString("12x4", UInt32)
		assert.ErrorIs(t, err, status.ErrRange)
	})

	t.Run("OverflowIsRange", func(t *testing.T) {
		_, err := FromString("65536", UInt16)
		assert.ErrorIs(t, err, status.ErrRange)
	})

	// The grammar is digits or 0x-hex only; the other Go integer literal
	// forms must not slip through.
	t.Run("OtherLiteralFormsAreRange", func(t *testing.T) {
		for _, text := range []string{"0b101", "0o17", "1_000", "0x1_f", "0x"} {
			_, err := FromString(text, UInt32)
			assert.ErrorIs(t, err, status.ErrRange, "input %q", text)
		}
	})

	t.Run("UpperHexPrefixAccepted", func(t *testing.T) {
		obj, err := FromString("0X1F", UInt32)
		require.NoError(t, err)
		assert.Equal(t, uint32(31), obj.Uint32())
	})
}

func TestSignedParsing(t *testing.T) {
	t.Run("OverflowIsRangeNeverWrapped", func(t *testing.T) {
		_, err := FromString("32768", Int16)
		assert.ErrorIs(t, err, status.ErrRange)
	})

	t.Run("UnderflowIsRange", func(t *testing.T) {
		_, err := FromString("-32769", Int16)
		assert.ErrorIs(t, err, status.ErrRange)
	})

	t.Run("EmptyInputIsInvalidArgument", func(t *testing.T) {
		_, err := FromString("", Int32)
		assert.ErrorIs(t, err, status.ErrInvalidArgument)
	})
}

func TestFloatFormatting(t *testing.T) {
	obj, err := FromString("1.5", Float)
	require.NoError(t, err)

	out, err := obj.Format()
	require.NoError(t, err)
	assert.Equal(t, "1.500000", out)
}

func TestStringAndBlob(t *testing.T) {
	t.Run("StringKeepsNulTerminatedContent", func(t *testing.T) {
		obj, err := FromString("hello", String)
		require.NoError(t, err)
		assert.Equal(t, 6, obj.Len(), "capacity includes the terminator")
		assert.Equal(t, "hello", obj.Text())
		assert.True(t, obj.Owned())
	})

	t.Run("CopiedSizedTooSmallIsTooBig", func(t *testing.T) {
		_, err := FromString("hello", String, Copied(), Sized(3))
		assert.ErrorIs(t, err, status.ErrTooBig)
	})

	t.Run("CopiedSizedKeepsCapacity", func(t *testing.T) {
		obj, err := FromString("hi", String, Copied(), Sized(32))
		require.NoError(t, err)
		assert.Equal(t, 32, obj.Len())
		assert.Equal(t, "hi", obj.Text())
	})

	t.Run("BlobFormatsAsObject", func(t *testing.T) {
		obj := BlobValue([]byte{1, 2, 3})
		out, err := obj.Format()
		require.NoError(t, err)
		assert.Equal(t, "<object>", out)
	})
}

// ============================================================================
// Copy Tests
// ============================================================================

func TestCopy(t *testing.T) {
	t.Run("ScalarCopy", func(t *testing.T) {
		src := Int32Value(-42)
		var dst Object
		require.NoError(t, Copy(&dst, &src))
		assert.Equal(t, Int32, dst.Type())
		assert.Equal(t, int32(-42), dst.Int32())
	})

	t.Run("CopyIsIdempotent", func(t *testing.T) {
		src := StringValue("payload")
		var dst Object
		require.NoError(t, Copy(&dst, &src))
		first := append([]byte(nil), dst.Bytes()...)

		require.NoError(t, Copy(&dst, &src))
		assert.Equal(t, first, dst.Bytes())
	})

	t.Run("StringCopyAllocatesExactCapacity", func(t *testing.T) {
		src := StringValue("abc")
		var dst Object
		require.NoError(t, Copy(&dst, &src))
		assert.Equal(t, src.Len(), dst.Len())
		assert.True(t, dst.Owned())
		assert.Equal(t, "abc", dst.Text())
	})

	t.Run("BorrowedDestinationReused", func(t *testing.T) {
		src := BlobValue([]byte{9, 8, 7})
		backing := make([]byte, 8)
		dst := BorrowBlob(backing)
		require.NoError(t, Copy(&dst, &src))
		assert.False(t, dst.Owned())
		assert.Equal(t, []byte{9, 8, 7}, backing[:3])
	})

	t.Run("UndersizedDestinationIsTooBigAndUnmodified", func(t *testing.T) {
		src := BlobValue([]byte{1, 2, 3, 4})
		backing := []byte{0xaa, 0xaa}
		dst := BorrowBlob(backing)
		err := Copy(&dst, &src)
		assert.ErrorIs(t, err, status.ErrTooBig)
		assert.Equal(t, []byte{0xaa, 0xaa}, backing)
	})

	t.Run("NilPayloadSourceIsNotSupported", func(t *testing.T) {
		src := Object{typ: Blob}
		var dst Object
		assert.ErrorIs(t, Copy(&dst, &src), status.ErrNotSupported)
	})

	t.Run("NilArgumentsAreInvalid", func(t *testing.T) {
		assert.ErrorIs(t, Copy(nil, nil), status.ErrInvalidArgument)
	})
}

// ============================================================================
// Bounded Render Tests
// ============================================================================

func TestRender(t *testing.T) {
	t.Run("FitsExactly", func(t *testing.T) {
		obj := UInt32Value(1234)
		dst := make([]byte, 4)
		n, err := obj.Render(dst)
		require.NoError(t, err)
		assert.Equal(t, "1234", string(dst[:n]))
	})

	t.Run("TruncationIsTooBig", func(t *testing.T) {
		obj := UInt32Value(1234)
		dst := []byte{'x', 'y'}
		_, err := obj.Render(dst)
		assert.ErrorIs(t, err, status.ErrTooBig)
		assert.Equal(t, "xy", string(dst))
	})
}
