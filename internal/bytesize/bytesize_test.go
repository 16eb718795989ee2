package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		cases := []struct {
			in   string
			want ByteSize
		}{
			{"0", 0},
			{"1024", 1024},
			{"16Ki", 16 * KiB},
			{"16KiB", 16 * KiB},
			{"1Mi", MiB},
			{"2Gi", 2 * GiB},
			{"100KB", 100 * KB},
			{"5MB", 5 * MB},
			{"512B", 512},
			{" 8 Ki ", 8 * KiB},
			{"64ki", 64 * KiB},
		}
		for _, tc := range cases {
			got, err := ParseByteSize(tc.in)
			require.NoError(t, err, "input %q", tc.in)
			assert.Equal(t, tc.want, got, "input %q", tc.in)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, in := range []string{"", "   ", "Ki", "16Xi", "-1Ki", "1.5Mi", "lots"} {
			_, err := ParseByteSize(in)
			assert.Error(t, err, "input %q", in)
		}
	})
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("32Ki")))
	assert.Equal(t, 32*KiB, b)
	assert.Error(t, b.UnmarshalText([]byte("bogus")))
}

func TestString(t *testing.T) {
	assert.Equal(t, "16Ki", (16 * KiB).String())
	assert.Equal(t, "3Mi", (3 * MiB).String())
	assert.Equal(t, "1Gi", GiB.String())
	assert.Equal(t, "100B", ByteSize(100).String())
	// Not a clean multiple of any unit.
	assert.Equal(t, "1025B", ByteSize(1025).String())
}
