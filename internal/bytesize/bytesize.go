// Package bytesize parses and prints human-readable byte sizes for
// configuration fields like work_buffer_size.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes. It unmarshals from plain numbers
// ("16384"), binary suffixes ("16Ki", "1MiB"), and decimal suffixes
// ("100KB").
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB

	KiB ByteSize = 1 << 10
	MiB ByteSize = 1 << 20
	GiB ByteSize = 1 << 30
)

var suffixes = map[string]ByteSize{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"m":   MB,
	"mb":  MB,
	"g":   GB,
	"gb":  GB,
	"ki":  KiB,
	"kib": KiB,
	"mi":  MiB,
	"mib": MiB,
	"gi":  GiB,
	"gib": GiB,
}

// ParseByteSize parses a human-readable size. The numeric part must be
// a non-negative integer; the suffix is case-insensitive.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	split := len(s)
	for split > 0 && !isDigit(s[split-1]) {
		split--
	}
	num := strings.TrimSpace(s[:split])
	unit := strings.ToLower(strings.TrimSpace(s[split:]))

	mult, ok := suffixes[unit]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit %q in %q", unit, s)
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	return ByteSize(n) * mult, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// UnmarshalText lets ByteSize fields decode directly from config text.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// String renders the size with the largest binary unit that divides it
// cleanly, falling back to bytes.
func (b ByteSize) String() string {
	for _, u := range []struct {
		mult ByteSize
		name string
	}{{GiB, "Gi"}, {MiB, "Mi"}, {KiB, "Ki"}} {
		if b >= u.mult && b%u.mult == 0 {
			return fmt.Sprintf("%d%s", uint64(b/u.mult), u.name)
		}
	}
	return fmt.Sprintf("%dB", uint64(b))
}

// Int returns the size as an int for buffer allocation.
func (b ByteSize) Int() int { return int(b) }
