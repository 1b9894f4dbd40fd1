package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"KIB", 1 << 10},
	{"MIB", 1 << 20},
	{"GIB", 1 << 30},
	{"KB", 1_000},
	{"MB", 1_000_000},
	{"GB", 1_000_000_000},
}

// ParseByteSize converts values like "10MB", "512KiB", or "1048576"
// into a byte count. Decimal suffixes are powers of ten, binary
// suffixes powers of two; a bare number is bytes. Underscores are
// allowed as digit separators.
func ParseByteSize(s string) (int64, error) {
	in := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	if in == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := int64(1)
	for _, sz := range sizeSuffixes {
		if strings.HasSuffix(in, sz.suffix) {
			mult = sz.mult
			in = strings.TrimSpace(strings.TrimSuffix(in, sz.suffix))
			break
		}
	}

	n, err := strconv.ParseInt(in, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n > math.MaxInt64/mult {
		return 0, fmt.Errorf("size overflow %q", s)
	}
	return n * mult, nil
}
