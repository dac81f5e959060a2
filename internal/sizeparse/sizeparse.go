// Package sizeparse resolves the three config-value shapes spec.md §6
// allows for byte-oriented settings: a bare integer byte count, a
// humanize-style suffix string ("10G"), or a percentage ("N%") resolved
// against a caller-supplied base.
package sizeparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Resolve parses value against base (the quantity a "%" suffix is relative
// to, e.g. total tape capacity for tape-keep-free or total disk size for
// max-storage-usage). A bare integer or humanize-suffixed string is
// returned as an absolute byte count, ignoring base.
func Resolve(value string, base int64) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	if strings.HasSuffix(value, "%") {
		pctStr := strings.TrimSuffix(value, "%")
		pct, err := strconv.ParseFloat(pctStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid percentage %q: %w", value, err)
		}
		return int64(pct / 100.0 * float64(base)), nil
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n, nil
	}

	bytes, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", value, err)
	}
	return int64(bytes), nil
}

// ResolveCount parses a verify-files style value: an integer count, or
// "N%" resolved against a total item count (rounded down).
func ResolveCount(value string, total int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	if strings.HasSuffix(value, "%") {
		pctStr := strings.TrimSuffix(value, "%")
		pct, err := strconv.ParseFloat(pctStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid percentage %q: %w", value, err)
		}
		return int(pct / 100.0 * float64(total)), nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q: %w", value, err)
	}
	return n, nil
}

// FormatSize is a thin wrapper over humanize.Bytes for human-readable
// sizes. The CLI's files summary and tape status output do not call it;
// they print raw byte counts.
func FormatSize(n int64) string {
	if n < 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(n))
}
