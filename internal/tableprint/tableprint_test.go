package tableprint

import (
	"strings"
	"testing"
)

func TestWriteProducesGridBorders(t *testing.T) {
	var buf strings.Builder
	Write(&buf, Table{
		Headers: []string{"Id", "Path"},
		Rows: [][]string{
			{"1", "a.txt"},
			{"2", "some/long/path.bin"},
		},
	})

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines (border, header, border, 2 rows, border), got %d: %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "+-") || !strings.HasSuffix(lines[0], "-+") {
		t.Errorf("expected border line, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "Id") || !strings.Contains(lines[1], "Path") {
		t.Errorf("expected header row, got %q", lines[1])
	}
	for _, l := range lines {
		if len(l) != len(lines[0]) {
			t.Errorf("expected all lines same width, got %q (len %d) vs border len %d", l, len(l), len(lines[0]))
		}
	}
}

func TestWriteEmptyRows(t *testing.T) {
	var buf strings.Builder
	Write(&buf, Table{Headers: []string{"Key", "Value"}})
	out := buf.String()
	if !strings.Contains(out, "Key") || !strings.Contains(out, "Value") {
		t.Errorf("expected headers present even with no rows, got %q", out)
	}
}
