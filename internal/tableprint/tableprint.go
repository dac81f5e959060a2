// Package tableprint renders the grid-bordered tables used by the
// `files`/`restore`/`tape` CLI subcommands, matching the layout
// original_source produced with its tabulate(tablefmt='grid') calls.
package tableprint

import (
	"fmt"
	"io"
	"strings"
)

// Table is a header row plus data rows, all already formatted strings.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Write renders t to w as a grid of ASCII box-drawing characters, column
// widths sized to the longest value (header or cell) in each column.
func Write(w io.Writer, t Table) {
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = len(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	border := gridBorder(widths)
	fmt.Fprintln(w, border)
	fmt.Fprintln(w, gridRow(t.Headers, widths))
	fmt.Fprintln(w, border)
	for _, row := range t.Rows {
		fmt.Fprintln(w, gridRow(row, widths))
	}
	fmt.Fprintln(w, border)
}

func gridBorder(widths []int) string {
	var b strings.Builder
	b.WriteByte('+')
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2))
		b.WriteByte('+')
	}
	return b.String()
}

func gridRow(cells []string, widths []int) string {
	var b strings.Builder
	b.WriteByte('|')
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		fmt.Fprintf(&b, " %-*s |", w, cell)
	}
	return b.String()
}
