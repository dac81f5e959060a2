// Package logrotate implements `log rotate` and `log remove_debug`:
// gzip-compress every *.log file in a directory (original_source's
// RotatingFileHandler + gzip namer/rotator), and strip debug-level lines
// from the active logs in place (original_source's remove_debug).
package logrotate

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Rotate gzip-compresses every *.log file under dir into <name>.gz and
// removes the uncompressed original, matching original_source's
// rotator/namer pair.
func Rotate(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var rotated []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := gzipFile(path, path+".gz"); err != nil {
			return rotated, err
		}
		if err := os.Remove(path); err != nil {
			return rotated, err
		}
		rotated = append(rotated, entry.Name())
	}
	return rotated, nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	defer gw.Close()

	_, err = io.Copy(gw, in)
	return err
}

// RemoveDebug strips every debug-level line from each *.log file under
// dir, in place, matching original_source's remove_debug. A line counts
// as debug-level when it contains "[DEBUG  ]" (the original's format),
// "[debug]" (internal/logging's text format) or `"level":"debug"`
// (internal/logging's JSON format).
func RemoveDebug(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var cleaned []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := stripDebugLines(path); err != nil {
			return cleaned, err
		}
		cleaned = append(cleaned, entry.Name())
	}
	return cleaned, nil
}

func stripDebugLines(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	var kept []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "[DEBUG  ]") && !strings.Contains(line, "[debug]") && !strings.Contains(line, `"level":"debug"`) {
			kept = append(kept, line)
		}
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return err
	}

	var b strings.Builder
	for _, line := range kept {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
