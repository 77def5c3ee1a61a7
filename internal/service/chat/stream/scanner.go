package stream

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxLineSize is the per-line cap for the SSE scanner (1 MiB). The bufio
// default of 64 KiB is too small for large tool-input deltas.
const maxLineSize = 1 * 1024 * 1024

// Scanner frames an SSE byte stream into data payloads. Lines not prefixed
// "data:" (event names, comments, blanks between records) are skipped; the
// "[DONE]" sentinel ends the stream.
type Scanner struct {
	scanner *bufio.Scanner
}

// NewScanner creates a Scanner over the given reader.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Scanner{scanner: s}
}

// Next returns the next data payload. Multiple consecutive "data:" lines of
// one record are joined with newlines. Returns io.EOF at end of stream or
// on the [DONE] sentinel.
func (s *Scanner) Next() (string, error) {
	var dataLines []string

	for s.scanner.Scan() {
		line := s.scanner.Text()

		// Blank line ends a record; flush anything accumulated.
		if line == "" {
			if len(dataLines) > 0 {
				return strings.Join(dataLines, "\n"), nil
			}
			continue
		}

		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return "", io.EOF
		}
		dataLines = append(dataLines, data)
	}

	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("sse read: %w", err)
	}

	if len(dataLines) > 0 {
		return strings.Join(dataLines, "\n"), nil
	}
	return "", io.EOF
}
