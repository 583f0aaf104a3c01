package stream

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxLineSize caps a single upstream line at 1 MB. The default bufio.Scanner
// limit of 64 KiB is too small for long completions; lines beyond the cap
// surface as a wrapped bufio.ErrTooLong from Next.
const maxLineSize = 1 * 1024 * 1024

// doneSentinel is the literal payload OpenAI-compatible endpoints send as
// their final SSE event.
const doneSentinel = "[DONE]"

// SSEScanner reads Server-Sent Events from an upstream response body.
// It skips comments and blank lines, joins multi-line data fields, and maps
// the [DONE] sentinel to io.EOF.
type SSEScanner struct {
	scanner *bufio.Scanner
}

// NewSSEScanner wraps reader in an SSEScanner with a maxLineSize line buffer.
func NewSSEScanner(reader io.Reader) *SSEScanner {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &SSEScanner{scanner: scanner}
}

// Next returns the next event's data payload. Consecutive `data:` lines
// belonging to one event are joined with newlines. Next returns io.EOF when
// the stream ends or the [DONE] sentinel arrives, and a wrapped scanner error
// if the underlying read fails.
func (s *SSEScanner) Next() (string, error) {
	var dataLines []string

	for s.scanner.Scan() {
		line := s.scanner.Text()

		// Blank line terminates the current event.
		if line == "" {
			if len(dataLines) > 0 {
				return strings.Join(dataLines, "\n"), nil
			}
			continue
		}

		// SSE comment.
		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == doneSentinel {
				return "", io.EOF
			}
			dataLines = append(dataLines, data)
			continue
		}

		// Other fields (event:, id:, retry:) are not used by any upstream
		// this server talks to.
	}

	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("SSE scanner error: %w", err)
	}

	// Data lines at stream end without a trailing blank line still count.
	if len(dataLines) > 0 {
		return strings.Join(dataLines, "\n"), nil
	}
	return "", io.EOF
}
