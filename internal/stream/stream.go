// Package stream normalizes the incremental response formats spoken by the
// upstream LLM backends into plain accumulated text. Three transport framings
// are supported: concatenated JSON objects (Ollama, Bedrock), newline-delimited
// JSON (Cloudflare, Google Vertex), and Server-Sent Events (OpenAI-compatible
// endpoints). The framing is selected by adapter configuration, never
// auto-detected.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Framing identifies the transport framing of an upstream response body.
type Framing string

const (
	// FramingConcatJSON is consecutive JSON objects with no delimiter,
	// e.g. `{"response":"a"}{"response":"b","done":true}`.
	FramingConcatJSON Framing = "concat-json"
	// FramingNDJSON is one JSON object per line.
	FramingNDJSON Framing = "ndjson"
	// FramingSSE is Server-Sent Events with `data:` payload lines.
	FramingSSE Framing = "sse"
)

const (
	defaultTextField = "response"
	defaultDoneField = "done"
)

// Options selects the framing and field names used while normalizing one
// upstream body. Zero values fall back to the Ollama-style `response`/`done`
// field pair.
type Options struct {
	Framing   Framing
	TextField string // JSON field carrying the text delta; default "response"
	DoneField string // JSON field signalling completion when truthy; default "done"
}

// Delta is one normalized text fragment decoded from an upstream frame.
// Final marks the frame whose done field was truthy.
type Delta struct {
	Text  string
	Final bool
}

// Accumulate consumes the entire upstream body and folds every decoded delta
// into a single string, trimmed of surrounding whitespace.
//
// Behavior under the edge cases the upstreams actually exhibit:
//   - a frame split across two reads is buffered and retried;
//   - a malformed frame is repaired if possible, otherwise logged and
//     skipped, without aborting the rest of the stream;
//   - a body that ends without ever signalling done is treated as complete;
//   - an empty body yields an empty string, not an error.
func Accumulate(ctx context.Context, body io.Reader, opts Options) (string, error) {
	switch opts.Framing {
	case FramingConcatJSON, "":
		return accumulateConcat(ctx, body, opts)
	case FramingNDJSON:
		return accumulateNDJSON(ctx, body, opts)
	case FramingSSE:
		return accumulateSSE(ctx, body, opts)
	default:
		return "", fmt.Errorf("unknown stream framing %q", opts.Framing)
	}
}

func accumulateConcat(ctx context.Context, body io.Reader, opts Options) (string, error) {
	var accumulated strings.Builder
	parser := &ConcatParser{}
	buf := make([]byte, 4*1024)

	for {
		if err := ctx.Err(); err != nil {
			return strings.TrimSpace(accumulated.String()), err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			for _, raw := range parser.Feed(string(buf[:n])) {
				delta, ok := decodeDelta(raw, opts)
				if !ok {
					continue
				}
				accumulated.WriteString(delta.Text)
				if delta.Final {
					return strings.TrimSpace(accumulated.String()), nil
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return strings.TrimSpace(accumulated.String()), fmt.Errorf("reading upstream body: %w", readErr)
		}
	}

	// Stream ended without a done signal; whatever is buffered is the last frame.
	if remainder := parser.Flush(); remainder != "" {
		if delta, ok := decodeDelta(remainder, opts); ok {
			accumulated.WriteString(delta.Text)
		}
	}
	return strings.TrimSpace(accumulated.String()), nil
}

func accumulateNDJSON(ctx context.Context, body io.Reader, opts Options) (string, error) {
	var accumulated strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return strings.TrimSpace(accumulated.String()), err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		delta, ok := decodeDelta(line, opts)
		if !ok {
			continue
		}
		accumulated.WriteString(delta.Text)
		if delta.Final {
			return strings.TrimSpace(accumulated.String()), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return strings.TrimSpace(accumulated.String()), fmt.Errorf("reading upstream body: %w", err)
	}
	return strings.TrimSpace(accumulated.String()), nil
}

func accumulateSSE(ctx context.Context, body io.Reader, opts Options) (string, error) {
	var accumulated strings.Builder

	scanner := NewSSEScanner(body)
	for {
		if err := ctx.Err(); err != nil {
			return strings.TrimSpace(accumulated.String()), err
		}

		payload, err := scanner.Next()
		if err == io.EOF {
			// Covers both the [DONE] sentinel and plain stream end.
			return strings.TrimSpace(accumulated.String()), nil
		}
		if err != nil {
			return strings.TrimSpace(accumulated.String()), fmt.Errorf("reading SSE body: %w", err)
		}

		delta, ok := decodeDelta(payload, opts)
		if !ok {
			continue
		}
		accumulated.WriteString(delta.Text)
		if delta.Final {
			return strings.TrimSpace(accumulated.String()), nil
		}
	}
}

// decodeDelta parses one raw JSON frame into a Delta. Malformed frames are
// first run through jsonrepair; frames that still fail to parse are logged
// and dropped so that one bad frame never poisons the rest of the stream.
func decodeDelta(raw string, opts Options) (Delta, bool) {
	textField := opts.TextField
	if textField == "" {
		textField = defaultTextField
	}
	doneField := opts.DoneField
	if doneField == "" {
		doneField = defaultDoneField
	}

	var frame map[string]any
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil || json.Unmarshal([]byte(repaired), &frame) != nil {
			slog.Warn("skipping malformed stream frame", "frame", truncate(raw, 200), "error", err)
			return Delta{}, false
		}
	}

	text, _ := frame[textField].(string)
	return Delta{Text: text, Final: truthy(frame[doneField])}, true
}

// truthy reports whether a decoded JSON value counts as a done signal.
// Upstreams disagree on the type: Ollama sends booleans, some endpoints send
// strings or numbers.
func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != "" && !strings.EqualFold(v, "false")
	case float64:
		return v != 0
	default:
		return false
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s... (truncated, total: %d chars)", s[:max], len(s))
}
