package stream

import (
	"regexp"
	"strings"
)

// frameBoundary matches the seam between two concatenated JSON objects:
// a closing brace followed by optional whitespace and an opening brace.
// This split is inherently fragile when a JSON string value itself contains
// brace-adjacent text; the decoder confines the damage to that one frame
// rather than corrupting the whole accumulated result.
var frameBoundary = regexp.MustCompile(`\}\s*\{`)

// ConcatParser incrementally splits a stream of concatenated JSON objects
// into complete frames. Chunks may split a frame at any byte offset; the
// trailing partial frame is buffered across Feed calls and surfaced by Flush
// once the stream ends.
type ConcatParser struct {
	buffer string
}

// Feed appends chunk to the internal buffer and returns every complete JSON
// frame that can be split off. The last (possibly partial) frame stays
// buffered until the next Feed or a final Flush.
func (p *ConcatParser) Feed(chunk string) []string {
	p.buffer += chunk

	var frames []string
	for {
		loc := frameBoundary.FindStringIndex(p.buffer)
		if loc == nil {
			return frames
		}
		frames = append(frames, p.buffer[:loc[0]+1])
		p.buffer = p.buffer[loc[1]-1:]
	}
}

// Flush returns the buffered remainder, if any, and resets the parser.
// Called when the upstream closes without a further chunk arriving.
func (p *ConcatParser) Flush() string {
	remainder := strings.TrimSpace(p.buffer)
	p.buffer = ""
	return remainder
}
