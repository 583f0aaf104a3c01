// Package sink delivers outbound chat events to the client. The orchestrator
// writes through the Sink interface and never sees the transport; SSE over a
// chunked HTTP response is the primary implementation, with a WebSocket
// variant for clients that keep a persistent connection.
package sink

// Event is one persona's completed answer for the current turn.
type Event struct {
	Persona string `json:"persona"`
	Message string `json:"message"`
}

// Terminal is the sentinel payload that tells the client to stop listening.
const Terminal = "[DONE]"

// Sink accepts an ordered sequence of events followed by exactly one Close,
// which emits the terminal sentinel. Implementations must flush each event
// promptly (no buffering that would defeat incremental delivery) and must
// swallow writes that fail because the client went away: a disconnected
// client is not an error the orchestrator can act on.
type Sink interface {
	Send(event Event) error
	Close() error
}
