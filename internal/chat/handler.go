package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lloydchang/personas/internal/session"
	"github.com/lloydchang/personas/internal/sink"
)

// request is the inbound payload shared by the HTTP and WebSocket transports.
type request struct {
	Messages []session.Message `json:"messages"`
}

// Handler adapts the orchestrator to HTTP and WebSocket transports.
type Handler struct {
	orch *Orchestrator
}

// NewHandler creates the transport layer over an orchestrator.
func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// RegisterRoutes mounts the chat endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.ServeChat)
	r.Get("/ws/chat", h.ServeWebSocket)
}

// ServeChat handles one request/stream turn over HTTP. The response is a
// Server-Sent Events stream: one event per responding persona, in completion
// order, closed by a [DONE] frame.
func (h *Handler) ServeChat(w http.ResponseWriter, r *http.Request) {
	clientID := clientIDFrom(r)

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	messages := session.FilterValid(req.Messages)
	if len(messages) == 0 {
		writeError(w, http.StatusBadRequest, "no valid messages in request")
		return
	}

	if admitted, retryAfter := h.orch.limiter.Allow(clientID); !admitted {
		writeRateLimited(w, retryAfter)
		return
	}

	out, err := sink.NewSSE(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if err := h.orch.Run(r.Context(), clientID, messages, out); err != nil {
		slog.Error("chat turn failed", "client_id", clientID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.orch.Sweep(r.Context())
}

// ServeWebSocket handles one turn over a WebSocket. The client sends the same
// JSON payload as the HTTP endpoint as its first text frame; events come back
// as JSON frames followed by the [DONE] sentinel, and the connection closes.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin is enforced by the CORS middleware
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	clientID := clientIDFrom(r)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req request
	if _, payload, err := conn.Read(ctx); err != nil {
		conn.Close(websocket.StatusProtocolError, "expected a request frame")
		return
	} else if err := json.Unmarshal(payload, &req); err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid JSON payload")
		return
	}

	messages := session.FilterValid(req.Messages)
	if len(messages) == 0 {
		conn.Close(websocket.StatusInvalidFramePayloadData, "no valid messages in request")
		return
	}

	if admitted, _ := h.orch.limiter.Allow(clientID); !admitted {
		conn.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
		return
	}

	out := sink.NewWebSocket(ctx, conn)
	if err := h.orch.Run(ctx, clientID, messages, out); err != nil {
		slog.Error("chat turn failed", "client_id", clientID, "error", err)
		conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	h.orch.Sweep(ctx)
}

// clientIDFrom resolves the rate-limit and session key for a request: the
// X-Client-ID header when the client supplies one, else the remote host, else
// a random ID so an unidentifiable client still gets a working (if
// single-turn) session.
func clientIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return uuid.NewString()
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeRateLimited emits 429 with both the standard Retry-After header and a
// retryAfter field in the body, in whole seconds rounded up.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":      "rate limit exceeded",
		"retryAfter": seconds,
	})
}
