// Package chat ties the fan-out pipeline together: request admission,
// per-client locking, context merge, concurrent provider dispatch, and
// completion-order event emission to the outbound sink.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lloydchang/personas/internal/provider"
	"github.com/lloydchang/personas/internal/ratelimit"
	"github.com/lloydchang/personas/internal/session"
	"github.com/lloydchang/personas/internal/sink"
)

// Options carries the tunables the orchestrator needs from configuration.
type Options struct {
	SystemPrompt       string
	MaxContextMessages int
	MaxPromptChars     int
}

// Orchestrator executes one client turn end to end. It owns no transport:
// HTTP and WebSocket handlers feed it validated messages and a Sink.
type Orchestrator struct {
	bots    []provider.Bot
	tracker *session.Tracker
	limiter *ratelimit.Limiter
	opts    Options

	// lastSent suppresses a persona repeating its previous answer verbatim
	// to the same client, keyed by clientID\x00persona.
	lastMu   sync.Mutex
	lastSent map[string]string
}

// New creates an Orchestrator over the active bot set. It registers an
// eviction hook so per-client duplicate-suppression and rate-limit state die
// together with the session.
func New(bots []provider.Bot, tracker *session.Tracker, limiter *ratelimit.Limiter, opts Options) *Orchestrator {
	o := &Orchestrator{
		bots:     bots,
		tracker:  tracker,
		limiter:  limiter,
		opts:     opts,
		lastSent: make(map[string]string),
	}
	tracker.OnEvict(o.forgetClient)
	return o
}

// result is one provider task's outcome, consumed in completion order.
type result struct {
	persona  string
	text     string
	err      error
	duration time.Duration
}

// Run executes the locked portion of a turn: context merge, fan-out,
// streaming, finalize. Admission (validation and rate limiting) has already
// happened. The client lock is held from before the first session read until
// after the sink closes, so the next request from this client observes the
// fully-updated context.
func (o *Orchestrator) Run(ctx context.Context, clientID string, incoming []session.Message, out sink.Sink) error {
	lock := o.tracker.Acquire(clientID)
	defer lock.Unlock()

	o.tracker.Touch(clientID)

	history, err := o.tracker.Store().Get(ctx, clientID)
	if err != nil {
		return fmt.Errorf("loading session history: %w", err)
	}
	history = session.Trim(append(history, incoming...), o.opts.MaxContextMessages)

	prompt := BuildPrompt(o.opts.SystemPrompt, history, o.opts.MaxPromptChars)

	// Unbounded fan-out: one goroutine per active bot, results collected in
	// completion order. No bot's outcome delays or cancels another's.
	results := make(chan result, len(o.bots))
	for _, bot := range o.bots {
		go func(bot provider.Bot) {
			started := time.Now()
			text, err := bot.Generate(ctx, prompt)
			results <- result{persona: bot.Persona, text: text, err: err, duration: time.Since(started)}
		}(bot)
	}

	for range o.bots {
		res := <-results
		if res.err != nil {
			// Contained failure: this persona is silent for the turn.
			slog.Info("persona silent this turn",
				"client_id", clientID,
				"persona", res.persona,
				"duration", res.duration,
				"error", res.err)
			continue
		}
		if res.text == "" {
			continue
		}
		if o.repeatedAnswer(clientID, res.persona, res.text) {
			slog.Debug("suppressing repeated answer", "client_id", clientID, "persona", res.persona)
			continue
		}

		if err := out.Send(sink.Event{Persona: res.persona, Message: res.text}); err != nil {
			slog.Warn("failed to emit persona event", "persona", res.persona, "error", err)
		}
		history = append(history, session.Message{Role: session.RoleBot, Content: res.text, Persona: res.persona})
	}

	// Finalize: persist the trimmed context, then signal completion. Both
	// happen under the client lock.
	history = session.Trim(history, o.opts.MaxContextMessages)
	if err := o.tracker.Store().Put(ctx, clientID, history); err != nil {
		slog.Warn("failed to persist session history", "client_id", clientID, "error", err)
	}

	if err := out.Close(); err != nil {
		slog.Warn("failed to close outbound stream", "client_id", clientID, "error", err)
	}

	o.tracker.Touch(clientID)
	return nil
}

// Sweep runs the opportunistic idle-eviction check. Called after each turn
// and by the background sweeper.
func (o *Orchestrator) Sweep(ctx context.Context) {
	o.tracker.EvictIdle(ctx)
}

// repeatedAnswer records text as the persona's latest answer for this client
// and reports whether it exactly repeats the previous one.
func (o *Orchestrator) repeatedAnswer(clientID, persona, text string) bool {
	key := clientID + "\x00" + persona

	o.lastMu.Lock()
	defer o.lastMu.Unlock()

	if o.lastSent[key] == text {
		return true
	}
	o.lastSent[key] = text
	return false
}

// forgetClient drops per-client orchestrator and limiter state when the
// session is evicted.
func (o *Orchestrator) forgetClient(clientID string) {
	o.limiter.Forget(clientID)

	prefix := clientID + "\x00"
	o.lastMu.Lock()
	defer o.lastMu.Unlock()
	for key := range o.lastSent {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(o.lastSent, key)
		}
	}
}
