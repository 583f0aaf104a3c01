// Package provider turns environment-style configuration into the set of
// active persona bots for this process. All upstream vendors share one
// parameterized adapter: per-provider quirks (endpoint, credentials, body
// shape, stream framing, field names) live in a Definition, not in code.
package provider

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/lloydchang/personas/internal/stream"
)

// Bot is one active persona: a display name and a generate function that
// performs exactly one upstream call. Generate returns the accumulated,
// whitespace-trimmed response text; an error means this persona is silent
// for the turn, never that the whole request failed. An empty string with a
// nil error is a valid (if unhelpful) answer.
type Bot struct {
	Persona  string
	Generate func(ctx context.Context, prompt string) (string, error)
}

// Definition describes one known upstream provider as data. A definition
// becomes an active Bot only when all its configuration keys resolve to
// real (non-placeholder) values.
type Definition struct {
	Persona     string
	ModelVar    string   // configuration key holding the model identifier
	EndpointVar string   // configuration key holding the endpoint URL
	BearerVar   string   // optional key whose value is sent as a bearer token
	ExtraVars   []string // additional keys that must be present and real

	Framing   stream.Framing
	TextField string // defaults to "response"
	DoneField string // defaults to "done"

	// BuildBody constructs the upstream request payload. Nil means the
	// Ollama-style {"prompt": ..., "model": ...} shape.
	BuildBody func(prompt, model string) any
}

// adapter is the runtime form of a Definition with its configuration
// resolved at construction time. Construction only happens for definitions
// that passed validation, so a missing credential can never surface at call
// time.
type adapter struct {
	persona   string
	endpoint  string
	model     string
	bearer    string
	options   stream.Options
	buildBody func(prompt, model string) any
	client    *http.Client
	timeout   time.Duration
}

// generate performs the one upstream call for this persona and folds the
// streamed body into a single string. No retries: a failed provider is
// simply absent from this turn's output, which is a normal outcome rather
// than an exceptional one.
func (a *adapter) generate(ctx context.Context, prompt string) (string, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	started := time.Now()

	response, err := postStream(ctx, a.client, a.endpoint, a.bearer, a.buildBody(prompt, a.model))
	if err != nil {
		slog.Warn("provider request failed",
			"persona", a.persona,
			"duration", time.Since(started),
			"error", err)
		return "", err
	}
	defer closeWithLog(response.Body)

	text, err := stream.Accumulate(ctx, response.Body, a.options)
	if err != nil {
		slog.Warn("provider stream failed",
			"persona", a.persona,
			"duration", time.Since(started),
			"error", err)
		return "", err
	}

	slog.Debug("provider completed",
		"persona", a.persona,
		"duration", time.Since(started),
		"response_len", len(text))
	return text, nil
}

func defaultBody(prompt, model string) any {
	return map[string]string{"prompt": prompt, "model": model}
}
