package provider

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lloydchang/personas/internal/stream"
)

// chatBody is the OpenAI-compatible messages payload used by the hosted
// vendors.
func chatBody(prompt, model string) any {
	return map[string]any{
		"model":  model,
		"stream": true,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
}

// titanBody is the Amazon Bedrock Titan text generation payload.
func titanBody(prompt, _ string) any {
	return map[string]any{
		"inputText": prompt,
	}
}

// Definitions returns every provider this server knows how to talk to, in
// the order their events would historically appear. Order carries no
// priority; fan-out is concurrent and emission is completion-order.
func Definitions() []Definition {
	return []Definition{
		{
			Persona:     "Ollama Gemma",
			ModelVar:    "OLLAMA_GEMMA_TEXT_MODEL",
			EndpointVar: "OLLAMA_GEMMA_ENDPOINT",
			Framing:     stream.FramingConcatJSON,
		},
		{
			Persona:     "Ollama Llama",
			ModelVar:    "OLLAMA_LLAMA_TEXT_MODEL",
			EndpointVar: "OLLAMA_LLAMA_ENDPOINT",
			Framing:     stream.FramingConcatJSON,
		},
		{
			Persona:     "Cloudflare Gemma",
			ModelVar:    "CLOUDFLARE_GEMMA_TEXT_MODEL",
			EndpointVar: "CLOUDFLARE_GEMMA_ENDPOINT",
			BearerVar:   "CLOUDFLARE_GEMMA_BEARER_TOKEN",
			Framing:     stream.FramingNDJSON,
			BuildBody:   chatBody,
		},
		{
			Persona:     "Cloudflare Llama",
			ModelVar:    "CLOUDFLARE_LLAMA_TEXT_MODEL",
			EndpointVar: "CLOUDFLARE_LLAMA_ENDPOINT",
			BearerVar:   "CLOUDFLARE_LLAMA_BEARER_TOKEN",
			Framing:     stream.FramingNDJSON,
			BuildBody:   chatBody,
		},
		{
			Persona:     "Google Vertex Gemma",
			ModelVar:    "GOOGLE_VERTEX_GEMMA_TEXT_MODEL",
			EndpointVar: "GOOGLE_VERTEX_GEMMA_ENDPOINT",
			ExtraVars:   []string{"GOOGLE_VERTEX_GEMMA_LOCATION"},
			Framing:     stream.FramingNDJSON,
			BuildBody:   chatBody,
		},
		{
			Persona:     "Google Vertex Llama",
			ModelVar:    "GOOGLE_VERTEX_LLAMA_TEXT_MODEL",
			EndpointVar: "GOOGLE_VERTEX_LLAMA_ENDPOINT",
			ExtraVars:   []string{"GOOGLE_VERTEX_LLAMA_LOCATION"},
			Framing:     stream.FramingNDJSON,
			BuildBody:   chatBody,
		},
		{
			Persona:     "Azure OpenAI O1",
			ModelVar:    "AZURE_OPENAI_O1_TEXT_MODEL",
			EndpointVar: "AZURE_OPENAI_O1_ENDPOINT",
			BearerVar:   "AZURE_OPENAI_O1_API_KEY",
			Framing:     stream.FramingSSE,
			BuildBody:   chatBody,
		},
		{
			Persona:     "OpenAI O1",
			ModelVar:    "OPENAI_O1_TEXT_MODEL",
			EndpointVar: "OPENAI_O1_ENDPOINT",
			BearerVar:   "OPENAI_O1_API_KEY",
			Framing:     stream.FramingSSE,
			BuildBody:   chatBody,
		},
		{
			Persona:     "Amazon Bedrock Titan",
			ModelVar:    "AMAZON_BEDROCK_TITAN_TEXT_MODEL",
			EndpointVar: "AMAZON_BEDROCK_TITAN_ENDPOINT",
			Framing:     stream.FramingConcatJSON,
			TextField:   "outputText",
			DoneField:   "completionReason",
			BuildBody:   titanBody,
		},
	}
}

// Option configures bot construction.
type Option func(*buildConfig)

type buildConfig struct {
	client  *http.Client
	timeout time.Duration
}

// WithHTTPClient sets the HTTP client shared by all adapters. Tests point
// this at an httptest server's client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *buildConfig) {
		c.client = client
	}
}

// WithTimeout bounds each provider call. The original design had no explicit
// per-provider timeout; this bounds worst-case request latency to the
// slowest configured timeout instead of the slowest hung upstream.
func WithTimeout(timeout time.Duration) Option {
	return func(c *buildConfig) {
		c.timeout = timeout
	}
}

// BuildBots resolves every Definition against lookup and returns the active
// set: a definition is included iff its model, endpoint, bearer (when
// declared), and every extra key all resolve to real values. Exclusion is
// silent apart from one debug log line; a deployment with zero configured
// providers is legal and yields an empty set.
func BuildBots(lookup func(key string) string, opts ...Option) []Bot {
	config := &buildConfig{}
	for _, opt := range opts {
		opt(config)
	}

	var bots []Bot
	for _, def := range Definitions() {
		required := append([]string{def.ModelVar, def.EndpointVar}, def.ExtraVars...)
		if def.BearerVar != "" {
			required = append(required, def.BearerVar)
		}

		excluded := ""
		for _, key := range required {
			if !realValue(lookup(key)) {
				excluded = key
				break
			}
		}
		if excluded != "" {
			slog.Debug("provider excluded", "persona", def.Persona, "missing_or_placeholder", excluded)
			continue
		}

		a := &adapter{
			persona:  def.Persona,
			endpoint: lookup(def.EndpointVar),
			model:    lookup(def.ModelVar),
			options: stream.Options{
				Framing:   def.Framing,
				TextField: def.TextField,
				DoneField: def.DoneField,
			},
			buildBody: def.BuildBody,
			client:    config.client,
			timeout:   config.timeout,
		}
		if def.BearerVar != "" {
			a.bearer = lookup(def.BearerVar)
		}
		if a.buildBody == nil {
			a.buildBody = defaultBody
		}

		bots = append(bots, Bot{Persona: def.Persona, Generate: a.generate})
	}
	return bots
}

// realValue reports whether a configuration value is usable: non-empty, not
// a "your-..." placeholder copied from an env template, and not the strings
// "undefined" or "null" leaked from a misconfigured deploy.
func realValue(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "your-") {
		return false
	}
	return lower != "undefined" && lower != "null"
}
