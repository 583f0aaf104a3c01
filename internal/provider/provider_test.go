package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lloydchang/personas/internal/stream"
)

// lookupFrom builds a config lookup over a plain map; missing keys resolve
// to "".
func lookupFrom(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

// TestBuildBots_PlaceholderExclusion excludes providers whose configuration
// is a "your-..." template placeholder or empty, and includes providers with
// real-looking values.
func TestBuildBots_PlaceholderExclusion(t *testing.T) {
	bots := BuildBots(lookupFrom(map[string]string{
		// Real values: included.
		"OLLAMA_GEMMA_TEXT_MODEL": "gemma2:2b",
		"OLLAMA_GEMMA_ENDPOINT":   "http://localhost:11434/api/generate",
		// Placeholder token: excluded despite model + endpoint being real.
		"CLOUDFLARE_GEMMA_TEXT_MODEL":   "@cf/google/gemma-7b-it",
		"CLOUDFLARE_GEMMA_ENDPOINT":     "https://api.cloudflare.example/v1/run",
		"CLOUDFLARE_GEMMA_BEARER_TOKEN": "YOUR-API-KEY",
		// Empty model: excluded.
		"OLLAMA_LLAMA_TEXT_MODEL": "",
		"OLLAMA_LLAMA_ENDPOINT":   "http://localhost:11434/api/generate",
	}))

	if len(bots) != 1 {
		t.Fatalf("expected exactly 1 active bot, got %d", len(bots))
	}
	if bots[0].Persona != "Ollama Gemma" {
		t.Errorf("expected Ollama Gemma, got %q", bots[0].Persona)
	}
}

// TestBuildBots_RejectsLeakedLiterals excludes "undefined" and "null"
// strings leaked from a broken env templating step.
func TestBuildBots_RejectsLeakedLiterals(t *testing.T) {
	for _, leaked := range []string{"undefined", "null", "NULL"} {
		bots := BuildBots(lookupFrom(map[string]string{
			"OLLAMA_GEMMA_TEXT_MODEL": leaked,
			"OLLAMA_GEMMA_ENDPOINT":   "http://localhost:11434/api/generate",
		}))
		if len(bots) != 0 {
			t.Errorf("model value %q should exclude the provider", leaked)
		}
	}
}

// TestBuildBots_ZeroProvidersIsLegal returns an empty set, not an error,
// when nothing is configured.
func TestBuildBots_ZeroProvidersIsLegal(t *testing.T) {
	if bots := BuildBots(lookupFrom(nil)); len(bots) != 0 {
		t.Errorf("expected no bots, got %d", len(bots))
	}
}

// TestAdapter_Generate_ConcatJSON round-trips an Ollama-style upstream:
// concatenated JSON frames accumulated and trimmed.
func TestAdapter_Generate_ConcatJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		_, _ = w.Write([]byte(`{"response":"  Hello"}{"response":" there ","done":true}`))
	}))
	defer upstream.Close()

	bots := BuildBots(lookupFrom(map[string]string{
		"OLLAMA_GEMMA_TEXT_MODEL": "gemma2:2b",
		"OLLAMA_GEMMA_ENDPOINT":   upstream.URL,
	}), WithHTTPClient(upstream.Client()))
	if len(bots) != 1 {
		t.Fatalf("expected 1 bot, got %d", len(bots))
	}

	got, err := bots[0].Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Hello there" {
		t.Errorf("expected %q, got %q", "Hello there", got)
	}
}

// TestAdapter_Generate_SSE round-trips an OpenAI-compatible SSE upstream
// with a [DONE] sentinel, including the bearer header.
func TestAdapter_Generate_SSE(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test-123" {
			t.Errorf("expected bearer header, got %q", auth)
		}
		_, _ = w.Write([]byte("data: {\"response\":\"streamed\"}\n\ndata: [DONE]\n\n"))
	}))
	defer upstream.Close()

	bots := BuildBots(lookupFrom(map[string]string{
		"OPENAI_O1_TEXT_MODEL": "o1-mini",
		"OPENAI_O1_ENDPOINT":   upstream.URL,
		"OPENAI_O1_API_KEY":    "sk-test-123",
	}), WithHTTPClient(upstream.Client()))
	if len(bots) != 1 {
		t.Fatalf("expected 1 bot, got %d", len(bots))
	}

	got, err := bots[0].Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "streamed" {
		t.Errorf("expected %q, got %q", "streamed", got)
	}
}

// TestAdapter_Generate_TitanFieldNames reads Bedrock Titan's outputText /
// completionReason field pair.
func TestAdapter_Generate_TitanFieldNames(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"outputText":"from titan","completionReason":"FINISH"}`))
	}))
	defer upstream.Close()

	bots := BuildBots(lookupFrom(map[string]string{
		"AMAZON_BEDROCK_TITAN_TEXT_MODEL": "amazon.titan-text-express-v1",
		"AMAZON_BEDROCK_TITAN_ENDPOINT":   upstream.URL,
	}), WithHTTPClient(upstream.Client()))
	if len(bots) != 1 {
		t.Fatalf("expected 1 bot, got %d", len(bots))
	}

	got, err := bots[0].Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "from titan" {
		t.Errorf("expected %q, got %q", "from titan", got)
	}
}

// TestAdapter_Generate_Non2xxReturnsError surfaces an upstream failure as an
// error (the orchestrator silences it); the upstream body is preserved in
// the error for diagnosis.
func TestAdapter_Generate_Non2xxReturnsError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	bots := BuildBots(lookupFrom(map[string]string{
		"OLLAMA_GEMMA_TEXT_MODEL": "gemma2:2b",
		"OLLAMA_GEMMA_ENDPOINT":   upstream.URL,
	}), WithHTTPClient(upstream.Client()))

	_, err := bots[0].Generate(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error for non-2xx upstream")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("error should carry status and upstream body, got: %v", err)
	}
}

// TestAdapter_Generate_TimeoutBoundsLatency treats a hung upstream as a
// failed provider once the configured timeout elapses. This is a deliberate
// hardening over the original behavior, which waited on hung upstreams
// indefinitely.
func TestAdapter_Generate_TimeoutBoundsLatency(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release // hang until the test finishes
	}))
	defer upstream.Close()
	defer close(release) // must run before upstream.Close, which waits for the handler

	bots := BuildBots(lookupFrom(map[string]string{
		"OLLAMA_GEMMA_TEXT_MODEL": "gemma2:2b",
		"OLLAMA_GEMMA_ENDPOINT":   upstream.URL,
	}), WithHTTPClient(upstream.Client()), WithTimeout(50*time.Millisecond))

	started := time.Now()
	_, err := bots[0].Generate(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected timeout error from hung upstream")
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Errorf("timeout did not bound latency, took %v", elapsed)
	}
}

// TestDefinitions_FramingsCoverAllThree sanity-checks that the registry
// exercises every supported framing.
func TestDefinitions_FramingsCoverAllThree(t *testing.T) {
	seen := map[stream.Framing]bool{}
	for _, def := range Definitions() {
		seen[def.Framing] = true
	}
	for _, framing := range []stream.Framing{stream.FramingConcatJSON, stream.FramingNDJSON, stream.FramingSSE} {
		if !seen[framing] {
			t.Errorf("no definition uses framing %s", framing)
		}
	}
}
