package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// maxErrorBodySize caps how much of an upstream error body is read for
// diagnostics.
const maxErrorBodySize int64 = 64 * 1024

// postStream performs the single upstream POST for one generation and returns
// the response with its body left open for streaming consumption. The caller
// owns closing the body. On non-2xx the body is read (capped), closed, and
// folded into the returned error so the upstream's own message survives into
// the logs.
func postStream(ctx context.Context, client *http.Client, url string, bearer string, body any) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	response, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		defer closeWithLog(response.Body)
		errorBody, readErr := io.ReadAll(io.LimitReader(response.Body, maxErrorBodySize))
		if readErr != nil {
			return nil, fmt.Errorf("non-2xx status %d (failed to read body: %v)", response.StatusCode, readErr)
		}
		return nil, fmt.Errorf("non-2xx status %d: %s", response.StatusCode, string(errorBody))
	}

	return response, nil
}

// closeWithLog closes c, logging the error instead of returning it. Used on
// paths where a close failure must not override the primary outcome.
func closeWithLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}
