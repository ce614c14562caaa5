// Package sources fetches the documents a test run is made of: the
// knowledge graph from the backend service and the metrics from the
// metrics service.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxDocumentBytes bounds a fetched document.
const maxDocumentBytes = 32 << 20

// Fetcher retrieves KG and metrics documents over HTTP.
type Fetcher struct {
	backendURL string
	metricsURL string
	client     *http.Client
}

// NewFetcher creates a Fetcher. A nil client gets the given timeout.
func NewFetcher(backendURL, metricsURL string, timeout time.Duration, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{
		backendURL: strings.TrimRight(backendURL, "/"),
		metricsURL: strings.TrimRight(metricsURL, "/"),
		client:     client,
	}
}

// Error is a failed fetch. StatusCode is zero for transport failures.
type Error struct {
	Source     string
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s from %s: status %d: %v", e.Source, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s from %s: %v", e.Source, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FetchKG returns the knowledge graph for conversationID, or the most recent
// entry when conversationID is empty.
func (f *Fetcher) FetchKG(ctx context.Context, conversationID string) (json.RawMessage, error) {
	if conversationID == "" {
		return f.get(ctx, "kg", f.backendURL+"/rest/kg/last-entry", nil)
	}
	body, err := json.Marshal(map[string]string{"conversation_id": conversationID})
	if err != nil {
		return nil, fmt.Errorf("sources: marshal kg query: %w", err)
	}
	return f.get(ctx, "kg", f.backendURL+"/rest/kg/query-conversation", body)
}

// FetchMetrics returns the most recently generated metrics document.
func (f *Fetcher) FetchMetrics(ctx context.Context) (json.RawMessage, error) {
	return f.get(ctx, "metrics", f.metricsURL+"/metrics/last", nil)
}

// get issues a GET, or a JSON POST when body is non-nil, and returns the
// response document verbatim.
func (f *Fetcher) get(ctx context.Context, source, url string, body []byte) (json.RawMessage, error) {
	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		method = http.MethodPost
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &Error{Source: source, URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Source: source, URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, &Error{Source: source, URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &Error{Source: source, URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", msg)}
	}
	if !json.Valid(raw) {
		return nil, &Error{Source: source, URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("response is not JSON")}
	}
	return json.RawMessage(raw), nil
}
