package fireglobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Relay is the subset of the database relay the Tester depends on.
type Relay interface {
	UploadComplete(ctx context.Context, accessToken, conversationID string) (*UploadResult, error)
}

// RelayConfig holds the settings needed to construct a RelayClient.
type RelayConfig struct {
	// BaseURL is the root URL of the relay, e.g. "http://localhost:3001".
	BaseURL string

	HTTPClient *http.Client

	// Timeout applies to individual requests. Defaults to 60 seconds, since
	// an upload-complete call performs two IPFS uploads server side.
	Timeout time.Duration
}

// RelayClient talks to the FireGlobe database relay.
type RelayClient struct {
	baseURL string
	client  *http.Client
}

// NewRelayClient creates a RelayClient. Returns an error if BaseURL is empty.
func NewRelayClient(cfg RelayConfig) (*RelayClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("fireglobe: relay BaseURL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &RelayClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// UploadComplete asks the relay to pin the latest knowledge graph and metrics
// documents and record a test run for the token's user. conversationID is
// optional; when set the relay queries the knowledge graph for that
// conversation instead of taking the latest entry.
func (c *RelayClient) UploadComplete(ctx context.Context, accessToken, conversationID string) (*UploadResult, error) {
	body := map[string]any{"access_token": accessToken}
	if conversationID != "" {
		body["conversation_id"] = conversationID
	}
	var resp UploadResult
	if err := c.do(ctx, http.MethodPost, "/upload-complete", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTestRuns returns the token owner's recorded runs, newest first.
func (c *RelayClient) ListTestRuns(ctx context.Context, accessToken string) ([]TestRun, error) {
	var resp struct {
		Success  bool      `json:"success"`
		UserID   string    `json:"user_id"`
		Count    int       `json:"count"`
		TestRuns []TestRun `json:"test_runs"`
	}
	path := "/user/" + url.PathEscape(accessToken) + "/test-runs"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.TestRuns, nil
}

// Health returns the relay's health report. A degraded relay answers 503
// with a report; that report is returned without an error.
func (c *RelayClient) Health(ctx context.Context) (*RelayHealth, error) {
	var resp RelayHealth
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		var re *RelayError
		if errors.As(err, &re) && re.StatusCode == http.StatusServiceUnavailable &&
			json.Unmarshal(re.body, &resp) == nil && resp.Status != "" {
			return &resp, nil
		}
		return nil, err
	}
	return &resp, nil
}

func (c *RelayClient) do(ctx context.Context, method, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("fireglobe: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("fireglobe: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fireglobe relay: %s %s: %w", method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("fireglobe relay: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return parseRelayError(resp.StatusCode, raw)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("fireglobe relay: decode response: %w", err)
	}
	return nil
}

func parseRelayError(status int, raw []byte) *RelayError {
	e := &RelayError{StatusCode: status, body: raw}
	var body struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		e.Message = body.Error
		e.Code = body.Code
		e.Details = body.Details
		return e
	}
	e.Code = http.StatusText(status)
	e.Message = strings.TrimSpace(string(raw))
	if e.Message == "" {
		e.Message = e.Code
	}
	return e
}
