package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultLighthouseUploadURL is the Lighthouse add endpoint.
const DefaultLighthouseUploadURL = "https://upload.lighthouse.storage/api/v0/add"

// LighthouseStore uploads documents through the Lighthouse add API.
type LighthouseStore struct {
	apiKey    string
	uploadURL string
	client    *http.Client
}

// NewLighthouseStore creates a store. An empty uploadURL uses the default;
// a nil client gets a 60 second timeout.
func NewLighthouseStore(apiKey, uploadURL string, client *http.Client) *LighthouseStore {
	if uploadURL == "" {
		uploadURL = DefaultLighthouseUploadURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &LighthouseStore{apiKey: apiKey, uploadURL: uploadURL, client: client}
}

func (s *LighthouseStore) Name() string { return "lighthouse" }

func (s *LighthouseStore) Configured() bool { return s.apiKey != "" }

// Put uploads data as a multipart file named name.
func (s *LighthouseStore) Put(ctx context.Context, name string, data []byte) (Object, error) {
	if !s.Configured() {
		return Object{}, ErrNotConfigured
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return Object{}, fmt.Errorf("ipfs: create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Object{}, fmt.Errorf("ipfs: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Object{}, fmt.Errorf("ipfs: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL, &body)
	if err != nil {
		return Object{}, fmt.Errorf("ipfs: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("ipfs: lighthouse upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Object{}, fmt.Errorf("ipfs: read lighthouse response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Object{}, fmt.Errorf("ipfs: lighthouse upload returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	// Size arrives as a string from the add API; accept either form.
	var out struct {
		Name string          `json:"Name"`
		Hash string          `json:"Hash"`
		Size json.RawMessage `json:"Size"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Object{}, fmt.Errorf("ipfs: decode lighthouse response: %w", err)
	}
	if out.Hash == "" {
		return Object{}, fmt.Errorf("ipfs: lighthouse response has no hash")
	}
	size, _ := strconv.ParseInt(strings.Trim(string(out.Size), `"`), 10, 64)
	if out.Name == "" {
		out.Name = name
	}
	return Object{Name: out.Name, Hash: out.Hash, Size: size}, nil
}
