package fireglobe

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

// Backend is the subset of the AI backend the Tester depends on.
// *BackendClient satisfies it; tests substitute fakes.
type Backend interface {
	GeneratePersonalities(ctx context.Context, agentDescription, agentCapabilities string, count int) ([]Personality, error)
	GeneratePersonalityMessage(ctx context.Context, p Personality, previous []ConversationMessage, isInitial bool, agentDescription string) (string, error)
	EvaluateConversation(ctx context.Context, personalityName, traits, description string, messages []ConversationMessage) (*EvaluationResult, error)
	StoreConversation(ctx context.Context, conversationID, personalityName string, messages []ConversationMessage) error
	AnalyzeAgentTransaction(ctx context.Context, req AnalyzeTransactionRequest) (*AnalysisAck, error)
	GetTransactionAnalysis(ctx context.Context, txHash string) (*AnalysisStatus, error)
	GenerateMetrics(ctx context.Context, conversationID string) error
}

// BackendConfig holds the settings needed to construct a BackendClient.
type BackendConfig struct {
	// BaseURL is the root URL of the AI backend, e.g. "http://localhost:8000".
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a client with
	// Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// BackendClient is a typed HTTP client for the FireGlobe AI backend.
// It performs no retries. All methods are safe for concurrent use.
type BackendClient struct {
	baseURL string
	client  *http.Client
}

// NewBackendClient creates a BackendClient. Returns an error if BaseURL is empty.
func NewBackendClient(cfg BackendConfig) (*BackendClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("fireglobe: backend BaseURL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &BackendClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// Operation prefixes used in BackendError messages.
const (
	opBackend           = "Backend error"
	opMessageGeneration = "Message generation error"
	opEvaluation        = "Evaluation error"
	opStorage           = "Storage error"
	opAnalysis          = "Transaction analysis error"
	opAnalysisRetrieval = "Transaction analysis retrieval error"
	opMetrics           = "Metrics generation error"
)

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type storedMessage struct {
	Role                string               `json:"role"`
	Content             string               `json:"content"`
	Timestamp           string               `json:"timestamp"`
	Personality         string               `json:"personality,omitempty"`
	TransactionAnalysis *TransactionAnalysis `json:"transaction_analysis,omitempty"`
}

func toWireMessages(msgs []ConversationMessage) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func toStoredMessages(msgs []ConversationMessage) []storedMessage {
	out := make([]storedMessage, len(msgs))
	for i, m := range msgs {
		out[i] = storedMessage{
			Role:                string(m.Role),
			Content:             m.Content,
			Timestamp:           m.Timestamp.UTC().Format(time.RFC3339Nano),
			Personality:         m.Personality,
			TransactionAnalysis: m.TransactionAnalysis,
		}
	}
	return out
}

// GeneratePersonalities asks the backend for count tester personas.
func (c *BackendClient) GeneratePersonalities(ctx context.Context, agentDescription, agentCapabilities string, count int) ([]Personality, error) {
	body := map[string]any{
		"agent_description":  agentDescription,
		"agent_capabilities": agentCapabilities,
		"num_personalities":  count,
	}
	var resp struct {
		Success       bool          `json:"success"`
		Personalities []Personality `json:"personalities"`
	}
	if err := c.post(ctx, opBackend, "/rest/generate-personalities", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &BackendError{Op: opBackend, Detail: "Failed to generate personalities"}
	}
	return resp.Personalities, nil
}

// GeneratePersonalityMessage asks the backend for the next user-role message
// in the voice of personality p.
func (c *BackendClient) GeneratePersonalityMessage(ctx context.Context, p Personality, previous []ConversationMessage, isInitial bool, agentDescription string) (string, error) {
	body := map[string]any{
		"personality":       p,
		"previous_messages": toWireMessages(previous),
		"is_initial":        isInitial,
		"agent_description": agentDescription,
	}
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.post(ctx, opMessageGeneration, "/rest/generate-personality-message", body, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Message) == "" {
		return "", &BackendError{Op: opMessageGeneration, Detail: "empty message"}
	}
	return resp.Message, nil
}

// EvaluateConversation requests an AI evaluation of a finished conversation.
func (c *BackendClient) EvaluateConversation(ctx context.Context, personalityName, traits, description string, messages []ConversationMessage) (*EvaluationResult, error) {
	body := map[string]any{
		"personality_name": personalityName,
		"personality":      traits,
		"description":      description,
		"messages":         toWireMessages(messages),
	}
	var resp EvaluationResult
	if err := c.post(ctx, opEvaluation, "/rest/evaluate-conversation", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StoreConversation persists a conversation on the backend.
func (c *BackendClient) StoreConversation(ctx context.Context, conversationID, personalityName string, messages []ConversationMessage) error {
	body := map[string]any{
		"conversation_id":  conversationID,
		"personality_name": personalityName,
		"messages":         toStoredMessages(messages),
	}
	return c.post(ctx, opStorage, "/rest/store-conversation", body, nil)
}

// AnalyzeTransactionRequest asks the backend to analyze a transaction the
// agent reported.
type AnalyzeTransactionRequest struct {
	ConversationID  string
	PersonalityName string
	Messages        []ConversationMessage
	TransactionHash string
	ChainID         string
}

// AnalysisAck acknowledges an analysis request.
type AnalysisAck struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// AnalysisStatus is one poll of a transaction analysis.
type AnalysisStatus struct {
	Success   bool   `json:"success"`
	Analysis  string `json:"analysis,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message"`
}

// Ready reports whether the analysis is available.
func (s *AnalysisStatus) Ready() bool {
	return s != nil && s.Success && s.Analysis != ""
}

// AnalyzeAgentTransaction submits a transaction for asynchronous analysis.
func (c *BackendClient) AnalyzeAgentTransaction(ctx context.Context, req AnalyzeTransactionRequest) (*AnalysisAck, error) {
	body := map[string]any{
		"conversation_id":       req.ConversationID,
		"personality_name":      req.PersonalityName,
		"conversation_messages": toStoredMessages(req.Messages),
		"transaction_hash":      req.TransactionHash,
		"chain_id":              req.ChainID,
	}
	var resp AnalysisAck
	if err := c.post(ctx, opAnalysis, "/rest/analyze-agent-transaction", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTransactionAnalysis fetches the current state of an analysis.
func (c *BackendClient) GetTransactionAnalysis(ctx context.Context, txHash string) (*AnalysisStatus, error) {
	body := map[string]any{"transaction_hash": txHash}
	var resp AnalysisStatus
	if err := c.post(ctx, opAnalysisRetrieval, "/rest/get-transaction-analysis", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateMetrics asks the backend to compute metrics for a conversation.
func (c *BackendClient) GenerateMetrics(ctx context.Context, conversationID string) error {
	body := map[string]any{"conversation_id": conversationID}
	return c.post(ctx, opMetrics, "/rest/generate-metrics", body, nil)
}

func (c *BackendClient) post(ctx context.Context, op, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("fireglobe: marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("fireglobe: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &BackendError{Op: op, Detail: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &BackendError{Op: op, StatusCode: resp.StatusCode, Detail: err.Error(), Err: err}
	}
	if resp.StatusCode >= 400 {
		return &BackendError{Op: op, StatusCode: resp.StatusCode, Detail: remoteDetail(resp.StatusCode, raw)}
	}
	if dest == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return &BackendError{Op: op, StatusCode: resp.StatusCode, Detail: "decode response: " + err.Error(), Err: err}
	}
	return nil
}

// remoteDetail extracts the most useful error text from a backend response.
// FastAPI reports "detail"; other services report "error" or "message".
func remoteDetail(status int, raw []byte) string {
	var body struct {
		Detail  any    `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch d := body.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(status)
}
