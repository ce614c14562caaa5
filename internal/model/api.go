package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// MaxConversationIDLen bounds the optional conversation_id forwarded to the
// KG service.
const MaxConversationIDLen = 256

// ValidateWalletAddress checks for a 0x-prefixed 20-byte hex address.
func ValidateWalletAddress(addr string) error {
	if !walletPattern.MatchString(addr) {
		return fmt.Errorf("wallet_address must be 0x followed by 40 hex characters")
	}
	return nil
}

// ValidateTxHash checks for a 0x-prefixed 32-byte hex transaction hash.
func ValidateTxHash(hash string) error {
	if !txHashPattern.MatchString(hash) {
		return fmt.Errorf("tx_hash must be 0x followed by 64 hex characters")
	}
	return nil
}

// ValidateConversationID checks the optional conversation_id field.
func ValidateConversationID(id string) error {
	if len(id) > MaxConversationIDLen {
		return fmt.Errorf("conversation_id exceeds maximum length of %d characters", MaxConversationIDLen)
	}
	if strings.ContainsAny(id, "\r\n") {
		return fmt.Errorf("conversation_id must be a single line")
	}
	return nil
}

// ErrorCode constants for API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnavailable   = "SERVICE_UNAVAILABLE"
)

// APIError is the error body for every non-2xx response.
type APIError struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// UploadKGRequest is the request body for POST /upload-kg.
type UploadKGRequest struct {
	AccessToken    string `json:"access_token"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// UploadKGResponse is the response for POST /upload-kg.
type UploadKGResponse struct {
	Success       bool   `json:"success"`
	UserID        string `json:"user_id"`
	KGHash        string `json:"kg_hash"`
	LighthouseURL string `json:"lighthouse_url"`
	Message       string `json:"message"`
}

// UploadMetricsRequest is the request body for POST /upload-metrics.
type UploadMetricsRequest struct {
	AccessToken    string `json:"access_token"`
	KGHash         string `json:"kg_hash"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// UploadMetricsResponse is the response for POST /upload-metrics.
type UploadMetricsResponse struct {
	Success     bool   `json:"success"`
	RunID       string `json:"run_id"`
	UserID      string `json:"user_id"`
	KGHash      string `json:"kg_hash"`
	MetricsHash string `json:"metrics_hash"`
	KGURL       string `json:"kg_url"`
	MetricsURL  string `json:"metrics_url"`
	Message     string `json:"message"`
}

// UploadCompleteRequest is the request body for POST /upload-complete.
type UploadCompleteRequest struct {
	AccessToken    string `json:"access_token"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// StoredObject identifies a pinned document.
type StoredObject struct {
	Hash string `json:"hash"`
	URL  string `json:"url"`
}

// UploadCompleteResponse is the response for POST /upload-complete.
type UploadCompleteResponse struct {
	Success bool         `json:"success"`
	RunID   string       `json:"run_id"`
	UserID  string       `json:"user_id"`
	KG      StoredObject `json:"kg"`
	Metrics StoredObject `json:"metrics"`
	Message string       `json:"message"`
}

// TestRunsResponse is the response for GET /user/{access_token}/test-runs.
type TestRunsResponse struct {
	Success  bool          `json:"success"`
	UserID   string        `json:"user_id"`
	Count    int           `json:"count"`
	TestRuns []TestRunView `json:"test_runs"`
}

// UpdateWalletRequest is the request body for POST /update-wallet.
type UpdateWalletRequest struct {
	AccessToken   string `json:"access_token"`
	WalletAddress string `json:"wallet_address"`
}

// UpdateWalletResponse is the response for POST /update-wallet.
type UpdateWalletResponse struct {
	Success       bool   `json:"success"`
	UserID        string `json:"user_id"`
	WalletAddress string `json:"wallet_address"`
	Message       string `json:"message"`
}

// AttachRewardRequest is the request body for PATCH /test-runs/{run_id}/reward.
type AttachRewardRequest struct {
	AccessToken string `json:"access_token"`
	TxHash      string `json:"tx_hash"`
}

// AttachRewardResponse is the response for PATCH /test-runs/{run_id}/reward.
type AttachRewardResponse struct {
	Success bool        `json:"success"`
	TestRun TestRunView `json:"test_run"`
	Message string      `json:"message"`
}

// Service status values reported by /health.
const (
	StatusConfigured    = "configured"
	StatusNotConfigured = "not configured"
	StatusConnected     = "connected"
	StatusDisconnected  = "disconnected"
)

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
	Uptime    int64             `json:"uptime_seconds"`
}
