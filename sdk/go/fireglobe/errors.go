// Package fireglobe provides a Go SDK for testing conversational DeFi agents
// against synthetic personalities generated by the FireGlobe backend.
package fireglobe

import (
	"errors"
	"fmt"
	"net/http"
)

// BackendError is returned by BackendClient when a call to the AI backend
// fails at the transport level, returns an HTTP error status, or reports
// success=false.
type BackendError struct {
	// Op is the human-readable operation prefix, e.g. "Evaluation error".
	Op         string
	StatusCode int // 0 for transport failures
	Detail     string
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Temporary reports whether the failure looks transient (5xx or transport).
func (e *BackendError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= http.StatusInternalServerError
}

// IsBackendError returns true if err wraps a *BackendError.
func IsBackendError(err error) bool {
	var e *BackendError
	return errors.As(err, &e)
}

// RelayError represents an error response from the database relay server.
type RelayError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string

	body []byte
}

func (e *RelayError) Error() string {
	msg := fmt.Sprintf("fireglobe relay: %s (%d)", e.Message, e.StatusCode)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// IsUnauthorized returns true if the relay rejected the access token.
func IsUnauthorized(err error) bool {
	var e *RelayError
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// IsNotFound returns true if the relay answered 404.
func IsNotFound(err error) bool {
	var e *RelayError
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// IsRateLimited returns true if the relay answered 429.
func IsRateLimited(err error) bool {
	var e *RelayError
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// AgentError wraps a failure of the agent under test.
type AgentError struct {
	Agent string
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// ErrEmptyResponse is wrapped by adapters when the agent produced no content.
var ErrEmptyResponse = errors.New("agent returned no content")

// ErrAnalysisTimeout is returned when a transaction analysis did not become
// available within the configured wait.
var ErrAnalysisTimeout = errors.New("transaction analysis timed out")
