// Package model defines the relay's domain types and wire shapes.
//
// Types correspond directly to the users and test_runs tables and to the
// JSON bodies the relay accepts and returns. Wire shapes are flat objects
// with snake_case keys; there is no response envelope.
package model

import (
	"time"

	"github.com/google/uuid"
)

// User is a dashboard account. AccessToken is the opaque credential the SDK
// presents; WalletAddress may be set once.
type User struct {
	UserID        string    `json:"user_id"`
	AccessToken   string    `json:"-"`
	Email         *string   `json:"email,omitempty"`
	Name          *string   `json:"name,omitempty"`
	WalletAddress *string   `json:"wallet_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TestRun is one uploaded test run. Immutable once created, except for
// FGCRewardTx which may be attached once.
type TestRun struct {
	RunID       uuid.UUID `json:"run_id"`
	UserID      string    `json:"user_id"`
	KGHash      string    `json:"kg_hash"`
	MetricsHash string    `json:"metrics_hash"`
	FGCRewardTx *string   `json:"fgc_reward_tx"`
	CreatedAt   time.Time `json:"created_at"`
}

// TestRunView is a TestRun with gateway URLs for both documents.
type TestRunView struct {
	TestRun
	KGURL      string `json:"kg_url"`
	MetricsURL string `json:"metrics_url"`
}
