package fireglobe

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultBackendURL is used when neither Config.BackendURL nor
// CDP_TESTER_BACKEND_URL is set.
const DefaultBackendURL = "https://fireglobe-backend.onrender.com"

// Config controls a test run. Start from DefaultConfig and override fields;
// zero values are taken literally, not as "unset".
type Config struct {
	// AgentDescription tells the backend what the agent under test does.
	AgentDescription  string
	AgentCapabilities string

	MaxMessagesPerConversation int
	NumPersonalities           int

	BackendURL     string
	BackendTimeout time.Duration

	// AccessToken identifies the user on the relay. Required when
	// DBServerURL is set.
	AccessToken string
	// DBServerURL enables the final upload when non-empty.
	DBServerURL string

	SaveConversations      bool
	ConversationOutputPath string
	RealTimeLogging        bool
	GenerateHTMLReport     bool

	// TriggerMetrics asks the backend to generate metrics after each
	// completed conversation.
	TriggerMetrics bool

	// TurnDelay is the pause between turns, applied to avoid rate limits on
	// the backend and the agent. It also follows every appended transaction
	// analysis, including one on the last turn.
	TurnDelay time.Duration
	// AnalysisPollInterval is the pause between transaction analysis polls.
	AnalysisPollInterval time.Duration
	// AnalysisTimeout bounds the wait for a transaction analysis. Zero
	// waits until the analysis arrives or ctx is cancelled.
	AnalysisTimeout time.Duration

	// DefaultChainID is reported for detected transactions whose reply
	// names no known chain.
	DefaultChainID string
}

// DefaultConfig returns a Config with every field at its documented default.
func DefaultConfig() Config {
	backendURL := os.Getenv("CDP_TESTER_BACKEND_URL")
	if backendURL == "" {
		backendURL = DefaultBackendURL
	}
	return Config{
		MaxMessagesPerConversation: 10,
		NumPersonalities:           5,
		BackendURL:                 backendURL,
		BackendTimeout:             30 * time.Second,
		SaveConversations:          true,
		ConversationOutputPath:     "./conversations",
		RealTimeLogging:            true,
		GenerateHTMLReport:         true,
		TriggerMetrics:             true,
		TurnDelay:                  10 * time.Second,
		AnalysisPollInterval:       2 * time.Second,
		AnalysisTimeout:            5 * time.Minute,
		DefaultChainID:             ChainBaseSepolia,
	}
}

// Validate checks the configuration for values the Tester cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AgentDescription) == "" {
		errs = append(errs, errors.New("AgentDescription is required"))
	}
	if c.MaxMessagesPerConversation < 1 {
		errs = append(errs, fmt.Errorf("MaxMessagesPerConversation must be at least 1 (got %d)", c.MaxMessagesPerConversation))
	}
	if c.NumPersonalities < 1 {
		errs = append(errs, fmt.Errorf("NumPersonalities must be at least 1 (got %d)", c.NumPersonalities))
	}
	if c.TurnDelay < 0 || c.AnalysisPollInterval < 0 || c.AnalysisTimeout < 0 {
		errs = append(errs, errors.New("delays and timeouts must not be negative"))
	}
	if c.DBServerURL != "" && c.AccessToken == "" {
		errs = append(errs, errors.New("AccessToken is required when DBServerURL is set"))
	}
	if c.SaveConversations && c.ConversationOutputPath == "" {
		errs = append(errs, errors.New("ConversationOutputPath is required when SaveConversations is set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("fireglobe: invalid config: %w", err)
	}
	return nil
}
