package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Marshal-AM/fireglobe/sdk/go/fireglobe"
)

// Agent providers the CLI can drive.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// TestFile is the YAML document passed to `fireglobe test`. Unset fields keep
// the SDK defaults.
type TestFile struct {
	Agent AgentSection `yaml:"agent"`
	Test  TestSection  `yaml:"test"`
}

// AgentSection selects and configures the agent under test.
type AgentSection struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base-url"`
	SystemPrompt string `yaml:"system-prompt"`
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Version      string `yaml:"version"`
}

// TestSection overrides fireglobe.Config fields.
type TestSection struct {
	AgentDescription  string `yaml:"agent-description"`
	AgentCapabilities string `yaml:"agent-capabilities"`

	NumPersonalities           *int `yaml:"num-personalities"`
	MaxMessagesPerConversation *int `yaml:"max-messages-per-conversation"`

	BackendURL     string `yaml:"backend-url"`
	BackendTimeout string `yaml:"backend-timeout"`
	DBServerURL    string `yaml:"db-server-url"`
	OutputDir      string `yaml:"output-dir"`

	SaveConversations *bool  `yaml:"save-conversations"`
	HTMLReport        *bool  `yaml:"html-report"`
	RealTimeLogging   *bool  `yaml:"real-time-logging"`
	TriggerMetrics    *bool  `yaml:"trigger-metrics"`
	TurnDelay         string `yaml:"turn-delay"`
	AnalysisPoll      string `yaml:"analysis-poll-interval"`
	AnalysisTimeout   string `yaml:"analysis-timeout"`
	DefaultChainID    string `yaml:"default-chain-id"`
}

// LoadTestFile reads and validates a test file.
func LoadTestFile(path string) (*TestFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-provided path
	if err != nil {
		return nil, fmt.Errorf("read test file: %w", err)
	}
	var tf TestFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse test file %s: %w", path, err)
	}
	tf.Agent.Provider = strings.ToLower(strings.TrimSpace(tf.Agent.Provider))
	if tf.Agent.Provider == "" {
		tf.Agent.Provider = ProviderOpenAI
	}
	switch tf.Agent.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return nil, fmt.Errorf("test file %s: agent provider must be %q or %q (got %q)", path, ProviderOpenAI, ProviderGemini, tf.Agent.Provider)
	}
	return &tf, nil
}

// SDKConfig overlays the test section on fireglobe.DefaultConfig. The access
// token comes from the environment, never the file.
func (tf *TestFile) SDKConfig(accessToken string) (fireglobe.Config, error) {
	cfg := fireglobe.DefaultConfig()
	t := tf.Test

	cfg.AgentDescription = t.AgentDescription
	if cfg.AgentDescription == "" {
		cfg.AgentDescription = tf.Agent.Description
	}
	cfg.AgentCapabilities = t.AgentCapabilities
	if t.NumPersonalities != nil {
		cfg.NumPersonalities = *t.NumPersonalities
	}
	if t.MaxMessagesPerConversation != nil {
		cfg.MaxMessagesPerConversation = *t.MaxMessagesPerConversation
	}
	if t.BackendURL != "" {
		cfg.BackendURL = t.BackendURL
	}
	if t.DBServerURL != "" {
		cfg.DBServerURL = t.DBServerURL
		cfg.AccessToken = accessToken
	}
	if t.OutputDir != "" {
		cfg.ConversationOutputPath = t.OutputDir
	}
	setBool(&cfg.SaveConversations, t.SaveConversations)
	setBool(&cfg.GenerateHTMLReport, t.HTMLReport)
	setBool(&cfg.RealTimeLogging, t.RealTimeLogging)
	setBool(&cfg.TriggerMetrics, t.TriggerMetrics)
	if t.DefaultChainID != "" {
		cfg.DefaultChainID = t.DefaultChainID
	}

	var errs []error
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend-timeout", t.BackendTimeout, &cfg.BackendTimeout},
		{"turn-delay", t.TurnDelay, &cfg.TurnDelay},
		{"analysis-poll-interval", t.AnalysisPoll, &cfg.AnalysisPollInterval},
		{"analysis-timeout", t.AnalysisTimeout, &cfg.AnalysisTimeout},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
			continue
		}
		*d.dst = v
	}
	if err := errors.Join(errs...); err != nil {
		return fireglobe.Config{}, err
	}
	if cfg.DBServerURL != "" && cfg.AccessToken == "" {
		return fireglobe.Config{}, fmt.Errorf("db-server-url is set but %s is empty", envAccessToken)
	}
	return cfg, cfg.Validate()
}

// Metadata returns the agent metadata declared in the file.
func (tf *TestFile) Metadata() fireglobe.AgentMetadata {
	return fireglobe.AgentMetadata{
		Name:        tf.Agent.Name,
		Description: tf.Agent.Description,
		Version:     tf.Agent.Version,
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
