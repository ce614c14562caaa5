// Package openaiagent adapts an OpenAI-compatible chat completion endpoint to
// the fireglobe.Agent interface. Each Reset starts a new thread with an empty
// history.
package openaiagent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Marshal-AM/fireglobe/sdk/go/fireglobe"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// Config configures an Agent.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint, e.g. for a local proxy.
	BaseURL      string
	Model        string
	SystemPrompt string
	Metadata     fireglobe.AgentMetadata
}

// Agent keeps the chat history of the current thread and replays it on every
// call.
type Agent struct {
	client *openai.Client
	model  string
	system string
	meta   fireglobe.AgentMetadata

	mu       sync.Mutex
	threadID string
	history  []openai.ChatCompletionMessage
}

// New creates an Agent. Returns an error if no API key is given.
func New(cfg Config) (*Agent, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openaiagent: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	meta := cfg.Metadata
	if meta.Framework == "" {
		meta.Framework = "OpenAI Chat Completions"
	}
	if meta.Name == "" {
		meta.Name = "OpenAI Agent (" + model + ")"
	}
	return &Agent{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		system:   cfg.SystemPrompt,
		meta:     meta.WithDefaults(),
		threadID: fireglobe.NewThreadID(time.Now()),
	}, nil
}

// SendMessage appends text to the thread and returns the assistant reply.
func (a *Agent) SendMessage(ctx context.Context, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	msgs := make([]openai.ChatCompletionMessage, 0, len(a.history)+2)
	if a.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: a.system})
	}
	msgs = append(msgs, a.history...)
	msgs = append(msgs, user)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: msgs,
		User:     a.threadID,
	})
	if err != nil {
		return "", &fireglobe.AgentError{Agent: a.meta.Name, Err: err}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &fireglobe.AgentError{Agent: a.meta.Name, Err: fireglobe.ErrEmptyResponse}
	}
	reply := resp.Choices[0].Message.Content
	a.history = append(a.history, user, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})
	return reply, nil
}

// Reset drops the history and starts a new thread.
func (a *Agent) Reset(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	a.threadID = fireglobe.NewThreadID(time.Now())
	return nil
}

// ThreadID returns the current thread identifier.
func (a *Agent) ThreadID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threadID
}

func (a *Agent) Metadata() fireglobe.AgentMetadata { return a.meta }

// Cleanup drops the history. The HTTP client holds no other resources.
func (a *Agent) Cleanup(ctx context.Context) error { return a.Reset(ctx) }
