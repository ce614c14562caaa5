// Package geminiagent adapts a Gemini model to the fireglobe.Agent interface.
package geminiagent

import (
	"context"
	"strings"
	"sync"
	"time"

	genai "google.golang.org/genai"

	"github.com/Marshal-AM/fireglobe/sdk/go/fireglobe"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash"

const (
	roleUser  = "user"
	roleModel = "model"
)

// Generator is the part of *genai.Models the agent calls.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config configures an Agent.
type Config struct {
	// APIKey is passed to the genai client. When empty the client reads
	// GEMINI_API_KEY or GOOGLE_API_KEY from the environment.
	APIKey       string
	Model        string
	SystemPrompt string
	Metadata     fireglobe.AgentMetadata
}

// Agent keeps the contents of the current thread and sends them with every
// call.
type Agent struct {
	gen    Generator
	model  string
	system string
	meta   fireglobe.AgentMetadata

	mu       sync.Mutex
	threadID string
	history  []*genai.Content
}

// New creates an Agent backed by the Gemini API.
func New(ctx context.Context, cfg Config) (*Agent, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return NewWithGenerator(cli.Models, cfg), nil
}

// NewWithGenerator creates an Agent that calls gen.
func NewWithGenerator(gen Generator, cfg Config) *Agent {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	meta := cfg.Metadata
	if meta.Framework == "" {
		meta.Framework = "Google GenAI"
	}
	if meta.Name == "" {
		meta.Name = "Gemini Agent (" + model + ")"
	}
	return &Agent{
		gen:      gen,
		model:    model,
		system:   cfg.SystemPrompt,
		meta:     meta.WithDefaults(),
		threadID: fireglobe.NewThreadID(time.Now()),
	}
}

func textContent(role, text string) *genai.Content {
	return &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}}
}

// SendMessage appends text to the thread and returns the model reply.
func (a *Agent) SendMessage(ctx context.Context, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user := textContent(roleUser, text)
	contents := append(append([]*genai.Content(nil), a.history...), user)

	var genCfg *genai.GenerateContentConfig
	if a.system != "" {
		genCfg = &genai.GenerateContentConfig{SystemInstruction: textContent(roleUser, a.system)}
	}
	resp, err := a.gen.GenerateContent(ctx, a.model, contents, genCfg)
	if err != nil {
		return "", &fireglobe.AgentError{Agent: a.meta.Name, Err: err}
	}
	reply, err := replyText(resp)
	if err != nil {
		return "", &fireglobe.AgentError{Agent: a.meta.Name, Err: err}
	}
	a.history = append(a.history, user, textContent(roleModel, reply))
	return reply, nil
}

func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fireglobe.ErrEmptyResponse
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fireglobe.ErrEmptyResponse
	}
	return sb.String(), nil
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

func (a *Agent) Cleanup(ctx context.Context) error { return a.Reset(ctx) }

var _ fireglobe.Agent = (*Agent)(nil)
