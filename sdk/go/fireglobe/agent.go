package fireglobe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Agent is the contract an agent under test must satisfy. Any agent that
// can answer a message, start a fresh session, and describe itself can be
// tested without changes to the Tester.
type Agent interface {
	// SendMessage delivers a user message and returns the agent's reply.
	// Implementations return an error wrapping ErrEmptyResponse when the
	// agent produced no content.
	SendMessage(ctx context.Context, text string) (string, error)

	// Reset starts a new logical session with no memory of prior messages.
	Reset(ctx context.Context) error

	Metadata() AgentMetadata

	// Cleanup releases adapter-held resources. Best-effort.
	Cleanup(ctx context.Context) error
}

// NewThreadID returns a session identifier of the form
// "test_conversation_<unix-millis>".
func NewThreadID(now time.Time) string {
	return fmt.Sprintf("test_conversation_%d", now.UnixMilli())
}

// AgentFunc adapts a reply function to the Agent interface. Reset and
// Cleanup are no-ops; the function itself owns any state.
type AgentFunc func(ctx context.Context, text string) (string, error)

// SendMessage calls f.
func (f AgentFunc) SendMessage(ctx context.Context, text string) (string, error) {
	reply, err := f(ctx, text)
	if err != nil {
		return "", &AgentError{Agent: "func", Err: err}
	}
	if strings.TrimSpace(reply) == "" {
		return "", &AgentError{Agent: "func", Err: ErrEmptyResponse}
	}
	return reply, nil
}

func (f AgentFunc) Reset(context.Context) error   { return nil }
func (f AgentFunc) Cleanup(context.Context) error { return nil }

func (f AgentFunc) Metadata() AgentMetadata {
	return AgentMetadata{Name: "Function Agent", Framework: "Custom"}.WithDefaults()
}

// ScriptedAgent replays a fixed list of replies in order, cycling when the
// list is exhausted. Reset rewinds the script and clears the transcript.
type ScriptedAgent struct {
	Replies []string
	Meta    AgentMetadata

	mu         sync.Mutex
	next       int
	threadID   string
	transcript []string
}

// NewScriptedAgent creates a ScriptedAgent with the given replies.
func NewScriptedAgent(replies ...string) *ScriptedAgent {
	return &ScriptedAgent{
		Replies: replies,
		Meta:    AgentMetadata{Name: "Scripted Agent", Framework: "Custom"},
	}
}

// SendMessage returns the next scripted reply.
func (a *ScriptedAgent) SendMessage(_ context.Context, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Replies) == 0 {
		return "", &AgentError{Agent: a.Meta.Name, Err: ErrEmptyResponse}
	}
	reply := a.Replies[a.next%len(a.Replies)]
	a.next++
	a.transcript = append(a.transcript, text)
	return reply, nil
}

// Reset rewinds the script and rotates the thread id.
func (a *ScriptedAgent) Reset(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next = 0
	a.transcript = nil
	a.threadID = NewThreadID(time.Now())
	return nil
}

// Transcript returns the user messages received since the last Reset.
func (a *ScriptedAgent) Transcript() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.transcript...)
}

// ThreadID returns the current session identifier.
func (a *ScriptedAgent) ThreadID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threadID
}

func (a *ScriptedAgent) Metadata() AgentMetadata { return a.Meta.WithDefaults() }

func (a *ScriptedAgent) Cleanup(context.Context) error { return nil }
