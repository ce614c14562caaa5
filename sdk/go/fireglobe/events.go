package fireglobe

import (
	"log/slog"
	"sync"
	"time"
)

// EventType tags a progress event emitted by the Tester.
type EventType string

const (
	EventTestStarted            EventType = "test_started"
	EventPersonalitiesGenerated EventType = "personalities_generated"
	EventConversationStarted    EventType = "conversation_started"
	EventMessageSent            EventType = "message_sent"
	EventTransactionAnalyzed    EventType = "transaction_analyzed"
	EventConversationCompleted  EventType = "conversation_completed"
	EventEvaluationCompleted    EventType = "evaluation_completed"
	EventTestCompleted          EventType = "test_completed"
	EventError                  EventType = "error"
)

// Event is a tagged union; only the fields relevant to Type are set.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	TestID          string        `json:"testId,omitempty"`
	ConversationID  string        `json:"conversationId,omitempty"`
	PersonalityName string        `json:"personalityName,omitempty"`
	Personalities   []Personality `json:"personalities,omitempty"`
	Count           int           `json:"count,omitempty"`
	Role            Role          `json:"role,omitempty"`
	Content         string        `json:"content,omitempty"`
	TransactionHash string        `json:"transactionHash,omitempty"`
	ChainID         string        `json:"chainId,omitempty"`
	Score           float64       `json:"score,omitempty"`
	Results         *TestResults  `json:"results,omitempty"`

	// Error and Context are set for EventError. Context names the
	// personality, conversation, or "run" the error belongs to.
	Error   string `json:"error,omitempty"`
	Context string `json:"context,omitempty"`
}

// Listener receives Tester events synchronously.
type Listener func(Event)

// listenerRegistry fans events out to subscribers in registration order.
// A panicking listener is logged and skipped.
type listenerRegistry struct {
	mu        sync.Mutex
	nextID    int
	listeners []registeredListener
	logger    *slog.Logger
}

type registeredListener struct {
	id int
	fn Listener
}

func (r *listenerRegistry) subscribe(fn Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, registeredListener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, l := range r.listeners {
				if l.id == id {
					r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (r *listenerRegistry) emit(ev Event) {
	r.mu.Lock()
	snapshot := append([]registeredListener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range snapshot {
		r.deliver(l, ev)
	}
}

func (r *listenerRegistry) deliver(l registeredListener, ev Event) {
	defer func() {
		if rec := recover(); rec != nil && r.logger != nil {
			r.logger.Error("fireglobe: event listener panicked", "event", ev.Type, "listener", l.id, "panic", rec)
		}
	}()
	l.fn(ev)
}
