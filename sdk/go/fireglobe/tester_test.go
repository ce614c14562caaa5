package fireglobe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeBackend is an in-memory Backend. Nil hooks fall back to canned answers.
type fakeBackend struct {
	mu sync.Mutex

	personalities []Personality
	personaErr    error

	messageFn  func(p Personality, previous []ConversationMessage, isInitial bool) (string, error)
	evalFn     func(personalityName string, messages []ConversationMessage) (*EvaluationResult, error)
	storeErr   error
	metricsErr error
	ackFn      func(req AnalyzeTransactionRequest) (*AnalysisAck, error)
	pollFn     func(txHash string, attempt int) (*AnalysisStatus, error)

	stored       []string
	metrics      []string
	analyzeCalls []AnalyzeTransactionRequest
	polls        int
}

func (f *fakeBackend) GeneratePersonalities(_ context.Context, _, _ string, count int) ([]Personality, error) {
	if f.personaErr != nil {
		return nil, f.personaErr
	}
	if f.personalities != nil {
		return f.personalities, nil
	}
	out := make([]Personality, count)
	for i := range out {
		out[i] = Personality{Name: fmt.Sprintf("P%d", i+1), Personality: "curious", Description: "tester"}
	}
	return out, nil
}

func (f *fakeBackend) GeneratePersonalityMessage(_ context.Context, p Personality, previous []ConversationMessage, isInitial bool, _ string) (string, error) {
	if f.messageFn != nil {
		return f.messageFn(p, previous, isInitial)
	}
	return fmt.Sprintf("%s message %d", p.Name, len(previous)/2+1), nil
}

func (f *fakeBackend) EvaluateConversation(_ context.Context, personalityName, _, _ string, messages []ConversationMessage) (*EvaluationResult, error) {
	if f.evalFn != nil {
		return f.evalFn(personalityName, messages)
	}
	return &EvaluationResult{
		ConversationID: "backend-assigned",
		Score:          80,
		Strengths:      []string{"clear"},
		Weaknesses:     []string{"slow"},
	}, nil
}

func (f *fakeBackend) StoreConversation(_ context.Context, conversationID, _ string, _ []ConversationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, conversationID)
	return f.storeErr
}

func (f *fakeBackend) AnalyzeAgentTransaction(_ context.Context, req AnalyzeTransactionRequest) (*AnalysisAck, error) {
	f.mu.Lock()
	f.analyzeCalls = append(f.analyzeCalls, req)
	f.mu.Unlock()
	if f.ackFn != nil {
		return f.ackFn(req)
	}
	return &AnalysisAck{Success: true, Message: "queued"}, nil
}

func (f *fakeBackend) GetTransactionAnalysis(_ context.Context, txHash string) (*AnalysisStatus, error) {
	f.mu.Lock()
	f.polls++
	attempt := f.polls
	f.mu.Unlock()
	if f.pollFn != nil {
		return f.pollFn(txHash, attempt)
	}
	return &AnalysisStatus{Success: true, Analysis: "looks fine", Timestamp: "2026-01-01T00:00:00Z"}, nil
}

func (f *fakeBackend) GenerateMetrics(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = append(f.metrics, conversationID)
	return f.metricsErr
}

type fakeRelay struct {
	calls  int
	result *UploadResult
	err    error
}

func (r *fakeRelay) UploadComplete(_ context.Context, _, _ string) (*UploadResult, error) {
	r.calls++
	return r.result, r.err
}

// fakeClock advances only when the Tester sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AgentDescription = "A DeFi agent that swaps tokens"
	cfg.AgentCapabilities = "swaps, balances"
	cfg.NumPersonalities = 2
	cfg.MaxMessagesPerConversation = 3
	cfg.SaveConversations = false
	cfg.BackendURL = "http://backend.invalid"
	return cfg
}

func newTestTester(t *testing.T, cfg Config, backend Backend, opts ...TesterOption) (*Tester, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	base := []TesterOption{
		WithBackend(backend),
		WithLogger(discardLogger()),
		WithClock(clock.Now),
		WithSleep(clock.Sleep),
	}
	tester, err := NewTester(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewTester: %v", err)
	}
	return tester, clock
}

func collectEvents(tester *Tester) *[]Event {
	var events []Event
	tester.Subscribe(func(ev Event) { events = append(events, ev) })
	return &events
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestNewTesterValidatesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.AgentDescription = ""
	if _, err := NewTester(cfg); err == nil {
		t.Fatal("expected error for missing AgentDescription")
	}

	cfg = testConfig(t)
	cfg.DBServerURL = "http://relay.invalid"
	if _, err := NewTester(cfg); err == nil || !strings.Contains(err.Error(), "AccessToken") {
		t.Fatalf("expected AccessToken error, got %v", err)
	}
}

func TestRunOneConversationPerPersonality(t *testing.T) {
	backend := &fakeBackend{}
	tester, clock := newTestTester(t, testConfig(t), backend)
	agent := NewScriptedAgent("Sure, I can help.")

	results, err := tester.Run(context.Background(), agent)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results.Conversations) != 2 {
		t.Fatalf("conversations = %d, want 2", len(results.Conversations))
	}
	for i, c := range results.Conversations {
		if c.Status != StatusCompleted {
			t.Errorf("conversation %d status = %s", i, c.Status)
		}
		if len(c.Messages) != 6 {
			t.Errorf("conversation %d messages = %d, want 6", i, len(c.Messages))
		}
		if c.PersonalityName != results.Personalities[i].Name {
			t.Errorf("conversation %d personality = %s", i, c.PersonalityName)
		}
		for j, m := range c.Messages {
			want := RoleUser
			if j%2 == 1 {
				want = RoleAgent
			}
			if m.Role != want {
				t.Errorf("conversation %d message %d role = %s, want %s", i, j, m.Role, want)
			}
		}
		if c.EndTime == nil || c.EndTime.Before(c.StartTime) {
			t.Errorf("conversation %d has bad end time", i)
		}
	}
	if len(results.Evaluations) != 2 {
		t.Fatalf("evaluations = %d", len(results.Evaluations))
	}
	for i, e := range results.Evaluations {
		if e.ConversationID != results.Conversations[i].ID {
			t.Errorf("evaluation %d conversation id = %s, want %s", i, e.ConversationID, results.Conversations[i].ID)
		}
	}
	if results.OverallScore != 80 {
		t.Errorf("OverallScore = %d", results.OverallScore)
	}
	if results.Summary.SuccessfulConversations != 2 || results.Summary.FailedConversations != 0 {
		t.Errorf("summary = %+v", results.Summary)
	}
	if len(backend.stored) != 2 || len(backend.metrics) != 2 {
		t.Errorf("stored=%d metrics=%d", len(backend.stored), len(backend.metrics))
	}
	// Two delays per conversation: after turns 1 and 2, none after the last.
	if len(clock.sleeps) != 4 {
		t.Errorf("sleeps = %v", clock.sleeps)
	}
	if o, ok := results.Outcome(TaskUpload); !ok || o.Status != OutcomeSkipped {
		t.Errorf("upload outcome = %+v", o)
	}
	if results.Agent.Name != "Scripted Agent" {
		t.Errorf("agent metadata = %+v", results.Agent)
	}
}

func TestRunSingleTurnEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	cfg.MaxMessagesPerConversation = 2
	backend := &fakeBackend{}
	tester, _ := newTestTester(t, cfg, backend)

	results, err := tester.Run(context.Background(), NewScriptedAgent("ok"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(results.Conversations[0].Messages); got != 4 {
		t.Fatalf("messages = %d, want 4", got)
	}
	if len(results.Evaluations) != 1 {
		t.Fatalf("evaluations = %d", len(results.Evaluations))
	}
}

func TestRunEventsInOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	cfg.MaxMessagesPerConversation = 1
	tester, _ := newTestTester(t, cfg, &fakeBackend{})
	events := collectEvents(tester)

	if _, err := tester.Run(context.Background(), NewScriptedAgent("ok")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []EventType{
		EventTestStarted,
		EventPersonalitiesGenerated,
		EventConversationStarted,
		EventMessageSent,
		EventMessageSent,
		EventConversationCompleted,
		EventEvaluationCompleted,
		EventTestCompleted,
	}
	got := eventTypes(*events)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v\nwant %v", got, want)
	}
	last := (*events)[len(*events)-1]
	if last.Results == nil || last.Results.TestID == "" {
		t.Fatal("test_completed must carry results")
	}
	if (*events)[1].Count != 1 {
		t.Errorf("personalities_generated count = %d", (*events)[1].Count)
	}
}

func TestRunEndsEarlyOnFarewell(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	cfg.MaxMessagesPerConversation = 10
	tester, _ := newTestTester(t, cfg, &fakeBackend{})

	agent := NewScriptedAgent("Hello there.", "Glad to help. Goodbye!", "never sent")
	results, err := tester.Run(context.Background(), agent)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(results.Conversations[0].Messages); got != 4 {
		t.Fatalf("messages = %d, want 4", got)
	}
}

func TestFarewellIgnoredBeforeFourMessages(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	cfg.MaxMessagesPerConversation = 3
	tester, _ := newTestTester(t, cfg, &fakeBackend{})

	results, err := tester.Run(context.Background(), NewScriptedAgent("Goodbye!", "Anything else?", "Have a great day"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Turn 1 says goodbye with only 2 messages; turn 2 has no phrase;
	// turn 3 is the last turn anyway.
	if got := len(results.Conversations[0].Messages); got != 6 {
		t.Fatalf("messages = %d, want 6", got)
	}
}

func TestFallbackMessagesWhenBackendFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	cfg.MaxMessagesPerConversation = 7
	backend := &fakeBackend{
		messageFn: func(Personality, []ConversationMessage, bool) (string, error) {
			return "", &BackendError{Op: opMessageGeneration, Detail: "down"}
		},
	}
	tester, _ := newTestTester(t, cfg, backend)

	results, err := tester.Run(context.Background(), NewScriptedAgent("ok"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := results.Conversations[0].Messages
	if msgs[0].Content != initialFallbackMessage {
		t.Errorf("first message = %q", msgs[0].Content)
	}
	// Follow-up n is sent with 2n messages already in the conversation.
	for n := 1; n < 7; n++ {
		want := followUpFallbacks[(2*n)%5]
		if got := msgs[2*n].Content; got != want {
			t.Errorf("follow-up %d = %q, want %q", n, got, want)
		}
	}
	if msgs[2].Content != "What are the benefits of this?" {
		t.Errorf("first follow-up = %q", msgs[2].Content)
	}
	if msgs[4].Content != "I see. What else should I know?" {
		t.Errorf("second follow-up = %q", msgs[4].Content)
	}
}

func TestFallbackMessageIndexesByHistoryLength(t *testing.T) {
	if got := FallbackMessage(true, 0); got != initialFallbackMessage {
		t.Errorf("initial = %q", got)
	}
	for n := 0; n < 12; n++ {
		if got, want := FallbackMessage(false, n), followUpFallbacks[n%5]; got != want {
			t.Errorf("FallbackMessage(false, %d) = %q, want %q", n, got, want)
		}
	}
	if FallbackMessage(false, 2) != FallbackMessage(false, 7) {
		t.Error("follow-ups should cycle every five messages")
	}
}

func TestAgentFailureMarksConversationFailed(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 2
	cfg.MaxMessagesPerConversation = 1
	backend := &fakeBackend{}
	tester, _ := newTestTester(t, cfg, backend)
	events := collectEvents(tester)

	calls := 0
	agent := AgentFunc(func(context.Context, string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("model overloaded")
		}
		return "fine", nil
	})

	results, err := tester.Run(context.Background(), agent)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results.Conversations) != 2 {
		t.Fatalf("conversations = %d", len(results.Conversations))
	}
	failed := results.Conversations[0]
	if failed.Status != StatusFailed || !strings.Contains(failed.Error, "model overloaded") {
		t.Fatalf("first conversation = %+v", failed)
	}
	if results.Conversations[1].Status != StatusCompleted {
		t.Fatal("second conversation should complete")
	}
	if len(results.Evaluations) != 1 || results.Evaluations[0].ConversationID != results.Conversations[1].ID {
		t.Fatalf("evaluations = %+v", results.Evaluations)
	}
	if results.Summary.FailedConversations != 1 {
		t.Errorf("summary = %+v", results.Summary)
	}
	if len(backend.stored) != 1 {
		t.Errorf("failed conversations must not be stored: %v", backend.stored)
	}

	var errEvent *Event
	for i := range *events {
		if (*events)[i].Type == EventError {
			errEvent = &(*events)[i]
		}
	}
	if errEvent == nil || errEvent.Context != "P1" || !strings.HasPrefix(errEvent.Error, "Failed conversation with P1") {
		t.Fatalf("error event = %+v", errEvent)
	}
}

func TestEmptyAgentReplyFailsConversation(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	tester, _ := newTestTester(t, cfg, &fakeBackend{})

	results, err := tester.Run(context.Background(), blankAgent{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results.Conversations[0].Status != StatusFailed {
		t.Fatalf("status = %s", results.Conversations[0].Status)
	}
}

type blankAgent struct{}

func (blankAgent) SendMessage(context.Context, string) (string, error) { return "   ", nil }
func (blankAgent) Reset(context.Context) error                         { return nil }
func (blankAgent) Metadata() AgentMetadata                             { return AgentMetadata{}.WithDefaults() }
func (blankAgent) Cleanup(context.Context) error                       { return nil }

func TestPersonalityFailureAbortsRun(t *testing.T) {
	backend := &fakeBackend{personaErr: &BackendError{Op: opBackend, Detail: "Failed to generate personalities"}}
	tester, _ := newTestTester(t, testConfig(t), backend)
	events := collectEvents(tester)

	results, err := tester.Run(context.Background(), NewScriptedAgent("ok"))
	if err == nil || results != nil {
		t.Fatalf("expected abort, got %v %v", results, err)
	}
	if !IsBackendError(err) {
		t.Errorf("error should wrap BackendError: %v", err)
	}
	got := eventTypes(*events)
	if len(got) != 2 || got[1] != EventError {
		t.Fatalf("events = %v", got)
	}
}

func TestEvaluationFailureSkipsEvaluation(t *testing.T) {
	backend := &fakeBackend{
		evalFn: func(name string, _ []ConversationMessage) (*EvaluationResult, error) {
			if name == "P1" {
				return nil, &BackendError{Op: opEvaluation, Detail: "timeout"}
			}
			return &EvaluationResult{Score: 61}, nil
		},
	}
	tester, _ := newTestTester(t, testConfig(t), backend)

	results, err := tester.Run(context.Background(), NewScriptedAgent("ok"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results.Evaluations) != 1 || results.OverallScore != 61 {
		t.Fatalf("evaluations = %+v score = %d", results.Evaluations, results.OverallScore)
	}
	if results.Summary.SuccessfulConversations != 2 {
		t.Errorf("evaluation failure must not fail the conversation: %+v", results.Summary)
	}
}

func TestStoreAndMetricsFailuresAreWarnings(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	backend := &fakeBackend{
		storeErr:   &BackendError{Op: opStorage, StatusCode: 500, Detail: "db down"},
		metricsErr: &BackendError{Op: opMetrics, StatusCode: 404, Detail: "Not Found"},
	}
	tester, _ := newTestTester(t, cfg, backend)

	results, err := tester.Run(context.Background(), NewScriptedAgent("ok"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results.Conversations[0].Status != StatusCompleted {
		t.Fatal("conversation should still complete")
	}
	warnings := results.Warnings()
	if len(warnings) != 2 {
		t.Fatalf("warnings = %+v", warnings)
	}
	if warnings[0].Task != TaskStoreConversation || warnings[1].Task != TaskGenerateMetrics {
		t.Errorf("warnings = %+v", warnings)
	}
}

func TestMetricsNotTriggeredWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.TriggerMetrics = false
	backend := &fakeBackend{}
	tester, _ := newTestTester(t, cfg, backend)

	if _, err := tester.Run(context.Background(), NewScriptedAgent("ok")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(backend.metrics) != 0 {
		t.Fatalf("metrics called %d times", len(backend.metrics))
	}
}

func TestTransactionAnalysisAppendsSyntheticMessage(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	cfg.MaxMessagesPerConversation = 1
	hash := "0x" + strings.Repeat("1f", 32)
	backend := &fakeBackend{
		pollFn: func(_ string, attempt int) (*AnalysisStatus, error) {
			if attempt < 3 {
				return &AnalysisStatus{Success: false, Message: "pending"}, nil
			}
			return &AnalysisStatus{Success: true, Analysis: "Swapped 0.1 ETH for USDC"}, nil
		},
	}
	tester, clock := newTestTester(t, cfg, backend)
	events := collectEvents(tester)

	reply := "Done! Your swap on Base Sepolia is confirmed: " + hash
	results, err := tester.Run(context.Background(), NewScriptedAgent(reply))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := results.Conversations[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	synthetic := msgs[2]
	if synthetic.Role != RoleAgent || synthetic.TransactionAnalysis == nil {
		t.Fatalf("synthetic message = %+v", synthetic)
	}
	if synthetic.TransactionAnalysis.TransactionHash != hash || synthetic.TransactionAnalysis.Chain != ChainBaseSepolia {
		t.Errorf("analysis = %+v", synthetic.TransactionAnalysis)
	}
	if len(backend.analyzeCalls) != 1 || backend.analyzeCalls[0].ChainID != ChainBaseSepolia {
		t.Errorf("analyze calls = %+v", backend.analyzeCalls)
	}
	if backend.polls != 3 {
		t.Errorf("polls = %d", backend.polls)
	}
	// Two polls, then the pause after the analysis message even though this
	// is the last turn.
	wantSleeps := []time.Duration{cfg.AnalysisPollInterval, cfg.AnalysisPollInterval, cfg.TurnDelay}
	if fmt.Sprint(clock.sleeps) != fmt.Sprint(wantSleeps) {
		t.Errorf("sleeps = %v, want %v", clock.sleeps, wantSleeps)
	}

	var analyzed bool
	for _, ev := range *events {
		if ev.Type == EventTransactionAnalyzed && ev.TransactionHash == hash {
			analyzed = true
		}
	}
	if !analyzed {
		t.Error("missing transaction_analyzed event")
	}
	if o, ok := results.Outcome(TaskTransactionAnalysis); !ok || o.Status != OutcomeOK {
		t.Errorf("analysis outcome = %+v", o)
	}
}

func TestFarewellWithTransactionEndsConversation(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	cfg.MaxMessagesPerConversation = 5
	hash := "0x" + strings.Repeat("a1", 32)
	backend := &fakeBackend{
		pollFn: func(string, int) (*AnalysisStatus, error) {
			return &AnalysisStatus{Success: true, Analysis: "Transfer confirmed"}, nil
		},
	}
	tester, clock := newTestTester(t, cfg, backend)

	agent := NewScriptedAgent("Sure, checking.", "Sent "+hash+" on base. Is there anything else?")
	results, err := tester.Run(context.Background(), agent)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := results.Conversations[0].Messages
	if len(msgs) != 5 {
		t.Fatalf("messages = %d, want 5", len(msgs))
	}
	if msgs[4].TransactionAnalysis == nil {
		t.Errorf("last message = %+v, want the analysis", msgs[4])
	}
	// One turn delay after turn 1 and one pause after the analysis.
	wantSleeps := []time.Duration{cfg.TurnDelay, cfg.TurnDelay}
	if fmt.Sprint(clock.sleeps) != fmt.Sprint(wantSleeps) {
		t.Errorf("sleeps = %v, want %v", clock.sleeps, wantSleeps)
	}
}

func TestTransactionAnalysisTimeoutIsWarning(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	cfg.MaxMessagesPerConversation = 2
	cfg.AnalysisPollInterval = 2 * time.Second
	cfg.AnalysisTimeout = 10 * time.Second
	hash := "0x" + strings.Repeat("ee", 32)
	backend := &fakeBackend{
		pollFn: func(string, int) (*AnalysisStatus, error) {
			return &AnalysisStatus{Success: false, Message: "pending"}, nil
		},
	}
	tester, _ := newTestTester(t, cfg, backend)
	events := collectEvents(tester)

	results, err := tester.Run(context.Background(), NewScriptedAgent("tx "+hash, "anything more?"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	conv := results.Conversations[0]
	if conv.Status != StatusCompleted {
		t.Fatalf("status = %s: %s", conv.Status, conv.Error)
	}
	if len(conv.Messages) != 4 {
		t.Errorf("messages = %d, want 4 (no synthetic message)", len(conv.Messages))
	}
	if backend.polls != 6 {
		t.Errorf("polls = %d, want 6", backend.polls)
	}
	o, ok := results.Outcome(TaskTransactionAnalysis)
	if !ok || o.Status != OutcomeWarn || !strings.Contains(o.Detail, ErrAnalysisTimeout.Error()) {
		t.Fatalf("outcome = %+v", o)
	}
	var sawError bool
	for _, ev := range *events {
		if ev.Type == EventError && ev.Context == conv.ID {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected error event for the analysis timeout")
	}
}

func TestRejectedAnalysisSkipsPolling(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	cfg.MaxMessagesPerConversation = 1
	backend := &fakeBackend{
		ackFn: func(AnalyzeTransactionRequest) (*AnalysisAck, error) {
			return &AnalysisAck{Success: false, Message: "unsupported chain"}, nil
		},
	}
	tester, _ := newTestTester(t, cfg, backend)

	results, err := tester.Run(context.Background(), NewScriptedAgent("0x"+strings.Repeat("aa", 32)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if backend.polls != 0 {
		t.Errorf("polls = %d", backend.polls)
	}
	if len(results.Warnings()) != 1 {
		t.Errorf("warnings = %+v", results.Warnings())
	}
}

func TestPanickingListenerDoesNotAbortRun(t *testing.T) {
	tester, _ := newTestTester(t, testConfig(t), &fakeBackend{})
	tester.Subscribe(func(Event) { panic("listener bug") })
	events := collectEvents(tester)

	results, err := tester.Run(context.Background(), NewScriptedAgent("ok"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results.Conversations) != 2 {
		t.Fatalf("conversations = %d", len(results.Conversations))
	}
	if got := eventTypes(*events); got[len(got)-1] != EventTestCompleted {
		t.Fatalf("later listener missed events: %v", got)
	}
}

func TestAgentResetBetweenConversations(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxMessagesPerConversation = 2
	tester, _ := newTestTester(t, cfg, &fakeBackend{})

	agent := &recordingAgent{}
	results, err := tester.Run(context.Background(), agent)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if agent.resets != 2 {
		t.Fatalf("resets = %d, want 2", agent.resets)
	}
	for i, c := range results.Conversations {
		if got := c.Messages[1].Content; got != "I have seen 1 messages" {
			t.Errorf("conversation %d first reply = %q", i, got)
		}
	}
}

// recordingAgent remembers messages until Reset.
type recordingAgent struct {
	history []string
	resets  int
}

func (a *recordingAgent) SendMessage(_ context.Context, text string) (string, error) {
	a.history = append(a.history, text)
	return fmt.Sprintf("I have seen %d messages", len(a.history)), nil
}

func (a *recordingAgent) Reset(context.Context) error {
	a.resets++
	a.history = nil
	return nil
}

func (a *recordingAgent) Metadata() AgentMetadata       { return AgentMetadata{Name: "recorder"}.WithDefaults() }
func (a *recordingAgent) Cleanup(context.Context) error { return nil }

func TestCancelledRunReturnsPartialResults(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 3
	cfg.MaxMessagesPerConversation = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := &fakeRelay{result: &UploadResult{Success: true}}
	tester, _ := newTestTester(t, cfg, &fakeBackend{}, WithRelay(relay))
	tester.Subscribe(func(ev Event) {
		if ev.Type == EventConversationCompleted {
			cancel()
		}
	})

	results, err := tester.Run(ctx, NewScriptedAgent("ok"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if results == nil || len(results.Conversations) != 1 {
		t.Fatalf("expected one finished conversation, got %+v", results)
	}
	if relay.calls != 0 {
		t.Error("cancelled run must not upload")
	}
	if o, _ := results.Outcome(TaskUpload); o.Status != OutcomeSkipped {
		t.Errorf("upload outcome = %+v", o)
	}
}

func TestUploadOutcome(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	cfg.MaxMessagesPerConversation = 1
	cfg.DBServerURL = "http://relay.invalid"
	cfg.AccessToken = "tok"

	relay := &fakeRelay{result: &UploadResult{Success: true, RunID: "run-1", KG: StoredObject{Hash: "bafy"}}}
	tester, _ := newTestTester(t, cfg, &fakeBackend{}, WithRelay(relay))
	results, err := tester.Run(context.Background(), NewScriptedAgent("ok"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results.Upload == nil || results.Upload.RunID != "run-1" {
		t.Fatalf("upload = %+v", results.Upload)
	}

	failing := &fakeRelay{err: &RelayError{StatusCode: 401, Message: "Invalid access token"}}
	tester, _ = newTestTester(t, cfg, &fakeBackend{}, WithRelay(failing))
	results, err = tester.Run(context.Background(), NewScriptedAgent("ok"))
	if err != nil {
		t.Fatalf("upload failure must not fail the run: %v", err)
	}
	if o, _ := results.Outcome(TaskUpload); o.Status != OutcomeWarn {
		t.Fatalf("upload outcome = %+v", o)
	}

	empty := &fakeRelay{}
	tester, _ = newTestTester(t, cfg, &fakeBackend{}, WithRelay(empty))
	results, err = tester.Run(context.Background(), NewScriptedAgent("ok"))
	if err != nil {
		t.Fatalf("empty upload result must not fail the run: %v", err)
	}
	if o, _ := results.Outcome(TaskUpload); o.Status != OutcomeWarn {
		t.Fatalf("upload outcome = %+v", o)
	}
	if results.Upload != nil {
		t.Errorf("upload = %+v, want nil", results.Upload)
	}
}

func TestRunSavesResultsAndReport(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumPersonalities = 1
	cfg.MaxMessagesPerConversation = 2
	cfg.SaveConversations = true
	cfg.ConversationOutputPath = t.TempDir()
	tester, _ := newTestTester(t, cfg, &fakeBackend{})

	results, err := tester.Run(context.Background(), NewScriptedAgent("ok"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	saved, ok := results.Outcome(TaskSaveResults)
	if !ok || saved.Status != OutcomeOK {
		t.Fatalf("save outcome = %+v", saved)
	}
	loaded, err := LoadTestResults(saved.Detail)
	if err != nil {
		t.Fatalf("LoadTestResults: %v", err)
	}
	if loaded.TestID != results.TestID || len(loaded.Conversations) != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if o, _ := results.Outcome(TaskSaveHTML); o.Status != OutcomeOK {
		t.Fatalf("html outcome = %+v", o)
	}

	conv := results.Conversations[0]
	logged, err := ReadConversationLog(NewConversationLogger(cfg.ConversationOutputPath, nil).ConversationPath(conv.ID))
	if err != nil {
		t.Fatalf("ReadConversationLog: %v", err)
	}
	if len(logged) != len(conv.Messages) {
		t.Fatalf("logged %d messages, conversation has %d", len(logged), len(conv.Messages))
	}
}

func TestShouldEndConversation(t *testing.T) {
	msgs := func(last string, n int) []ConversationMessage {
		out := make([]ConversationMessage, n)
		out[n-1].Content = last
		return out
	}
	cases := []struct {
		last string
		n    int
		want bool
	}{
		{"GOODBYE and thanks", 4, true},
		{"Is there anything else I can do?", 6, true},
		{"Feel free to reach out anytime", 4, true},
		{"goodbye", 3, false},
		{"Here is your balance", 8, false},
	}
	for _, tc := range cases {
		if got := shouldEndConversation(msgs(tc.last, tc.n)); got != tc.want {
			t.Errorf("shouldEnd(%q, %d) = %v, want %v", tc.last, tc.n, got, tc.want)
		}
	}
}
