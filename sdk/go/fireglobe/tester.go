package fireglobe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fallback user messages used when the backend cannot generate one.
const initialFallbackMessage = "Hi! I'm interested in your DeFi agent. What can you help me with?"

var followUpFallbacks = [...]string{
	"That's interesting. Can you tell me more?",
	"How does that work exactly?",
	"What are the benefits of this?",
	"Can you give me an example?",
	"I see. What else should I know?",
}

// endPhrases end a conversation early once it has at least minEndMessages.
var endPhrases = []string{
	"goodbye",
	"have a great day",
	"feel free to reach out",
	"is there anything else",
}

const minEndMessages = 4

// Tester runs personality-driven conversations against an Agent, collects
// AI evaluations, and aggregates the results.
type Tester struct {
	cfg     Config
	backend Backend
	relay   Relay
	convLog *ConversationLogger
	logger  *slog.Logger
	events  *listenerRegistry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// TesterOption configures a Tester.
type TesterOption func(*Tester)

// WithBackend replaces the HTTP backend client built from Config.BackendURL.
func WithBackend(b Backend) TesterOption {
	return func(t *Tester) { t.backend = b }
}

// WithRelay replaces the relay client built from Config.DBServerURL.
func WithRelay(r Relay) TesterOption {
	return func(t *Tester) { t.relay = r }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) TesterOption {
	return func(t *Tester) { t.logger = l }
}

// WithConversationLogger replaces the logger built from
// Config.ConversationOutputPath.
func WithConversationLogger(l *ConversationLogger) TesterOption {
	return func(t *Tester) { t.convLog = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TesterOption {
	return func(t *Tester) { t.now = now }
}

// WithSleep overrides how the Tester waits between turns and polls.
// The function must return ctx.Err() when ctx is cancelled.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) TesterOption {
	return func(t *Tester) { t.sleep = sleep }
}

// WithIDGenerator overrides test and conversation id generation.
func WithIDGenerator(gen func() string) TesterOption {
	return func(t *Tester) { t.newID = gen }
}

// NewTester validates cfg and builds a Tester.
func NewTester(cfg Config, opts ...TesterOption) (*Tester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Tester{
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepContext,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.events = &listenerRegistry{logger: t.logger}

	if t.backend == nil {
		bc, err := NewBackendClient(BackendConfig{BaseURL: cfg.BackendURL, Timeout: cfg.BackendTimeout})
		if err != nil {
			return nil, err
		}
		t.backend = bc
	}
	if t.relay == nil && cfg.DBServerURL != "" {
		rc, err := NewRelayClient(RelayConfig{BaseURL: cfg.DBServerURL})
		if err != nil {
			return nil, err
		}
		t.relay = rc
	}
	if t.convLog == nil && cfg.SaveConversations {
		t.convLog = NewConversationLogger(cfg.ConversationOutputPath, t.logger)
	}
	return t, nil
}

// Config returns the configuration the Tester was built with.
func (t *Tester) Config() Config { return t.cfg }

// Subscribe registers a listener for progress events and returns a function
// that removes it. Listeners run synchronously in registration order; a
// panicking listener is logged and does not affect other listeners or the run.
func (t *Tester) Subscribe(fn Listener) (unsubscribe func()) {
	return t.events.subscribe(fn)
}

func (t *Tester) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = t.now()
	}
	t.events.emit(ev)
}

func (t *Tester) emitError(scope string, err error) {
	t.emit(Event{Type: EventError, Error: err.Error(), Context: scope})
}

// Run executes a full test: personalities, one sequential conversation per
// personality, evaluations, aggregation, local persistence and the optional
// relay upload.
//
// Only a personality-generation failure aborts the run. If ctx is cancelled
// mid-run, the conversations finished so far are evaluated as failed or
// completed, results are still saved locally, and ctx.Err() is returned
// alongside the partial results.
func (t *Tester) Run(ctx context.Context, agent Agent) (*TestResults, error) {
	results := &TestResults{
		TestID:           t.newID(),
		AgentDescription: t.cfg.AgentDescription,
		Agent:            agent.Metadata().WithDefaults(),
		Conversations:    []Conversation{},
		Evaluations:      []EvaluationResult{},
		StartTime:        t.now(),
	}
	t.emit(Event{Type: EventTestStarted, TestID: results.TestID, Timestamp: results.StartTime})
	t.logger.Info("fireglobe: test started", "test_id", results.TestID, "personalities", t.cfg.NumPersonalities)

	personalities, err := t.backend.GeneratePersonalities(ctx, t.cfg.AgentDescription, t.cfg.AgentCapabilities, t.cfg.NumPersonalities)
	if err != nil {
		t.emitError("run", fmt.Errorf("Test failed: %w", err))
		return nil, fmt.Errorf("fireglobe: generate personalities: %w", err)
	}
	results.Personalities = personalities
	t.emit(Event{Type: EventPersonalitiesGenerated, TestID: results.TestID, Count: len(personalities), Personalities: personalities})

	var runErr error
	for _, p := range personalities {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		conv, err := t.runConversation(ctx, agent, p, results)
		results.Conversations = append(results.Conversations, *conv)
		if err != nil {
			t.logger.Warn("fireglobe: conversation failed", "personality", p.Name, "conversation_id", conv.ID, "error", err)
			t.emitError(p.Name, fmt.Errorf("Failed conversation with %s: %w", p.Name, err))
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
		}
	}

	if runErr == nil {
		t.evaluate(ctx, results)
	}

	results.EndTime = t.now()
	results.OverallScore = OverallScore(results.Evaluations)
	results.Summary = Summarize(results.Conversations, results.Evaluations)

	t.persist(results)
	if runErr == nil {
		t.upload(ctx, results)
	} else {
		results.Outcomes = append(results.Outcomes, skippedOutcome(TaskUpload, "run cancelled"))
	}

	t.logger.Info("fireglobe: test completed",
		"test_id", results.TestID,
		"overall_score", results.OverallScore,
		"conversations", results.Summary.TotalConversations,
		"failed", results.Summary.FailedConversations,
		"duration", results.Duration().String(),
	)
	t.emit(Event{Type: EventTestCompleted, TestID: results.TestID, Results: results})
	return results, runErr
}

// evaluate requests an evaluation for every completed conversation.
// Conversations[i] was driven by Personalities[i].
func (t *Tester) evaluate(ctx context.Context, results *TestResults) {
	for i, conv := range results.Conversations {
		if conv.Status != StatusCompleted {
			continue
		}
		p := results.Personalities[i]
		eval, err := t.backend.EvaluateConversation(ctx, p.Name, p.Personality, p.Description, conv.Messages)
		if err != nil {
			t.logger.Warn("fireglobe: evaluation failed", "conversation_id", conv.ID, "error", err)
			t.emitError(conv.ID, fmt.Errorf("Failed evaluation for %s: %w", conv.PersonalityName, err))
			continue
		}
		eval.ConversationID = conv.ID
		results.Evaluations = append(results.Evaluations, *eval)
		t.emit(Event{Type: EventEvaluationCompleted, ConversationID: conv.ID, PersonalityName: conv.PersonalityName, Score: eval.Score})
	}
}

func (t *Tester) runConversation(ctx context.Context, agent Agent, p Personality, results *TestResults) (*Conversation, error) {
	conv := &Conversation{
		ID:              t.newID(),
		PersonalityName: p.Name,
		Messages:        []ConversationMessage{},
		StartTime:       t.now(),
		Status:          StatusInProgress,
	}

	err := t.converse(ctx, agent, p, conv, results)
	end := t.now()
	conv.EndTime = &end
	if err != nil {
		conv.Status = StatusFailed
		conv.Error = err.Error()
		return conv, err
	}
	conv.Status = StatusCompleted

	if err := t.backend.StoreConversation(ctx, conv.ID, p.Name, conv.Messages); err != nil {
		t.logger.Warn("fireglobe: store conversation failed", "conversation_id", conv.ID, "error", err)
		results.Outcomes = append(results.Outcomes, warnOutcome(TaskStoreConversation, conv.ID, err))
	} else {
		results.Outcomes = append(results.Outcomes, okOutcome(TaskStoreConversation, conv.ID, ""))
	}

	if t.cfg.TriggerMetrics {
		if err := t.backend.GenerateMetrics(ctx, conv.ID); err != nil {
			t.logger.Warn("fireglobe: metrics generation failed", "conversation_id", conv.ID, "error", err)
			results.Outcomes = append(results.Outcomes, warnOutcome(TaskGenerateMetrics, conv.ID, err))
		} else {
			results.Outcomes = append(results.Outcomes, okOutcome(TaskGenerateMetrics, conv.ID, ""))
		}
	}

	t.emit(Event{Type: EventConversationCompleted, ConversationID: conv.ID, PersonalityName: p.Name})
	return conv, nil
}

// converse drives the turn loop. Any returned error fails the conversation.
func (t *Tester) converse(ctx context.Context, agent Agent, p Personality, conv *Conversation, results *TestResults) error {
	if err := agent.Reset(ctx); err != nil {
		return fmt.Errorf("reset agent: %w", err)
	}
	t.emit(Event{Type: EventConversationStarted, ConversationID: conv.ID, PersonalityName: p.Name})

	maxTurns := t.cfg.MaxMessagesPerConversation
	for turn := 0; turn < maxTurns; turn++ {
		text := t.nextUserMessage(ctx, p, conv.Messages, turn)
		t.appendMessage(conv, ConversationMessage{
			Role:        RoleUser,
			Content:     text,
			Timestamp:   t.now(),
			Personality: p.Name,
		}, results)

		reply, err := agent.SendMessage(ctx, text)
		if err != nil {
			return fmt.Errorf("turn %d: %w", turn+1, err)
		}
		if strings.TrimSpace(reply) == "" {
			return fmt.Errorf("turn %d: %w", turn+1, &AgentError{Agent: agent.Metadata().Name, Err: ErrEmptyResponse})
		}
		t.appendMessage(conv, ConversationMessage{
			Role:      RoleAgent,
			Content:   reply,
			Timestamp: t.now(),
		}, results)

		// End phrases are matched against the agent's own reply, not the
		// synthetic analysis message that may follow it.
		ending := shouldEndConversation(conv.Messages)

		analyzed := false
		if tx, ok := DetectTransaction(reply, t.cfg.DefaultChainID); ok {
			analyzed = t.analyzeTransaction(ctx, p, conv, tx, results)
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if analyzed {
			if err := t.sleep(ctx, t.cfg.TurnDelay); err != nil {
				return err
			}
		}

		if ending {
			break
		}
		if !analyzed && turn < maxTurns-1 {
			if err := t.sleep(ctx, t.cfg.TurnDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tester) appendMessage(conv *Conversation, msg ConversationMessage, results *TestResults) {
	conv.Messages = append(conv.Messages, msg)
	t.emit(Event{Type: EventMessageSent, ConversationID: conv.ID, Role: msg.Role, Content: msg.Content})
	if t.convLog != nil && t.cfg.SaveConversations && t.cfg.RealTimeLogging {
		if err := t.convLog.LogMessage(conv.ID, msg); err != nil {
			results.Outcomes = append(results.Outcomes, warnOutcome(TaskLogMessage, conv.ID, err))
		}
	}
}

// nextUserMessage asks the backend for the personality's next message and
// falls back to a fixed script when the backend fails, so a backend outage
// never stalls the loop.
func (t *Tester) nextUserMessage(ctx context.Context, p Personality, previous []ConversationMessage, turn int) string {
	isInitial := turn == 0
	msg, err := t.backend.GeneratePersonalityMessage(ctx, p, previous, isInitial, t.cfg.AgentDescription)
	if err == nil {
		return msg
	}
	t.logger.Warn("fireglobe: message generation failed, using fallback", "personality", p.Name, "turn", turn+1, "error", err)
	return FallbackMessage(isInitial, len(previous))
}

// FallbackMessage returns the scripted user message: the greeting for the
// opening turn, otherwise followUpFallbacks indexed by the number of
// messages already in the conversation, mod 5.
func FallbackMessage(isInitial bool, previousCount int) string {
	if isInitial {
		return initialFallbackMessage
	}
	return followUpFallbacks[previousCount%len(followUpFallbacks)]
}

func shouldEndConversation(msgs []ConversationMessage) bool {
	if len(msgs) < minEndMessages {
		return false
	}
	last := strings.ToLower(msgs[len(msgs)-1].Content)
	for _, phrase := range endPhrases {
		if strings.Contains(last, phrase) {
			return true
		}
	}
	return false
}

// analyzeTransaction submits a detected transaction for analysis, waits for
// the result, and appends it as a synthetic agent message. It reports whether
// the message was appended. Failures are recorded as warnings and never fail
// the conversation.
func (t *Tester) analyzeTransaction(ctx context.Context, p Personality, conv *Conversation, tx DetectedTransaction, results *TestResults) bool {
	t.logger.Info("fireglobe: transaction detected", "conversation_id", conv.ID, "tx_hash", tx.TxHash, "chain_id", tx.ChainID)

	analysis, err := t.requestAnalysis(ctx, p, conv, tx)
	if err != nil {
		t.logger.Warn("fireglobe: transaction analysis unavailable", "conversation_id", conv.ID, "tx_hash", tx.TxHash, "error", err)
		results.Outcomes = append(results.Outcomes, warnOutcome(TaskTransactionAnalysis, conv.ID, err))
		t.emitError(conv.ID, fmt.Errorf("Transaction analysis skipped for %s: %w", tx.TxHash, err))
		return false
	}
	results.Outcomes = append(results.Outcomes, okOutcome(TaskTransactionAnalysis, conv.ID, tx.TxHash))

	ts := t.now()
	if parsed, perr := time.Parse(time.RFC3339, analysis.Timestamp); perr == nil {
		ts = parsed
	}
	t.appendMessage(conv, ConversationMessage{
		Role:      RoleAgent,
		Content:   fmt.Sprintf("Transaction analysis for %s:\n%s", tx.TxHash, analysis.Analysis),
		Timestamp: t.now(),
		TransactionAnalysis: &TransactionAnalysis{
			TransactionHash: tx.TxHash,
			Chain:           tx.ChainID,
			Analysis:        analysis.Analysis,
			Timestamp:       ts,
		},
	}, results)
	t.emit(Event{Type: EventTransactionAnalyzed, ConversationID: conv.ID, TransactionHash: tx.TxHash, ChainID: tx.ChainID})
	return true
}

func (t *Tester) requestAnalysis(ctx context.Context, p Personality, conv *Conversation, tx DetectedTransaction) (*AnalysisStatus, error) {
	ack, err := t.backend.AnalyzeAgentTransaction(ctx, AnalyzeTransactionRequest{
		ConversationID:  conv.ID,
		PersonalityName: p.Name,
		Messages:        conv.Messages,
		TransactionHash: tx.TxHash,
		ChainID:         tx.ChainID,
	})
	if err != nil {
		return nil, err
	}
	if !ack.Success {
		return nil, fmt.Errorf("analysis request rejected: %s", ack.Message)
	}
	return t.awaitAnalysis(ctx, tx.TxHash)
}

// awaitAnalysis polls until the analysis is ready, ctx is cancelled, or
// AnalysisTimeout elapses. Poll errors are treated as "not ready yet".
func (t *Tester) awaitAnalysis(ctx context.Context, txHash string) (*AnalysisStatus, error) {
	var deadline time.Time
	if t.cfg.AnalysisTimeout > 0 {
		deadline = t.now().Add(t.cfg.AnalysisTimeout)
	}
	for attempt := 1; ; attempt++ {
		status, err := t.backend.GetTransactionAnalysis(ctx, txHash)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.logger.Debug("fireglobe: analysis poll failed", "tx_hash", txHash, "attempt", attempt, "error", err)
		case status.Ready():
			return status, nil
		}
		if !deadline.IsZero() && !t.now().Before(deadline) {
			return nil, fmt.Errorf("%w after %s (%d polls)", ErrAnalysisTimeout, t.cfg.AnalysisTimeout, attempt)
		}
		if err := t.sleep(ctx, t.cfg.AnalysisPollInterval); err != nil {
			return nil, err
		}
	}
}

// persist writes the results JSON and HTML report when enabled.
func (t *Tester) persist(results *TestResults) {
	if !t.cfg.SaveConversations || t.convLog == nil {
		results.Outcomes = append(results.Outcomes, skippedOutcome(TaskSaveResults, "saving disabled"))
		return
	}
	if path, err := t.convLog.SaveTestResults(results); err != nil {
		results.Outcomes = append(results.Outcomes, warnOutcome(TaskSaveResults, "", err))
	} else {
		results.Outcomes = append(results.Outcomes, okOutcome(TaskSaveResults, "", path))
	}
	if !t.cfg.GenerateHTMLReport {
		return
	}
	if path, err := t.convLog.SaveConversationsAsHTML(results); err != nil {
		results.Outcomes = append(results.Outcomes, warnOutcome(TaskSaveHTML, "", err))
	} else {
		results.Outcomes = append(results.Outcomes, okOutcome(TaskSaveHTML, "", path))
	}
}

// upload pushes the completed run to the relay. Local results remain the
// source of truth when it fails.
func (t *Tester) upload(ctx context.Context, results *TestResults) {
	if t.relay == nil {
		results.Outcomes = append(results.Outcomes, skippedOutcome(TaskUpload, "no relay configured"))
		return
	}
	res, err := t.relay.UploadComplete(ctx, t.cfg.AccessToken, "")
	switch {
	case err != nil:
	case res == nil:
		err = errors.New("relay returned no upload result")
	case !res.Success:
		err = errors.New(res.Message)
	}
	if err != nil {
		t.logger.Warn("fireglobe: upload failed", "test_id", results.TestID, "error", err)
		results.Outcomes = append(results.Outcomes, warnOutcome(TaskUpload, "", err))
		return
	}
	results.Upload = res
	results.Outcomes = append(results.Outcomes, okOutcome(TaskUpload, "", res.RunID))
	t.logger.Info("fireglobe: run uploaded", "test_id", results.TestID, "run_id", res.RunID, "kg_hash", res.KG.Hash)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
