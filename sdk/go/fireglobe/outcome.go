package fireglobe

// OutcomeStatus classifies the result of a non-critical task.
type OutcomeStatus string

const (
	OutcomeOK      OutcomeStatus = "ok"
	OutcomeWarn    OutcomeStatus = "warn"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Non-critical tasks whose failure never aborts a run.
const (
	TaskStoreConversation   = "store_conversation"
	TaskGenerateMetrics     = "generate_metrics"
	TaskTransactionAnalysis = "transaction_analysis"
	TaskLogMessage          = "log_message"
	TaskSaveResults         = "save_results"
	TaskSaveHTML            = "save_html"
	TaskUpload              = "upload"
)

// TaskOutcome records how a best-effort side effect went, so callers can
// detect partial failure without scraping logs.
type TaskOutcome struct {
	Task           string        `json:"task"`
	Status         OutcomeStatus `json:"status"`
	Detail         string        `json:"detail,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
}

// Warnings returns the outcomes with status warn.
func (r *TestResults) Warnings() []TaskOutcome {
	var out []TaskOutcome
	for _, o := range r.Outcomes {
		if o.Status == OutcomeWarn {
			out = append(out, o)
		}
	}
	return out
}

// Outcome returns the first outcome for task, if any.
func (r *TestResults) Outcome(task string) (TaskOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Task == task {
			return o, true
		}
	}
	return TaskOutcome{}, false
}

func okOutcome(task, conversationID, detail string) TaskOutcome {
	return TaskOutcome{Task: task, Status: OutcomeOK, ConversationID: conversationID, Detail: detail}
}

func warnOutcome(task, conversationID string, err error) TaskOutcome {
	return TaskOutcome{Task: task, Status: OutcomeWarn, ConversationID: conversationID, Detail: err.Error()}
}

func skippedOutcome(task, detail string) TaskOutcome {
	return TaskOutcome{Task: task, Status: OutcomeSkipped, Detail: detail}
}
