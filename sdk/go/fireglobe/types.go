package fireglobe

import "time"

// Personality is a synthetic tester persona produced by the backend.
type Personality struct {
	Name        string `json:"name"`
	Personality string `json:"personality"`
	Description string `json:"description"`
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// TransactionAnalysis is the backend's analysis of an on-chain transaction
// the agent reported during a conversation.
type TransactionAnalysis struct {
	TransactionHash string    `json:"transaction_hash"`
	Chain           string    `json:"chain"`
	Analysis        string    `json:"analysis"`
	Timestamp       time.Time `json:"timestamp"`
}

// ConversationMessage is one turn in a conversation.
type ConversationMessage struct {
	Role                Role                 `json:"role"`
	Content             string               `json:"content"`
	Timestamp           time.Time            `json:"timestamp"`
	Personality         string               `json:"personality,omitempty"`
	TransactionAnalysis *TransactionAnalysis `json:"transaction_analysis,omitempty"`
}

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusInProgress ConversationStatus = "in_progress"
	StatusCompleted  ConversationStatus = "completed"
	StatusFailed     ConversationStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s ConversationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Conversation is one scripted exchange between a personality and the agent.
type Conversation struct {
	ID              string                `json:"id"`
	PersonalityName string                `json:"personalityName"`
	Messages        []ConversationMessage `json:"messages"`
	StartTime       time.Time             `json:"startTime"`
	EndTime         *time.Time            `json:"endTime,omitempty"`
	Status          ConversationStatus    `json:"status"`
	Error           string                `json:"error,omitempty"`
}

// EvaluationCriteria holds the per-dimension scores, each 0-100.
type EvaluationCriteria struct {
	Helpfulness    float64 `json:"helpfulness"`
	Accuracy       float64 `json:"accuracy"`
	Relevance      float64 `json:"relevance"`
	Clarity        float64 `json:"clarity"`
	TechnicalDepth float64 `json:"technicalDepth"`
}

// EvaluationResult is the backend's verdict on one completed conversation.
type EvaluationResult struct {
	ConversationID  string             `json:"conversationId"`
	Score           float64            `json:"score"`
	Criteria        EvaluationCriteria `json:"criteria"`
	Strengths       []string           `json:"strengths"`
	Weaknesses      []string           `json:"weaknesses"`
	OverallFeedback string             `json:"overallFeedback"`
}

// Summary aggregates a test run.
type Summary struct {
	TotalConversations      int      `json:"totalConversations"`
	SuccessfulConversations int      `json:"successfulConversations"`
	FailedConversations     int      `json:"failedConversations"`
	AverageScore            int      `json:"averageScore"`
	TopStrengths            []string `json:"topStrengths"`
	TopWeaknesses           []string `json:"topWeaknesses"`
}

// AgentMetadata describes the agent under test.
type AgentMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Framework   string `json:"framework"`
	Version     string `json:"version"`
}

// WithDefaults fills empty fields with the values used for AgentKit agents.
func (m AgentMetadata) WithDefaults() AgentMetadata {
	if m.Name == "" {
		m.Name = "CDP AgentKit Agent"
	}
	if m.Description == "" {
		m.Description = "Agent built with CDP AgentKit"
	}
	if m.Framework == "" {
		m.Framework = "CDP AgentKit (LangChain)"
	}
	if m.Version == "" {
		m.Version = "1.0.0"
	}
	return m
}

// TestResults is the terminal artifact of one test run.
type TestResults struct {
	TestID           string             `json:"testId"`
	AgentDescription string             `json:"agentDescription"`
	Agent            AgentMetadata      `json:"agent"`
	Personalities    []Personality      `json:"personalities"`
	Conversations    []Conversation     `json:"conversations"`
	Evaluations      []EvaluationResult `json:"evaluations"`
	StartTime        time.Time          `json:"startTime"`
	EndTime          time.Time          `json:"endTime"`
	OverallScore     int                `json:"overallScore"`
	Summary          Summary            `json:"summary"`
	Outcomes         []TaskOutcome      `json:"outcomes,omitempty"`
	Upload           *UploadResult      `json:"upload,omitempty"`
}

// Duration returns the wall-clock length of the run.
func (r *TestResults) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// EvaluationFor returns the evaluation for a conversation, if any.
func (r *TestResults) EvaluationFor(conversationID string) (EvaluationResult, bool) {
	for _, e := range r.Evaluations {
		if e.ConversationID == conversationID {
			return e, true
		}
	}
	return EvaluationResult{}, false
}

// StoredObject is a document the relay pinned to IPFS.
type StoredObject struct {
	Hash string `json:"hash"`
	URL  string `json:"url"`
}

// UploadResult is the relay's response to an upload-complete call.
type UploadResult struct {
	Success bool         `json:"success"`
	RunID   string       `json:"run_id"`
	UserID  string       `json:"user_id"`
	KG      StoredObject `json:"kg"`
	Metrics StoredObject `json:"metrics"`
	Message string       `json:"message"`
}

// TestRun is a run recorded by the relay.
type TestRun struct {
	RunID       string    `json:"run_id"`
	UserID      string    `json:"user_id"`
	KGHash      string    `json:"kg_hash"`
	MetricsHash string    `json:"metrics_hash"`
	FGCRewardTx *string   `json:"fgc_reward_tx,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	KGURL       string    `json:"kg_url"`
	MetricsURL  string    `json:"metrics_url"`
}

// RelayHealth is the relay's health report.
type RelayHealth struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Services  map[string]string `json:"services"`
}
