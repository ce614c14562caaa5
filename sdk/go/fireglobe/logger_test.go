package fireglobe

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConversationLoggerAppendsJSONL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	l := NewConversationLogger(dir, discardLogger())

	msgs := []ConversationMessage{
		{Role: RoleUser, Content: "hello", Timestamp: time.Now().UTC(), Personality: "Alice"},
		{Role: RoleAgent, Content: "hi\nthere", Timestamp: time.Now().UTC()},
	}
	for _, m := range msgs {
		if err := l.LogMessage("conv-1", m); err != nil {
			t.Fatalf("LogMessage: %v", err)
		}
	}

	got, err := ReadConversationLog(l.ConversationPath("conv-1"))
	if err != nil {
		t.Fatalf("ReadConversationLog: %v", err)
	}
	if len(got) != 2 || got[1].Content != "hi\nthere" || got[0].Personality != "Alice" {
		t.Fatalf("got %+v", got)
	}
}

func TestConversationLoggerReportsWriteFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	l := NewConversationLogger(file, discardLogger())
	if err := l.LogMessage("conv-1", ConversationMessage{Role: RoleUser, Content: "x"}); err == nil {
		t.Fatal("expected error when output dir is a file")
	}
}

func TestSaveTestResultsFileName(t *testing.T) {
	dir := t.TempDir()
	l := NewConversationLogger(dir, discardLogger())
	l.now = func() time.Time { return time.Date(2026, 5, 4, 3, 2, 1, 500_000_000, time.UTC) }

	path, err := l.SaveTestResults(&TestResults{TestID: "t-1"})
	if err != nil {
		t.Fatalf("SaveTestResults: %v", err)
	}
	if filepath.Base(path) != "test_results_2026-05-04T03-02-01-500Z.json" {
		t.Fatalf("path = %s", path)
	}
	loaded, err := LoadTestResults(path)
	if err != nil || loaded.TestID != "t-1" {
		t.Fatalf("loaded = %+v, %v", loaded, err)
	}
}

func TestRenderHTMLReport(t *testing.T) {
	results := &TestResults{
		TestID:       "t-1",
		Agent:        AgentMetadata{}.WithDefaults(),
		OverallScore: 45,
		Conversations: []Conversation{{
			ID:              "c-1",
			PersonalityName: "Alice <script>",
			Status:          StatusCompleted,
			Messages: []ConversationMessage{
				{Role: RoleUser, Content: "hi"},
				{Role: RoleAgent, Content: "done", TransactionAnalysis: &TransactionAnalysis{
					TransactionHash: "0xabc", Chain: ChainBaseSepolia, Analysis: "fine",
				}},
			},
		}},
		Evaluations: []EvaluationResult{{ConversationID: "c-1", Score: 75, Strengths: []string{"polite"}}},
	}
	var buf bytes.Buffer
	if err := RenderHTMLReport(&buf, results); err != nil {
		t.Fatalf("RenderHTMLReport: %v", err)
	}
	html := buf.String()
	for _, want := range []string{"t-1", "#ef4444", "#10b981", "base-sepolia", "polite", "Alice &lt;script&gt;"} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestScoreColor(t *testing.T) {
	cases := map[float64]string{100: "#10b981", 70: "#10b981", 69.9: "#f59e0b", 50: "#f59e0b", 10: "#ef4444"}
	for score, want := range cases {
		if got := ScoreColor(score); got != want {
			t.Errorf("ScoreColor(%v) = %s, want %s", score, got, want)
		}
	}
}
