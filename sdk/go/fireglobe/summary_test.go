package fireglobe

import (
	"reflect"
	"testing"
)

func TestOverallScore(t *testing.T) {
	if OverallScore(nil) != 0 {
		t.Error("empty evaluations should score 0")
	}
	evals := []EvaluationResult{{Score: 70}, {Score: 85}, {Score: 90.5}}
	if got := OverallScore(evals); got != 82 {
		t.Errorf("OverallScore = %d, want 82", got)
	}
	if got := OverallScore([]EvaluationResult{{Score: 72.5}}); got != 73 {
		t.Errorf("half should round up, got %d", got)
	}
}

func TestSummarize(t *testing.T) {
	convs := []Conversation{
		{ID: "a", Status: StatusCompleted},
		{ID: "b", Status: StatusFailed},
		{ID: "c", Status: StatusCompleted},
	}
	evals := []EvaluationResult{
		{ConversationID: "a", Score: 60, Strengths: []string{"fast", "clear"}, Weaknesses: []string{"vague"}},
		{ConversationID: "c", Score: 80, Strengths: []string{"clear", "accurate"}},
	}

	s := Summarize(convs, evals)
	if s.TotalConversations != 3 || s.SuccessfulConversations != 2 || s.FailedConversations != 1 {
		t.Fatalf("counts = %+v", s)
	}
	if s.AverageScore != 70 {
		t.Errorf("AverageScore = %d", s.AverageScore)
	}
	if want := []string{"clear", "fast", "accurate"}; !reflect.DeepEqual(s.TopStrengths, want) {
		t.Errorf("TopStrengths = %v, want %v", s.TopStrengths, want)
	}
	if want := []string{"vague"}; !reflect.DeepEqual(s.TopWeaknesses, want) {
		t.Errorf("TopWeaknesses = %v", s.TopWeaknesses)
	}
}

func TestTopByFrequencyLimitsAndNeverNil(t *testing.T) {
	if got := topByFrequency(nil, 5); got == nil || len(got) != 0 {
		t.Fatalf("got %#v", got)
	}
	items := []string{"a", "b", "c", "d", "e", "f", "f"}
	got := topByFrequency(items, 5)
	if len(got) != 5 || got[0] != "f" {
		t.Fatalf("got %v", got)
	}
}
