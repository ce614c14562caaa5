package fireglobe

import (
	"math"
	"sort"
)

const topItems = 5

// OverallScore is the rounded mean of the evaluation scores, or 0 when
// there are none.
func OverallScore(evals []EvaluationResult) int {
	if len(evals) == 0 {
		return 0
	}
	var sum float64
	for _, e := range evals {
		sum += e.Score
	}
	return int(math.Round(sum / float64(len(evals))))
}

// Summarize computes run-level counts and the most frequent strengths and
// weaknesses across evaluations.
func Summarize(conversations []Conversation, evals []EvaluationResult) Summary {
	s := Summary{
		TotalConversations: len(conversations),
		AverageScore:       OverallScore(evals),
	}
	for _, c := range conversations {
		if c.Status == StatusCompleted {
			s.SuccessfulConversations++
		} else {
			s.FailedConversations++
		}
	}

	var strengths, weaknesses []string
	for _, e := range evals {
		strengths = append(strengths, e.Strengths...)
		weaknesses = append(weaknesses, e.Weaknesses...)
	}
	s.TopStrengths = topByFrequency(strengths, topItems)
	s.TopWeaknesses = topByFrequency(weaknesses, topItems)
	return s
}

// topByFrequency returns up to n distinct items ordered by descending count.
// Ties keep first-occurrence order.
func topByFrequency(items []string, n int) []string {
	counts := make(map[string]int, len(items))
	var order []string
	for _, it := range items {
		if _, seen := counts[it]; !seen {
			order = append(order, it)
		}
		counts[it]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	if order == nil {
		return []string{}
	}
	return order
}
