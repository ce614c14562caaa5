package fireglobe

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"time"
)

//go:embed report.html.tmpl
var reportTemplate string

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"scoreColor": ScoreColor,
	"fmtTime": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02 15:04:05 MST")
	},
	"fmtDuration": func(d time.Duration) string {
		return d.Round(time.Second).String()
	},
	"score": func(v float64) string {
		return fmt.Sprintf("%.0f", v)
	},
	"chainName": ChainName,
}).Parse(reportTemplate))

// ScoreColor returns the report colour for a 0-100 score.
func ScoreColor(score float64) string {
	switch {
	case score >= 70:
		return "#10b981"
	case score >= 50:
		return "#f59e0b"
	default:
		return "#ef4444"
	}
}

type reportConversation struct {
	Conversation
	Evaluation *EvaluationResult
}

type reportData struct {
	*TestResults
	OverallColor string
	Rows         []reportConversation
}

// RenderHTMLReport writes a self-contained HTML report of results to w.
func RenderHTMLReport(w io.Writer, results *TestResults) error {
	data := reportData{TestResults: results, OverallColor: ScoreColor(float64(results.OverallScore))}
	for _, c := range results.Conversations {
		row := reportConversation{Conversation: c}
		if e, ok := results.EvaluationFor(c.ID); ok {
			row.Evaluation = &e
		}
		data.Rows = append(data.Rows, row)
	}
	if err := reportTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
