package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/Marshal-AM/fireglobe/internal/history"
	"github.com/Marshal-AM/fireglobe/sdk/go/fireglobe"
)

// narrator prints Tester progress for a human watching the terminal.
type narrator struct {
	w        io.Writer
	verbose  bool
	title    *color.Color
	ok       *color.Color
	warn     *color.Color
	fail     *color.Color
	dim      *color.Color
	userMsg  *color.Color
	agentMsg *color.Color
}

func newNarrator(w io.Writer, verbose bool) *narrator {
	return &narrator{
		w:        w,
		verbose:  verbose,
		title:    color.New(color.FgCyan, color.Bold),
		ok:       color.New(color.FgGreen),
		warn:     color.New(color.FgYellow),
		fail:     color.New(color.FgRed, color.Bold),
		dim:      color.New(color.Faint),
		userMsg:  color.New(color.FgBlue),
		agentMsg: color.New(color.FgMagenta),
	}
}

// Handle is a fireglobe.Listener.
func (n *narrator) Handle(ev fireglobe.Event) {
	switch ev.Type {
	case fireglobe.EventTestStarted:
		n.title.Fprintf(n.w, "FireGlobe test %s\n", ev.TestID)
	case fireglobe.EventPersonalitiesGenerated:
		n.ok.Fprintf(n.w, "Generated %d personalities\n", ev.Count)
		for _, p := range ev.Personalities {
			fmt.Fprintf(n.w, "  - %s: %s\n", p.Name, p.Personality)
		}
	case fireglobe.EventConversationStarted:
		n.title.Fprintf(n.w, "\nConversation with %s\n", ev.PersonalityName)
	case fireglobe.EventMessageSent:
		if !n.verbose {
			return
		}
		c, who := n.agentMsg, "agent"
		if ev.Role == fireglobe.RoleUser {
			c, who = n.userMsg, ev.PersonalityName
		}
		c.Fprintf(n.w, "  %s: ", who)
		fmt.Fprintln(n.w, truncate(ev.Content, 400))
	case fireglobe.EventTransactionAnalyzed:
		n.ok.Fprintf(n.w, "  Transaction %s analyzed on %s\n", ev.TransactionHash, fireglobe.ChainName(ev.ChainID))
	case fireglobe.EventConversationCompleted:
		n.dim.Fprintf(n.w, "  Conversation %s completed\n", ev.ConversationID)
	case fireglobe.EventEvaluationCompleted:
		n.scoreColor(ev.Score).Fprintf(n.w, "  %s scored %.1f\n", ev.PersonalityName, ev.Score)
	case fireglobe.EventError:
		n.fail.Fprintf(n.w, "  [%s] %s\n", ev.Context, ev.Error)
	case fireglobe.EventTestCompleted:
		if ev.Results != nil {
			n.Summary(ev.Results)
		}
	}
}

// Summary prints the final score, counts and any non-critical warnings.
func (n *narrator) Summary(r *fireglobe.TestResults) {
	n.title.Fprintln(n.w, "\nResults")
	n.scoreColor(float64(r.OverallScore)).Fprintf(n.w, "  Overall score: %d/100\n", r.OverallScore)
	fmt.Fprintf(n.w, "  Conversations: %d total, %d successful, %d failed\n",
		r.Summary.TotalConversations, r.Summary.SuccessfulConversations, r.Summary.FailedConversations)
	fmt.Fprintf(n.w, "  Duration: %s\n", r.Duration().Round(time.Second))
	if len(r.Summary.TopStrengths) > 0 {
		n.ok.Fprintf(n.w, "  Strengths: %s\n", strings.Join(r.Summary.TopStrengths, "; "))
	}
	if len(r.Summary.TopWeaknesses) > 0 {
		n.warn.Fprintf(n.w, "  Weaknesses: %s\n", strings.Join(r.Summary.TopWeaknesses, "; "))
	}
	for _, o := range r.Warnings() {
		n.warn.Fprintf(n.w, "  warning: %s %s\n", o.Task, o.Detail)
	}
	if r.Upload != nil {
		n.ok.Fprintf(n.w, "  Uploaded as run %s\n", r.Upload.RunID)
		fmt.Fprintf(n.w, "    KG:      %s\n", r.Upload.KG.URL)
		fmt.Fprintf(n.w, "    Metrics: %s\n", r.Upload.Metrics.URL)
	}
}

// HistoryEntry prints one line of local run history.
func (n *narrator) HistoryEntry(e history.Entry) {
	n.scoreColor(float64(e.OverallScore)).Fprintf(n.w, "%3d", e.OverallScore)
	fmt.Fprintf(n.w, "  %s  %s  %s  %d/%d ok",
		e.StartedAt.Local().Format("2006-01-02 15:04"), e.TestID, e.AgentName, e.Successful, e.Conversations)
	if e.RunID != "" {
		n.dim.Fprintf(n.w, "  run %s", e.RunID)
	}
	fmt.Fprintln(n.w)
}

func (n *narrator) scoreColor(score float64) *color.Color {
	switch {
	case score >= 80:
		return n.ok
	case score >= 60:
		return n.warn
	default:
		return n.fail
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
