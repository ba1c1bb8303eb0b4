package ticketing

import (
	"fmt"
	"strings"

	"github.com/koscakluka/ema-support/core/calls"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
)

const (
	contentWidth       = 80
	continuationIndent = 4
	absentField        = "(not captured)"
)

// FormatContents renders the human readable ticket body.
func FormatContents(ticket calls.Ticket) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Call Duration: %d seconds\n", int(ticket.Duration.Seconds()))
	fmt.Fprintf(&b, "Resolution: %s\n", ticket.Resolution)
	fmt.Fprintf(&b, "Caller Email: %s\n", valueOrAbsent(ticket.Profile.Email))
	fmt.Fprintf(&b, "Caller Phone: %s\n", valueOrAbsent(ticket.Profile.PhoneNumber))
	fmt.Fprintf(&b, "Issue: %s\n", valueOrAbsent(ticket.Profile.IssueSummary))

	b.WriteString("\n=== Real-time Transcript ===\n")
	for _, utterance := range ticket.Transcript {
		speaker := "Caller"
		if utterance.Speaker == calls.SpeakerAgent {
			speaker = "Agent"
		}
		suffix := ""
		if utterance.Interrupted {
			suffix = " (interrupted)"
		}
		fmt.Fprintf(&b, "[%s] %s%s:\n", utterance.StartedAt.Format("15:04:05"), speaker, suffix)
		b.WriteString(wrap(utterance.Text))
		b.WriteString("\n")
	}

	if len(ticket.Attempts) > 0 {
		b.WriteString("\n=== Knowledge Base Attempts ===\n")
		for _, attempt := range ticket.Attempts {
			article := "no match"
			if attempt.Match != nil {
				article = attempt.Match.ArticleID
			}
			fmt.Fprintf(&b, "#%d %s (score %.2f, %s)\n", attempt.Number, attempt.Outcome, attempt.Score, article)
			b.WriteString(wrap(fmt.Sprintf("%q", attempt.Query)))
			b.WriteString("\n")
		}
	}

	return b.String()
}

func wrap(text string) string {
	wrapped := wordwrap.String(strings.TrimSpace(text), contentWidth-continuationIndent)
	return indent.String(wrapped, continuationIndent)
}

func valueOrAbsent(value *string) string {
	if value == nil || *value == "" {
		return absentField
	}
	return *value
}
