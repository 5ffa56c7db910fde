package sessions

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/whatsapp-accounts-broker/internal/application"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	Now time.Time
}

func renderView(sessions []application.SessionSummary, opts RenderOptions, s styles) string {
	ready := 0
	for _, session := range sessions {
		if session.Ready {
			ready++
		}
	}

	lines := []string{
		s.title.Render("WhatsApp Sessions"),
		s.header.Render(fmt.Sprintf("sessions: %d, ready: %d", len(sessions), ready)),
	}

	if len(sessions) == 0 {
		lines = append(lines, s.empty.Render("No live sessions."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	width := 0
	for _, session := range sessions {
		width = max(width, len(session.AccountID))
	}

	for _, session := range sessions {
		lines = append(lines, renderSession(session, width, opts, s))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderSession(session application.SessionSummary, width int, opts RenderOptions, s styles) string {
	id := string(session.AccountID)
	padding := strings.Repeat(" ", width-len(id))

	parts := []string{
		s.account.Render(id),
		padding,
		"  ",
		s.state(session.State).Render(session.State.Label()),
	}

	if since := formatSince(session.Since, opts.Now); since != "" {
		parts = append(parts, " ", s.since.Render("("+since+")"))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func formatSince(since, now time.Time) string {
	if since.IsZero() {
		return ""
	}
	if now.IsZero() {
		return "since " + since.Format(time.RFC3339)
	}

	elapsed := now.Sub(since)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return plural(int(elapsed.Minutes()), "minute")
	case elapsed < 24*time.Hour:
		return plural(int(elapsed.Hours()), "hour")
	default:
		return plural(int(math.Floor(elapsed.Hours()/24)), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("for 1 %s", unit)
	}

	return fmt.Sprintf("for %d %ss", n, unit)
}
