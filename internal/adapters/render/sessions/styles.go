package sessions

import (
	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	account lipgloss.Style
	since   lipgloss.Style
	empty   lipgloss.Style
	states  map[domain.SessionState]lipgloss.Style
	unknown lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		account: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		since:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		empty:   lipgloss.NewStyle().Faint(true),
		states: map[domain.SessionState]lipgloss.Style{
			domain.SessionIdle:          lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
			domain.SessionAwaitingScan:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220")),
			domain.SessionAuthenticated: lipgloss.NewStyle().Foreground(lipgloss.Color("117")),
			domain.SessionActive:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
			domain.SessionReconnecting:  lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		},
		unknown: lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}
}

func (s styles) state(state domain.SessionState) lipgloss.Style {
	if style, ok := s.states[state]; ok {
		return style
	}

	return s.unknown
}
