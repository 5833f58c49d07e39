package tui

import "github.com/charmbracelet/lipgloss"

// Styles holds the chat view styles
type Styles struct {
	Header        lipgloss.Style
	UserMessage   lipgloss.Style
	Assistant     lipgloss.Style
	Comment       lipgloss.Style
	ToolActivity  lipgloss.Style
	ErrorMessage  lipgloss.Style
	Help          lipgloss.Style
	SpinnerStyle  lipgloss.Style
	InputCursor   lipgloss.Style
	HeaderDivider lipgloss.Style
}

// DefaultStyles returns the default chat styles
func DefaultStyles() *Styles {
	return &Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")),
		UserMessage: lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true),
		Assistant: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		Comment: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true),
		ToolActivity: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),
		ErrorMessage: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		SpinnerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")),
		HeaderDivider: lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")),
	}
}
