// Package ui renders peer CLI output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	Primary = lipgloss.Color("#22d3ee")
	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Muted   = lipgloss.Color("#6B7280")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(Primary)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)
	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)

	TableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(Primary).Padding(0, 1)
	TableRowStyle    = lipgloss.NewStyle().Padding(0, 1)
	TableRowAltStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#D1D5DB"))
)
