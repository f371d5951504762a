// Package ui holds shared terminal styling for CLI output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
)

// RenderPass styles success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles warning markers.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles error markers.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent styles informational highlights.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderFaint styles secondary detail.
func RenderFaint(s string) string { return faintStyle.Render(s) }
