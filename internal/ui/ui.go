// Package ui centralizes terminal styling for command output. Commands
// compose plain strings and wrap the highlights in Render helpers;
// styling degrades to plain text on dumb terminals and under NO_COLOR.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var profile = termenv.EnvColorProfile()

// Adaptive colors keep output readable on light and dark backgrounds.
var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "39"})
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"}).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "196"}).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "243", Dark: "245"})
)

func render(style lipgloss.Style, s string) string {
	if profile == termenv.Ascii {
		return s
	}
	return style.Render(s)
}

// RenderAccent styles informational highlights.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass styles success markers.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles warnings.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail styles failure markers.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderMuted styles de-emphasized detail.
func RenderMuted(s string) string { return render(mutedStyle, s) }
