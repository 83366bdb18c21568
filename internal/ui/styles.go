// Package ui provides terminal styling for taskorch CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/taskorch/taskorch/internal/types"
)

// Ayu theme color palette
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
)

// CategoryStyle for section headers - bold with accent color
var CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
	IconInfo = "ℹ"
)

// Plain-text icons, used when ShouldUseEmoji is false.
const (
	TextPass = "ok"
	TextWarn = "!!"
	TextFail = "xx"
	TextSkip = "-"
	TextInfo = "::"
)

// Tree characters for hierarchical display
const (
	TreeChild  = "├─ "
	TreeLast   = "└─ "
	TreeIndent = "   "
)

func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderCategory renders a category header in uppercase with accent color
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

func icon(style lipgloss.Style, glyph, text string) string {
	if !ShouldUseEmoji() {
		return style.Render(text)
	}
	return style.Render(glyph)
}

func RenderPassIcon() string { return icon(PassStyle, IconPass, TextPass) }
func RenderWarnIcon() string { return icon(WarnStyle, IconWarn, TextWarn) }
func RenderFailIcon() string { return icon(FailStyle, IconFail, TextFail) }
func RenderSkipIcon() string { return icon(MutedStyle, IconSkip, TextSkip) }
func RenderInfoIcon() string { return icon(AccentStyle, IconInfo, TextInfo) }

// StyleForRole picks the status color for a role. Statuses without a role
// (blocked, on-hold and other emergency states) render as failures.
func StyleForRole(role types.Role) lipgloss.Style {
	switch role {
	case types.RoleQueue:
		return MutedStyle
	case types.RoleWork:
		return AccentStyle
	case types.RoleReview:
		return WarnStyle
	case types.RoleTerminal:
		return PassStyle
	}
	return FailStyle
}

// RenderStatus renders a status in its role color.
func RenderStatus(status string, role types.Role) string {
	return StyleForRole(role).Render(status)
}

// RenderFlow renders a flow sequence with the current position highlighted.
// A position outside the sequence highlights nothing.
func RenderFlow(sequence []string, current int) string {
	parts := make([]string, len(sequence))
	for i, s := range sequence {
		switch {
		case i == current:
			parts[i] = CategoryStyle.Render("[" + s + "]")
		case current >= 0 && i < current:
			parts[i] = MutedStyle.Render(s)
		default:
			parts[i] = s
		}
	}
	return strings.Join(parts, MutedStyle.Render(" → "))
}
