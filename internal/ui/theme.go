// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Theme holds the styles for one output.
type Theme struct {
	Dark    bool
	Profile termenv.Profile

	User      lipgloss.Style
	Assistant lipgloss.Style
	Status    lipgloss.Style
	Error     lipgloss.Style
	Success   lipgloss.Style
	Muted     lipgloss.Style
	Title     lipgloss.Style

	output *termenv.Output
}

// NewTheme builds styles for out. name is "auto", "dark" or "light"; auto
// asks the terminal for its background.
func NewTheme(name string, out io.Writer) *Theme {
	output := termenv.NewOutput(out)
	profile := output.EnvColorProfile()

	dark := true
	switch strings.ToLower(name) {
	case "light":
		dark = false
	case "dark":
	default:
		// Querying a non-terminal would block until timeout.
		if profile != termenv.Ascii {
			dark = output.HasDarkBackground()
		}
	}

	r := lipgloss.NewRenderer(out)
	r.SetColorProfile(profile)
	r.SetHasDarkBackground(dark)

	return &Theme{
		Dark:      dark,
		Profile:   profile,
		User:      r.NewStyle().Foreground(Cyan).Bold(true),
		Assistant: r.NewStyle().Foreground(Purple).Bold(true),
		Status:    r.NewStyle().Foreground(Amber).Italic(true),
		Error:     r.NewStyle().Foreground(Rose),
		Success:   r.NewStyle().Foreground(Emerald),
		Muted:     r.NewStyle().Foreground(TextMuted),
		Title:     r.NewStyle().Bold(true).Underline(true),
		output:    output,
	}
}

// Plain reports whether styling is disabled.
func (t *Theme) Plain() bool {
	return t.Profile == termenv.Ascii
}

// TerminalWidth returns the column count of out, or 80 when out is not a
// terminal.
func TerminalWidth(out io.Writer) int {
	if f, ok := out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return 80
}
