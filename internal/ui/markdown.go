// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// Markdown renders completed replies.
type Markdown struct {
	renderer *glamour.TermRenderer
}

// NewMarkdown creates a renderer matching theme, wrapping at width columns.
// It returns nil if glamour cannot be initialized; a nil *Markdown renders
// text unchanged.
func NewMarkdown(theme *Theme, width int) *Markdown {
	style := "dark"
	switch {
	case theme.Plain():
		style = "notty"
	case !theme.Dark:
		style = "light"
	}
	switch {
	case width <= 0:
		width = 80
	case width > 120:
		width = 120
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithColorProfile(theme.Profile),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return &Markdown{renderer: r}
}

// Render returns content rendered for the terminal, or content itself when
// rendering fails.
func (m *Markdown) Render(content string) string {
	if m == nil || strings.TrimSpace(content) == "" {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return out
}

// Enabled reports whether m renders anything.
func (m *Markdown) Enabled() bool {
	return m != nil && m.renderer != nil
}
