// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/tongue-chat/internal/model"
	"github.com/jeranaias/tongue-chat/internal/util"
)

// Label renders the role name of a turn.
func (t *Theme) Label(role model.Role) string {
	if role == model.RoleUser {
		return t.User.Render(role.DisplayName())
	}
	return t.Assistant.Render(role.DisplayName())
}

// RenderEntry renders a finished turn for history listings. Assistant text
// goes through md when it is non-nil.
func RenderEntry(t *Theme, md *Markdown, e model.Entry) string {
	var sb strings.Builder
	sb.WriteString(t.Label(e.Role))
	sb.WriteString(" " + t.Muted.Render(e.Timestamp.Format("15:04:05")) + "\n")

	if e.Image != nil {
		sb.WriteString(t.Muted.Render(FormatImage(*e.Image)) + "\n")
	}

	switch {
	case e.Failed:
		sb.WriteString(t.Error.Render(e.Text) + "\n")
	case e.Role == model.RoleAssistant && md.Enabled():
		sb.WriteString(md.Render(e.Text))
	case e.Text != "":
		sb.WriteString(e.Text + "\n")
	}
	if e.Open && e.Status != "" {
		sb.WriteString(t.Status.Render("» "+e.Status) + "\n")
	}
	return sb.String()
}

// RenderTranscript renders a saved conversation with a title line.
func RenderTranscript(t *Theme, md *Markdown, tr model.Transcript) string {
	var sb strings.Builder
	sb.WriteString(t.Title.Render(tr.Title) + "\n")
	sb.WriteString(t.Muted.Render(tr.ID+"  "+tr.CreatedAt.Format("2006-01-02 15:04")) + "\n\n")
	for _, e := range tr.Entries {
		sb.WriteString(RenderEntry(t, md, e))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatImage describes an attached image.
func FormatImage(img model.ImageRef) string {
	name := img.Filename
	if name == "" {
		name = "image"
	}
	return fmt.Sprintf("[%s, %s, %s]", util.TruncateWidth(name, 40), img.MIMEType, formatSize(img.Size))
}

func formatSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return strconv.Itoa(n) + " B"
	}
}
