// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/tongue-chat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// ENTRY TYPE
// =============================================================================

// ImageRef describes an image attached to a user turn. The bytes themselves
// are not kept in the log.
type ImageRef struct {
	Filename string `json:"filename,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Size     int    `json:"size"`
}

// Entry is a snapshot of one turn.
type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	Text  string    `json:"text"`
	Image *ImageRef `json:"image,omitempty"`

	// Status is the transient progress label of an open assistant turn.
	Status string `json:"status,omitempty"`

	// Open is true while the turn still accepts streaming events.
	Open      bool `json:"-"`
	Failed    bool `json:"failed,omitempty"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// Preview returns the text cut to maxLen runes.
func (e Entry) Preview(maxLen int) string {
	return util.TruncateRunes(strings.TrimSpace(e.Text), maxLen)
}

// IsEmpty reports whether the turn has neither text nor image.
func (e Entry) IsEmpty() bool {
	return e.Text == "" && e.Image == nil
}

// turn is the mutable form of an Entry.
type turn struct {
	id        string
	role      Role
	timestamp time.Time
	image     *ImageRef
	status    string
	open      bool
	failed    bool
	cancelled bool

	// text accumulates fragments without quadratic copying.
	text strings.Builder
}

func newTurn(role Role, text string, image *ImageRef) *turn {
	t := &turn{
		id:        "turn-" + uuid.NewString(),
		role:      role,
		timestamp: time.Now(),
		image:     image,
	}
	t.text.WriteString(text)
	return t
}

func (t *turn) snapshot() Entry {
	e := Entry{
		ID:        t.id,
		Role:      t.role,
		Timestamp: t.timestamp,
		Text:      t.text.String(),
		Status:    t.status,
		Open:      t.open,
		Failed:    t.failed,
		Cancelled: t.cancelled,
	}
	if t.image != nil {
		img := *t.image
		e.Image = &img
	}
	return e
}
