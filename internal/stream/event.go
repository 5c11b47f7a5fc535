// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the line-framed event stream emitted by the
// analysis backend into typed events.
package stream

// =============================================================================
// EVENT TYPES
// =============================================================================

// Event is one decoded frame. The concrete type is one of Content, Status,
// Done or Error; switch on it with a type switch.
type Event interface {
	isEvent()
}

// Content is an incremental text fragment for the open assistant turn.
type Content struct {
	Text string
}

// Status is a transient human-readable progress label. It supersedes the
// previous status of the same turn.
type Status struct {
	Label string
}

// Done terminates the stream successfully.
type Done struct{}

// Error terminates the stream with a failure.
type Error struct {
	Message string
}

func (Content) isEvent() {}
func (Status) isEvent()  {}
func (Done) isEvent()    {}
func (Error) isEvent()   {}

// IsTerminal reports whether ev ends a stream. Exactly one terminal event is
// delivered per stream and it is always the last one.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case Done, Error:
		return true
	}
	return false
}

// Kind returns a short lowercase name for ev, used in logs and on the relay wire.
func Kind(ev Event) string {
	switch ev.(type) {
	case Content:
		return "content"
	case Status:
		return "status"
	case Done:
		return "done"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}
