// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/tongue-chat/internal/stream"
)

// DefaultErrorPrefix is prepended to failure messages written into a turn
// when no error format is configured.
const DefaultErrorPrefix = "錯誤："

var (
	// ErrNoTurn is returned for an ID that is not in the log.
	ErrNoTurn = errors.New("model: no such turn")

	// ErrNotAssistant is returned when a streaming event targets a user turn.
	ErrNotAssistant = errors.New("model: turn is not an assistant turn")

	// ErrTurnClosed is returned when an event targets a finished turn.
	ErrTurnClosed = errors.New("model: turn already closed")
)

// =============================================================================
// LOG TYPE
// =============================================================================

// Log is the ordered conversation. Turns are never reordered or removed
// except by Reset. All methods are safe for concurrent use.
type Log struct {
	mu sync.Mutex

	id        string
	createdAt time.Time
	updatedAt time.Time

	turns []*turn
	index map[string]*turn

	formatError func(string) string
}

// Option configures a Log.
type Option func(*Log)

// WithErrorFormat sets how failure messages are rendered into a turn.
func WithErrorFormat(format func(message string) string) Option {
	return func(l *Log) {
		if format != nil {
			l.formatError = format
		}
	}
}

// NewLog creates an empty log.
func NewLog(opts ...Option) *Log {
	now := time.Now()
	l := &Log{
		id:          "conv-" + uuid.NewString(),
		createdAt:   now,
		updatedAt:   now,
		index:       make(map[string]*turn),
		formatError: func(msg string) string { return DefaultErrorPrefix + msg },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ID identifies this conversation for persistence.
func (l *Log) ID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

// =============================================================================
// APPENDING TURNS
// =============================================================================

func (l *Log) appendLocked(t *turn) string {
	l.turns = append(l.turns, t)
	l.index[t.id] = t
	l.updatedAt = t.timestamp
	return t.id
}

// AppendUserTurn appends a closed user turn and returns its ID.
func (l *Log) AppendUserTurn(text string, image *ImageRef) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(newTurn(RoleUser, text, image))
}

// AppendPendingAssistantTurn appends an empty open assistant turn.
func (l *Log) AppendPendingAssistantTurn() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := newTurn(RoleAssistant, "", nil)
	t.open = true
	return l.appendLocked(t)
}

// AppendExchange appends a user turn and its pending assistant turn as one
// step, so no other turn can land between them.
func (l *Log) AppendExchange(text string, image *ImageRef) (userID, assistantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	userID = l.appendLocked(newTurn(RoleUser, text, image))
	reply := newTurn(RoleAssistant, "", nil)
	reply.open = true
	assistantID = l.appendLocked(reply)
	return userID, assistantID
}

// =============================================================================
// STREAMING EVENTS
// =============================================================================

// openAssistant returns the turn for id, checking it can take events.
func (l *Log) openAssistant(id string) (*turn, error) {
	t, ok := l.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTurn, id)
	}
	if t.role != RoleAssistant {
		return nil, fmt.Errorf("%w: %s", ErrNotAssistant, id)
	}
	if !t.open {
		return t, fmt.Errorf("%w: %s", ErrTurnClosed, id)
	}
	return t, nil
}

// ApplyContent appends fragment to the turn's text.
func (l *Log) ApplyContent(id, fragment string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.openAssistant(id)
	if err != nil {
		return err
	}
	t.text.WriteString(fragment)
	l.updatedAt = time.Now()
	return nil
}

// ApplyStatus replaces the turn's status label.
func (l *Log) ApplyStatus(id, label string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.openAssistant(id)
	if err != nil {
		return err
	}
	t.status = label
	return nil
}

// ApplyDone clears the status and closes the turn. Closing an already
// closed turn is a no-op.
func (l *Log) ApplyDone(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.openAssistant(id)
	if errors.Is(err, ErrTurnClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	t.status = ""
	t.open = false
	l.updatedAt = time.Now()
	return nil
}

// ApplyError replaces the turn's text with the formatted message, clears the
// status and closes the turn.
func (l *Log) ApplyError(id, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.openAssistant(id)
	if err != nil {
		return err
	}
	t.text.Reset()
	t.text.WriteString(l.formatError(message))
	t.status = ""
	t.failed = true
	t.open = false
	l.updatedAt = time.Now()
	return nil
}

// ApplyCancel closes a turn the user stopped. Text received so far is kept
// and the status is cleared. Cancelling a closed turn is a no-op.
func (l *Log) ApplyCancel(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.openAssistant(id)
	if errors.Is(err, ErrTurnClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	t.status = ""
	t.cancelled = true
	t.open = false
	l.updatedAt = time.Now()
	return nil
}

// Apply routes a stream event to the matching Apply method.
func (l *Log) Apply(id string, ev stream.Event) error {
	switch e := ev.(type) {
	case stream.Content:
		return l.ApplyContent(id, e.Text)
	case stream.Status:
		return l.ApplyStatus(id, e.Label)
	case stream.Done:
		return l.ApplyDone(id)
	case stream.Error:
		return l.ApplyError(id, e.Message)
	default:
		return fmt.Errorf("model: unsupported event %T", ev)
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// Pending returns the ID of the last turn when it is an open assistant turn.
func (l *Log) Pending() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.turns) == 0 {
		return "", false
	}
	last := l.turns[len(l.turns)-1]
	if last.role != RoleAssistant || !last.open {
		return "", false
	}
	return last.id, true
}

// Get returns a snapshot of one turn.
func (l *Log) Get(id string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.index[id]
	if !ok {
		return Entry{}, false
	}
	return t.snapshot(), true
}

// Entries returns a snapshot of every turn in order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]Entry, len(l.turns))
	for i, t := range l.turns {
		entries[i] = t.snapshot()
	}
	return entries
}

// Len returns the number of turns.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// OpenTurns counts assistant turns still streaming.
func (l *Log) OpenTurns() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, t := range l.turns {
		if t.open {
			n++
		}
	}
	return n
}

// Reset empties the log and starts a new conversation ID.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.id = "conv-" + uuid.NewString()
	l.createdAt = now
	l.updatedAt = now
	l.turns = nil
	l.index = make(map[string]*turn)
}

// =============================================================================
// TRANSCRIPTS
// =============================================================================

// Transcript is a serializable copy of a log.
type Transcript struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Entries   []Entry   `json:"entries"`
}

// Transcript returns a snapshot suitable for saving.
func (l *Log) Transcript() Transcript {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]Entry, len(l.turns))
	for i, t := range l.turns {
		entries[i] = t.snapshot()
	}
	return Transcript{
		ID:        l.id,
		Title:     titleOf(entries),
		CreatedAt: l.createdAt,
		UpdatedAt: l.updatedAt,
		Entries:   entries,
	}
}

// titleOf derives a title from the first user turn.
func titleOf(entries []Entry) string {
	for _, e := range entries {
		if e.Role != RoleUser {
			continue
		}
		if title := e.Preview(50); title != "" {
			return title
		}
		if e.Image != nil {
			return "[image] " + strings.TrimSpace(e.Image.Filename)
		}
	}
	return "New Conversation"
}
