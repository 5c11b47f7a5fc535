// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UserIDKey is the key the persisted user identifier is stored under.
const UserIDKey = "identity.user_id"

// =============================================================================
// IDENTITY
// =============================================================================

// Identity holds the correlation tokens forwarded with each request. UserID
// survives restarts; SessionID is fresh for each launch.
type Identity struct {
	UserID    string
	SessionID string
}

// KeyValueStore persists small string values.
type KeyValueStore interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
}

// LoadUserID returns the user identifier. A configured value wins; otherwise
// the stored one is used, and on first launch a new one is generated and
// stored. The stored value is never rewritten once present.
func LoadUserID(store KeyValueStore, configured string) (string, error) {
	if id := strings.TrimSpace(configured); id != "" {
		return id, nil
	}

	id, ok, err := store.Get(UserIDKey)
	if err != nil {
		return "", fmt.Errorf("read user id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}

	id = "user-" + uuid.NewString()
	if err := store.Put(UserIDKey, id); err != nil {
		return "", fmt.Errorf("store user id: %w", err)
	}
	return id, nil
}

// NewSessionID returns a fresh per-launch session identifier.
func NewSessionID() string {
	return "sess-" + uuid.NewString()
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager tracks the identity and activity of one launch.
type Manager struct {
	mu sync.Mutex

	identity     Identity
	startTime    time.Time
	lastActivity time.Time
	exchanges    int
}

// NewManager creates a manager for userID with a fresh session ID.
func NewManager(userID string) *Manager {
	now := time.Now()
	return &Manager{
		identity:     Identity{UserID: userID, SessionID: NewSessionID()},
		startTime:    now,
		lastActivity: now,
	}
}

// Identity returns the correlation tokens.
func (m *Manager) Identity() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// SessionID returns the per-launch session ID.
func (m *Manager) SessionID() string {
	return m.Identity().SessionID
}

// UserID returns the persistent user ID.
func (m *Manager) UserID() string {
	return m.Identity().UserID
}

// StartTime returns when the session started.
func (m *Manager) StartTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startTime
}

// Duration returns how long the session has been active.
func (m *Manager) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.startTime)
}

// IdleTime returns how long since the last exchange started.
func (m *Manager) IdleTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastActivity)
}

// RecordExchange notes that an exchange was started.
func (m *Manager) RecordExchange() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = time.Now()
	m.exchanges++
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status is a snapshot of the session.
type Status struct {
	UserID    string
	SessionID string
	StartTime time.Time
	Duration  time.Duration
	IdleTime  time.Duration
	Exchanges int
}

// GetStatus returns the current session status.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	return Status{
		UserID:    m.identity.UserID,
		SessionID: m.identity.SessionID,
		StartTime: m.startTime,
		Duration:  now.Sub(m.startTime),
		IdleTime:  now.Sub(m.lastActivity),
		Exchanges: m.exchanges,
	}
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	if d >= time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		return strconv.Itoa(hours) + "h " + strconv.Itoa(mins) + "m"
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return strconv.Itoa(mins) + "m"
	}
	return strconv.Itoa(mins) + "m " + strconv.Itoa(secs) + "s"
}
