// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory KeyValueStore.
type memStore struct {
	mu      sync.Mutex
	values  map[string]string
	puts    int
	failGet bool
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (s *memStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return "", false, errors.New("disk on fire")
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memStore) Put(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.puts++
	return nil
}

// =============================================================================
// IDENTITY TESTS
// =============================================================================

func TestLoadUserID_GeneratesOnceAndPersists(t *testing.T) {
	store := newMemStore()

	first, err := LoadUserID(store, "")
	if err != nil {
		t.Fatalf("LoadUserID() error = %v", err)
	}
	if !strings.HasPrefix(first, "user-") {
		t.Errorf("user id = %q, want user- prefix", first)
	}

	second, err := LoadUserID(store, "")
	if err != nil {
		t.Fatalf("LoadUserID() error = %v", err)
	}
	if second != first {
		t.Errorf("second load = %q, want %q", second, first)
	}
	if store.puts != 1 {
		t.Errorf("puts = %d, want 1", store.puts)
	}
}

func TestLoadUserID_ConfiguredWins(t *testing.T) {
	store := newMemStore()
	store.values[UserIDKey] = "user-stored"

	id, err := LoadUserID(store, "  clinic-7 ")
	if err != nil {
		t.Fatalf("LoadUserID() error = %v", err)
	}
	if id != "clinic-7" {
		t.Errorf("id = %q, want clinic-7", id)
	}
	if store.values[UserIDKey] != "user-stored" {
		t.Error("configured id must not overwrite the stored one")
	}
}

func TestLoadUserID_StoreError(t *testing.T) {
	store := newMemStore()
	store.failGet = true

	if _, err := LoadUserID(store, ""); err == nil {
		t.Error("expected error from failing store")
	}
}

func TestNewSessionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
}

// =============================================================================
// MANAGER TESTS
// =============================================================================

func TestNewManager(t *testing.T) {
	m := NewManager("user-1")

	if m.UserID() != "user-1" {
		t.Errorf("UserID = %q", m.UserID())
	}
	if !strings.HasPrefix(m.SessionID(), "sess-") {
		t.Errorf("SessionID should start with 'sess-', got %q", m.SessionID())
	}
	if m.StartTime().IsZero() {
		t.Error("StartTime should not be zero")
	}
	if NewManager("user-1").SessionID() == m.SessionID() {
		t.Error("each manager should get a fresh session id")
	}
}

func TestManager_RecordExchange(t *testing.T) {
	m := NewManager("u")
	time.Sleep(10 * time.Millisecond)
	before := m.IdleTime()

	m.RecordExchange()
	m.RecordExchange()

	status := m.GetStatus()
	if status.Exchanges != 2 {
		t.Errorf("Exchanges = %d, want 2", status.Exchanges)
	}
	if m.IdleTime() >= before {
		t.Error("IdleTime should reset after an exchange")
	}
	if status.Duration < status.IdleTime {
		t.Error("Duration should be at least IdleTime")
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager("u")
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.RecordExchange()
		}()
		go func() {
			defer wg.Done()
			_ = m.GetStatus()
			_ = m.Identity()
		}()
	}
	wg.Wait()

	if got := m.GetStatus().Exchanges; got != 10 {
		t.Errorf("Exchanges = %d, want 10", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{5*time.Minute + 30*time.Second, "5m 30s"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
