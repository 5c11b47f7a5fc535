// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tongue-chat/internal/locale"
	"github.com/jeranaias/tongue-chat/internal/model"
	"github.com/jeranaias/tongue-chat/internal/session"
	"github.com/jeranaias/tongue-chat/internal/stream"
	"github.com/jeranaias/tongue-chat/internal/transport"
)

// =============================================================================
// HELPERS
// =============================================================================

type memStore struct {
	mu    sync.Mutex
	saved []model.Transcript
}

func (s *memStore) SaveTranscript(_ context.Context, t model.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, t)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func newController(t *testing.T, backend *httptest.Server, opts Options) *Controller {
	t.Helper()
	printer := locale.New("zh-TW")
	tr := transport.NewDirect(transport.DirectConfig{BaseURL: backend.URL}, printer)
	return New(session.NewClient(tr, printer), NewLog(printer), session.NewManager("user-test"), opts)
}

func wait(t *testing.T, ex *Exchange) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ex.Wait(ctx))
}

func streamLines(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, line := range lines {
			fmt.Fprintln(w, line)
			w.(http.Flusher).Flush()
		}
	}
}

// =============================================================================
// SCENARIO TESTS
// =============================================================================

func TestSendText_HelloScenario(t *testing.T) {
	var gotSession string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSession = string(body)
		streamLines(
			`data: {"type":"content","content":"Hi"}`,
			`data: {"type":"content","content":" there"}`,
			`data: [DONE]`,
		)(w, r)
	}))
	defer backend.Close()

	var updates []string
	c := newController(t, backend, Options{OnUpdate: func(e model.Entry) { updates = append(updates, e.Text) }})

	ex, err := c.SendText(context.Background(), "hello")
	require.NoError(t, err)
	wait(t, ex)

	entries := c.Log().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, model.RoleUser, entries[0].Role)
	assert.Equal(t, "hello", entries[0].Text)
	assert.Equal(t, model.RoleAssistant, entries[1].Role)
	assert.Equal(t, "Hi there", entries[1].Text)
	assert.Equal(t, "", entries[1].Status)
	assert.False(t, entries[1].Open)

	assert.Equal(t, []string{"Hi", "Hi there", "Hi there"}, updates)
	assert.Contains(t, gotSession, `"user_id":"user-test"`)
	assert.Nil(t, c.Active())
}

func TestSendText_ServerErrorScenario(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"detail":"model unavailable"}`)
	}))
	defer backend.Close()

	contentCalls := 0
	c := newController(t, backend, Options{OnUpdate: func(e model.Entry) {
		if !e.Failed {
			contentCalls++
		}
	}})

	ex, err := c.SendText(context.Background(), "hello")
	require.NoError(t, err)
	wait(t, ex)

	reply := ex.Reply()
	assert.Equal(t, "錯誤：model unavailable", reply.Text)
	assert.True(t, reply.Failed)
	assert.Zero(t, contentCalls)
}

func TestSendText_EmptyPrompt(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be contacted")
	}))
	defer backend.Close()
	c := newController(t, backend, Options{})

	ex, err := c.SendText(context.Background(), "   ")
	require.NoError(t, err)
	wait(t, ex)

	assert.Equal(t, "錯誤：請提供圖片或文字提示", ex.Reply().Text)
}

func TestSendImage(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tongue/predict-and-analyze/stream", r.URL.Path)
		assert.Equal(t, "after lunch", r.FormValue("additional_info"))
		assert.Equal(t, "user-test", r.FormValue("user_id"))
		streamLines(`data: {"type":"status","message":"predicting"}`, `data: {"chunk":"pale"}`, `data: [DONE]`)(w, r)
	}))
	defer backend.Close()
	c := newController(t, backend, Options{})

	img := transport.NewImage([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), "t.jpg")
	ex, err := c.SendImage(context.Background(), img, "after lunch")
	require.NoError(t, err)
	wait(t, ex)

	entries := c.Log().Entries()
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].Image)
	assert.Equal(t, "t.jpg", entries[0].Image.Filename)
	assert.Equal(t, "image/jpeg", entries[0].Image.MIMEType)
	assert.Equal(t, "after lunch", entries[0].Text)
	assert.Equal(t, "pale", entries[1].Text)
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestSend_BusyWhileStreaming(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamLines(`data: {"content":"..."}`)(w, r)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		streamLines(`data: [DONE]`)(w, r)
	}))
	defer backend.Close()
	c := newController(t, backend, Options{})

	ex, err := c.SendText(context.Background(), "first")
	require.NoError(t, err)

	_, err = c.SendText(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, c.Reset(), ErrBusy)
	assert.Same(t, ex, c.Active())

	close(release)
	wait(t, ex)

	assert.NoError(t, c.Reset())
	assert.Zero(t, c.Log().Len())
}

func TestExchange_CancelKeepsPartialText(t *testing.T) {
	first := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamLines(`data: {"type":"status","message":"thinking"}`, `data: {"type":"content","content":"part"}`)(w, r)
		close(first)
		<-r.Context().Done()
	}))
	defer backend.Close()

	store := &memStore{}
	c := newController(t, backend, Options{Store: store})

	ex, err := c.SendText(context.Background(), "hello")
	require.NoError(t, err)
	<-first
	require.Eventually(t, func() bool { return ex.Reply().Text == "part" }, 5*time.Second, 5*time.Millisecond)

	ex.Cancel()
	ex.Cancel()
	wait(t, ex)

	reply := ex.Reply()
	assert.Equal(t, "part", reply.Text)
	assert.Equal(t, "", reply.Status)
	assert.True(t, reply.Cancelled)
	assert.False(t, reply.Failed)
	assert.Nil(t, c.Active())
	assert.Equal(t, 1, store.count())
}

func TestExchange_ContextCancelEndsExchange(t *testing.T) {
	first := make(chan struct{})
	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			streamLines(`data: {"type":"content","content":"partial"}`)(w, r)
			close(first)
			<-r.Context().Done()
			return
		}
		streamLines(`data: {"content":"again"}`, `data: [DONE]`)(w, r)
	}))
	defer backend.Close()

	store := &memStore{}
	c := newController(t, backend, Options{Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	ex, err := c.SendText(ctx, "hello")
	require.NoError(t, err)
	<-first
	require.Eventually(t, func() bool { return ex.Reply().Text == "partial" }, 5*time.Second, 5*time.Millisecond)

	cancel()
	wait(t, ex)

	reply := ex.Reply()
	assert.Equal(t, "partial", reply.Text)
	assert.True(t, reply.Cancelled)
	assert.False(t, reply.Open)
	assert.Nil(t, c.Active())
	assert.Equal(t, 1, store.count())

	// The controller accepts new work afterwards.
	ex, err = c.SendText(context.Background(), "again")
	require.NoError(t, err)
	wait(t, ex)
	assert.Equal(t, "again", ex.Reply().Text)
	assert.NoError(t, c.Reset())
}

func TestExchange_AlreadyCancelledContext(t *testing.T) {
	backend := httptest.NewServer(streamLines(`data: {"content":"late"}`, `data: [DONE]`))
	defer backend.Close()

	c := newController(t, backend, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex, err := c.SendText(ctx, "hello")
	require.NoError(t, err)
	wait(t, ex)

	assert.True(t, ex.Reply().Cancelled)
	assert.Empty(t, ex.Reply().Text)
	assert.Nil(t, c.Active())
}

func TestExchange_CancelAfterCompletionKeepsReply(t *testing.T) {
	backend := httptest.NewServer(streamLines(`data: {"content":"done"}`, `data: [DONE]`))
	defer backend.Close()

	c := newController(t, backend, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	ex, err := c.SendText(ctx, "hello")
	require.NoError(t, err)
	wait(t, ex)

	cancel()
	ex.Cancel()
	time.Sleep(20 * time.Millisecond)

	reply := ex.Reply()
	assert.Equal(t, "done", reply.Text)
	assert.False(t, reply.Cancelled)
}

// inFlightTransport emits one content event, then one more after its cancel
// function has returned, as a read racing with cancel would.
type inFlightTransport struct {
	stopped chan struct{}
	late    chan struct{}
}

func (f *inFlightTransport) Name() string { return "in-flight" }

func (f *inFlightTransport) Open(_ context.Context, _ transport.Request, onEvent transport.EventFunc) transport.CancelFunc {
	go func() {
		onEvent(stream.Content{Text: "part"})
		<-f.stopped
		onEvent(stream.Content{Text: " late"})
		close(f.late)
	}()
	var once sync.Once
	return func() { once.Do(func() { close(f.stopped) }) }
}

func TestExchange_EventInFlightAtCancelIsDropped(t *testing.T) {
	tr := &inFlightTransport{stopped: make(chan struct{}), late: make(chan struct{})}
	printer := locale.New("en")
	var updates atomic.Int32
	c := New(session.NewClient(tr, printer), NewLog(printer), session.NewManager("user-test"), Options{
		OnUpdate: func(model.Entry) { updates.Add(1) },
	})

	ex, err := c.SendText(context.Background(), "hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ex.Reply().Text == "part" }, 5*time.Second, 5*time.Millisecond)

	ex.Cancel()
	wait(t, ex)
	before := updates.Load()
	<-tr.late

	reply := ex.Reply()
	assert.Equal(t, "part", reply.Text)
	assert.True(t, reply.Cancelled)
	assert.Equal(t, before, updates.Load())
}

func TestStore_SavedAfterEachExchange(t *testing.T) {
	backend := httptest.NewServer(streamLines(`data: {"content":"ok"}`, `data: [DONE]`))
	defer backend.Close()

	store := &memStore{}
	c := newController(t, backend, Options{Store: store})

	for _, prompt := range []string{"one", "two"} {
		ex, err := c.SendText(context.Background(), prompt)
		require.NoError(t, err)
		wait(t, ex)
	}

	require.Equal(t, 2, store.count())
	last := store.saved[1]
	assert.Equal(t, c.Log().ID(), last.ID)
	assert.Len(t, last.Entries, 4)
	assert.Equal(t, "one", last.Title)
}
