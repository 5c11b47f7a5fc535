// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jeranaias/tongue-chat/internal/locale"
	"github.com/jeranaias/tongue-chat/internal/stream"
	"github.com/jeranaias/tongue-chat/internal/transport"
)

// =============================================================================
// FAKES
// =============================================================================

// scriptedTransport replays a fixed event list from its own goroutine. When
// hold is set it waits for cancel after the first event.
type scriptedTransport struct {
	events  []stream.Event
	hold    bool
	opens   atomic.Int32
	cancels atomic.Int32
}

func (s *scriptedTransport) Name() string { return "scripted" }

func (s *scriptedTransport) Open(ctx context.Context, req transport.Request, onEvent transport.EventFunc) transport.CancelFunc {
	s.opens.Add(1)
	stopped := make(chan struct{})
	var once sync.Once

	go func() {
		for i, ev := range s.events {
			select {
			case <-stopped:
				return
			default:
			}
			onEvent(ev)
			if i == 0 && s.hold {
				<-stopped
				// A misbehaving transport that keeps emitting after cancel.
				onEvent(stream.Content{Text: "late"})
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			s.cancels.Add(1)
			close(stopped)
		})
	}
}

// callLog records handler invocations as "kind:payload" strings.
type callLog struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
	once  sync.Once
}

func newCallLog() *callLog {
	return &callLog{done: make(chan struct{})}
}

func (l *callLog) add(s string, terminal bool) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
	if terminal {
		l.once.Do(func() { close(l.done) })
	}
}

func (l *callLog) handlers() Handlers {
	return Handlers{
		OnContent:  func(text string) { l.add("content:"+text, false) },
		OnStatus:   func(label string) { l.add("status:"+label, false) },
		OnComplete: func() { l.add("complete", true) },
		OnError:    func(msg string) { l.add("error:"+msg, true) },
	}
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("no terminal handler call, got %v", l.snapshot())
	}
	return l.snapshot()
}

// =============================================================================
// DISPATCH TESTS
// =============================================================================

func TestStart_DispatchesInOrder(t *testing.T) {
	tr := &scriptedTransport{events: []stream.Event{
		stream.Status{Label: "reading image"},
		stream.Content{Text: "Hi"},
		stream.Content{Text: " there"},
		stream.Done{},
	}}
	calls := newCallLog()

	NewClient(tr, locale.New("en")).StartText(context.Background(), "hello", "u", "s", calls.handlers())

	assert.Equal(t, []string{"status:reading image", "content:Hi", "content: there", "complete"}, calls.wait(t))
}

func TestStart_NothingAfterTerminal(t *testing.T) {
	tr := &scriptedTransport{events: []stream.Event{
		stream.Content{Text: "a"},
		stream.Error{Message: "boom"},
		stream.Content{Text: "b"},
		stream.Done{},
	}}
	calls := newCallLog()

	NewClient(tr, locale.New("en")).StartText(context.Background(), "hello", "u", "s", calls.handlers())

	calls.wait(t)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"content:a", "error:boom"}, calls.snapshot())
}

func TestStart_RejectsEmptyRequests(t *testing.T) {
	tests := []struct {
		name  string
		start func(c *Client, h Handlers) transport.CancelFunc
	}{
		{"blank prompt", func(c *Client, h Handlers) transport.CancelFunc {
			return c.StartText(context.Background(), " \t\n", "u", "s", h)
		}},
		{"missing image", func(c *Client, h Handlers) transport.CancelFunc {
			return c.StartImage(context.Background(), transport.Image{}, "note only", "u", "s", h)
		}},
		{"nil request", func(c *Client, h Handlers) transport.CancelFunc {
			return c.Start(context.Background(), nil, h)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &scriptedTransport{}
			calls := newCallLog()

			cancel := tt.start(NewClient(tr, locale.New("zh-TW")), calls.handlers())
			require.NotNil(t, cancel)

			assert.Equal(t, []string{"error:請提供圖片或文字提示"}, calls.wait(t))
			assert.Zero(t, tr.opens.Load())
			assert.NotPanics(t, func() { cancel(); cancel() })
		})
	}
}

func TestStart_NilHandlers(t *testing.T) {
	tr := &scriptedTransport{events: []stream.Event{
		stream.Status{Label: "x"},
		stream.Content{Text: "y"},
		stream.Done{},
	}}
	done := make(chan struct{})

	NewClient(tr, nil).StartText(context.Background(), "hi", "", "", Handlers{
		OnComplete: func() { close(done) },
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("OnComplete not called")
	}
}

// =============================================================================
// CANCELLATION TESTS
// =============================================================================

func TestCancel_IsSilentAndIdempotent(t *testing.T) {
	tr := &scriptedTransport{
		events: []stream.Event{stream.Content{Text: "first"}, stream.Done{}},
		hold:   true,
	}
	first := make(chan struct{})
	var (
		mu    sync.Mutex
		calls []string
	)
	h := Handlers{
		OnContent: func(text string) {
			mu.Lock()
			calls = append(calls, text)
			mu.Unlock()
			if text == "first" {
				close(first)
			}
		},
		OnComplete: func() { t.Error("OnComplete after cancel") },
		OnError:    func(msg string) { t.Errorf("OnError after cancel: %s", msg) },
	}

	cancel := NewClient(tr, nil).StartText(context.Background(), "hi", "u", "s", h)
	<-first

	cancel()
	cancel()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), tr.cancels.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first"}, calls)
}

func TestCancel_AfterCompletionIsNoop(t *testing.T) {
	tr := &scriptedTransport{events: []stream.Event{stream.Done{}}}
	calls := newCallLog()

	cancel := NewClient(tr, nil).StartText(context.Background(), "hi", "u", "s", calls.handlers())
	calls.wait(t)

	assert.NotPanics(t, func() {
		cancel()
		cancel()
	})
	assert.Equal(t, []string{"complete"}, calls.snapshot())
}

func TestCancel_FromInsideHandler(t *testing.T) {
	tr := &scriptedTransport{
		events: []stream.Event{stream.Content{Text: "stop me"}, stream.Done{}},
		hold:   true,
	}
	var cancel transport.CancelFunc
	ready := make(chan struct{})
	handled := make(chan struct{})

	cancel = NewClient(tr, nil).StartText(context.Background(), "hi", "u", "s", Handlers{
		OnContent: func(string) {
			<-ready
			cancel()
			close(handled)
		},
	})
	close(ready)

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("handler deadlocked on cancel")
	}
	assert.Equal(t, int32(1), tr.cancels.Load())
}

// =============================================================================
// PROPERTY TESTS
// =============================================================================

func eventGen() *rapid.Generator[stream.Event] {
	return rapid.Custom(func(t *rapid.T) stream.Event {
		switch rapid.IntRange(0, 4).Draw(t, "kind") {
		case 0:
			return stream.Status{Label: rapid.StringMatching(`[a-z]{0,5}`).Draw(t, "label")}
		case 1:
			return stream.Done{}
		case 2:
			return stream.Error{Message: rapid.StringMatching(`[a-z]{1,5}`).Draw(t, "msg")}
		default:
			return stream.Content{Text: rapid.StringMatching(`[a-z ]{0,5}`).Draw(t, "text")}
		}
	})
}

func expectedCalls(events []stream.Event) []string {
	var out []string
	for _, ev := range events {
		switch e := ev.(type) {
		case stream.Content:
			out = append(out, "content:"+e.Text)
		case stream.Status:
			out = append(out, "status:"+e.Label)
		case stream.Done:
			return append(out, "complete")
		case stream.Error:
			return append(out, "error:"+e.Message)
		}
	}
	return out
}

func TestProperty_SingleTerminalLast(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		events := rapid.SliceOfN(eventGen(), 0, 12).Draw(rt, "events")
		// Transports always end with a terminal event.
		events = append(events, stream.Done{})

		tr := &scriptedTransport{events: events}
		calls := newCallLog()
		NewClient(tr, nil).StartText(context.Background(), "hi", "u", "s", calls.handlers())

		select {
		case <-calls.done:
		case <-time.After(5 * time.Second):
			rt.Fatalf("no terminal call")
		}
		time.Sleep(time.Millisecond)

		got := calls.snapshot()
		want := expectedCalls(events)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			rt.Fatalf("calls = %q, want %q", got, want)
		}
	})
}
