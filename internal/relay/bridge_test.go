// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tongue-chat/internal/locale"
	"github.com/jeranaias/tongue-chat/internal/stream"
	"github.com/jeranaias/tongue-chat/internal/transport"
)

// =============================================================================
// HELPERS
// =============================================================================

// sseBackend replies to every chat request with the given lines.
func sseBackend(lines ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			io.WriteString(w, `{"status":"ok"}`)
			return
		}
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
}

// blockingBackend sends one fragment then holds the request open, closing
// released once the client goes away.
func blockingBackend(released chan<- struct{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `data: {"type":"content","content":"partial"}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	}))
}

func newBridge(t *testing.T, backendURL string, cfg Config) (*Bridge, *httptest.Server) {
	t.Helper()
	upstream := transport.NewDirect(transport.DirectConfig{BaseURL: backendURL}, locale.New("en"))
	b := NewBridge(upstream, cfg)
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	return b, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/relay"
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func startMsg(channel, prompt string) transport.RelayMessage {
	return transport.RelayMessage{
		Type:    transport.MsgStart,
		Channel: channel,
		Request: &transport.RelayRequest{Kind: transport.KindText, Prompt: prompt},
	}
}

func readMsg(t *testing.T, ws *websocket.Conn) transport.RelayMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg transport.RelayMessage
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

// collect gathers client events until a terminal one arrives.
func collect(t *testing.T, tr transport.Transport, req transport.Request) []stream.Event {
	t.Helper()
	ch := make(chan stream.Event, 16)
	cancel := tr.Open(context.Background(), req, func(ev stream.Event) { ch <- ev })
	defer cancel()

	var events []stream.Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
			if stream.IsTerminal(ev) {
				return events
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, got %v", events)
		}
	}
}

// =============================================================================
// END-TO-END TESTS
// =============================================================================

func TestBridge_RelayedTextStream(t *testing.T) {
	backend := sseBackend(
		`data: {"type":"status","message":"loading model"}`,
		`data: {"type":"content","content":"Hi"}`,
		`data: {"type":"content","content":" there"}`,
		`data: [DONE]`,
	)
	defer backend.Close()
	b, srv := newBridge(t, backend.URL, Config{})

	client := transport.NewRelayed(wsURL(srv), locale.New("en"))
	events := collect(t, client, transport.TextRequest{Prompt: "hello"})

	assert.Equal(t, []stream.Event{
		stream.Status{Label: "loading model"},
		stream.Content{Text: "Hi"},
		stream.Content{Text: " there"},
		stream.Done{},
	}, events)

	assert.Eventually(t, func() bool {
		s := b.Stats()
		return s.ActiveStreams == 0 && s.TotalStreams == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBridge_RelaysBackendError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"detail":"model unavailable"}`)
	}))
	defer backend.Close()
	_, srv := newBridge(t, backend.URL, Config{})

	client := transport.NewRelayed(wsURL(srv), locale.New("en"))
	events := collect(t, client, transport.TextRequest{Prompt: "hello"})

	assert.Equal(t, []stream.Event{stream.Error{Message: "model unavailable"}}, events)
}

func TestBridge_Health(t *testing.T) {
	backend := sseBackend()
	defer backend.Close()
	_, srv := newBridge(t, backend.URL, Config{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Backend)
	assert.Equal(t, "direct", health.Upstream)

	client := transport.NewRelayed(wsURL(srv), locale.New("en"))
	assert.NoError(t, client.Health(context.Background()))
}

func TestBridge_HealthDegradedWithoutBackend(t *testing.T) {
	backend := sseBackend()
	backend.Close()
	_, srv := newBridge(t, backend.URL, Config{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "unavailable", health.Backend)
}

// =============================================================================
// PROTOCOL TESTS
// =============================================================================

func TestBridge_MultipleChannelsOneConnection(t *testing.T) {
	backend := sseBackend(`data: {"type":"content","content":"ok"}`, `data: [DONE]`)
	defer backend.Close()
	_, srv := newBridge(t, backend.URL, Config{})
	ws := dial(t, srv)

	require.NoError(t, ws.WriteJSON(startMsg("a", "one")))
	require.NoError(t, ws.WriteJSON(startMsg("b", "two")))

	byChannel := map[string][]string{}
	for done := 0; done < 2; {
		msg := readMsg(t, ws)
		byChannel[msg.Channel] = append(byChannel[msg.Channel], msg.Type)
		if msg.Type == transport.MsgDone {
			done++
		}
	}

	assert.Equal(t, []string{transport.MsgChunk, transport.MsgDone}, byChannel["a"])
	assert.Equal(t, []string{transport.MsgChunk, transport.MsgDone}, byChannel["b"])
}

func TestBridge_RateLimitsStarts(t *testing.T) {
	released := make(chan struct{})
	backend := blockingBackend(released)
	defer backend.Close()
	_, srv := newBridge(t, backend.URL, Config{MaxStartsPerSec: 0.001, Burst: 1})
	ws := dial(t, srv)

	require.NoError(t, ws.WriteJSON(startMsg("first", "one")))
	assert.Equal(t, transport.MsgChunk, readMsg(t, ws).Type)

	require.NoError(t, ws.WriteJSON(startMsg("second", "two")))
	msg := readMsg(t, ws)
	assert.Equal(t, transport.MsgError, msg.Type)
	assert.Equal(t, "second", msg.Channel)
	assert.Contains(t, msg.Error, "too many requests")
}

func TestBridge_RejectsBadMessages(t *testing.T) {
	backend := sseBackend()
	defer backend.Close()
	_, srv := newBridge(t, backend.URL, Config{})
	ws := dial(t, srv)

	tests := []struct {
		name  string
		raw   string
		want  string
		chanl string
	}{
		{"not json", `not json`, "malformed message", ""},
		{"unknown type", `{"type":"subscribe","channel":"x"}`, "unexpected message type", "x"},
		{"missing channel", `{"type":"start","request":{"kind":"text","prompt":"hi"}}`, "without channel", ""},
		{"missing request", `{"type":"start","channel":"y"}`, "without request", "y"},
		{"bad kind", `{"type":"start","channel":"z","request":{"kind":"video"}}`, "unknown request kind", "z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(tt.raw)))
			msg := readMsg(t, ws)
			assert.Equal(t, transport.MsgError, msg.Type)
			assert.Equal(t, tt.chanl, msg.Channel)
			assert.Contains(t, msg.Error, tt.want)
		})
	}
}

func TestBridge_CancelAbortsUpstream(t *testing.T) {
	released := make(chan struct{})
	backend := blockingBackend(released)
	defer backend.Close()
	b, srv := newBridge(t, backend.URL, Config{})
	ws := dial(t, srv)

	require.NoError(t, ws.WriteJSON(startMsg("c1", "hi")))
	assert.Equal(t, transport.MsgChunk, readMsg(t, ws).Type)

	require.NoError(t, ws.WriteJSON(transport.RelayMessage{Type: transport.MsgCancel, Channel: "c1"}))

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not aborted")
	}
	assert.Eventually(t, func() bool { return b.Stats().ActiveStreams == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBridge_DisconnectAbortsUpstream(t *testing.T) {
	released := make(chan struct{})
	backend := blockingBackend(released)
	defer backend.Close()
	b, srv := newBridge(t, backend.URL, Config{})
	ws := dial(t, srv)

	require.NoError(t, ws.WriteJSON(startMsg("c1", "hi")))
	assert.Equal(t, transport.MsgChunk, readMsg(t, ws).Type)
	assert.Equal(t, int64(1), b.Stats().Connections)

	ws.Close()

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not aborted on disconnect")
	}
	assert.Eventually(t, func() bool {
		s := b.Stats()
		return s.ActiveStreams == 0 && s.Connections == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{PongWait: 10 * time.Second, PingPeriod: 20 * time.Second}.withDefaults()

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, float64(DefaultMaxStartsPerSec), cfg.MaxStartsPerSec)
	assert.Equal(t, 9*time.Second, cfg.PingPeriod)
	assert.Equal(t, int64(DefaultMaxMessageSize), cfg.MaxMessageSize)
}
