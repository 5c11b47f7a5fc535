// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jeranaias/tongue-chat/internal/stream"
	"github.com/jeranaias/tongue-chat/internal/transport"
)

// activeStream is one upstream call started by a connection.
type activeStream struct {
	cancel    transport.CancelFunc
	cancelled bool
}

// conn serves one websocket. Reads happen on the run goroutine; writes come
// from upstream callbacks and the ping loop and are serialized by writeMu.
type conn struct {
	bridge  *Bridge
	ws      *websocket.Conn
	limiter *rate.Limiter
	logger  zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]*activeStream
}

func newConn(b *Bridge, ws *websocket.Conn, remote string) *conn {
	return &conn{
		bridge:  b,
		ws:      ws,
		limiter: rate.NewLimiter(rate.Limit(b.config.MaxStartsPerSec), b.config.Burst),
		logger:  log.With().Str("remote", remote).Logger(),
		streams: make(map[string]*activeStream),
	}
}

// run reads client messages until the connection drops, then aborts every
// stream this connection started.
func (c *conn) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.abortAll()
		c.ws.Close()
		c.logger.Debug().Msg("relay connection closed")
	}()

	cfg := c.bridge.config
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	go c.pingLoop(ctx)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("relay read ended")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))

		var msg transport.RelayMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.fail("", fmt.Sprintf("malformed message: %v", err))
			continue
		}

		switch msg.Type {
		case transport.MsgStart:
			c.start(ctx, msg)
		case transport.MsgCancel:
			c.cancelStream(msg.Channel)
		default:
			c.fail(msg.Channel, fmt.Sprintf("unexpected message type %q", msg.Type))
		}
	}
}

func (c *conn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.bridge.config.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.bridge.config.WriteWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// start validates a start message and opens the upstream stream, forwarding
// each event under the message channel.
func (c *conn) start(ctx context.Context, msg transport.RelayMessage) {
	channel := msg.Channel
	if channel == "" {
		c.fail("", "start message without channel")
		return
	}
	if !c.limiter.Allow() {
		c.logger.Warn().Str("channel", channel).Msg("start rate limited")
		c.fail(channel, "too many requests, slow down")
		return
	}

	req, err := msg.Request.Decode()
	if err != nil {
		c.fail(channel, err.Error())
		return
	}

	st := &activeStream{}
	c.mu.Lock()
	if _, dup := c.streams[channel]; dup {
		c.mu.Unlock()
		c.fail(channel, "channel already in use")
		return
	}
	c.streams[channel] = st
	c.mu.Unlock()

	c.bridge.activeStreams.Add(1)
	c.bridge.totalStreams.Add(1)
	c.logger.Debug().Str("channel", channel).Str("upstream", c.bridge.upstream.Name()).Msg("stream started")

	cancel := c.bridge.upstream.Open(ctx, req, func(ev stream.Event) {
		if err := c.send(transport.EventMessage(channel, ev)); err != nil {
			c.logger.Debug().Err(err).Str("channel", channel).Msg("dropping event for closed connection")
		}
		if stream.IsTerminal(ev) {
			c.finish(channel, st)
		}
	})

	c.mu.Lock()
	st.cancel = cancel
	abort := st.cancelled
	c.mu.Unlock()
	if abort {
		cancel()
	}
}

// cancelStream aborts the upstream call for channel. Unknown channels are
// ignored; the stream may already have finished.
func (c *conn) cancelStream(channel string) {
	c.mu.Lock()
	st, ok := c.streams[channel]
	var cancel transport.CancelFunc
	if ok {
		delete(c.streams, channel)
		st.cancelled = true
		cancel = st.cancel
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	c.bridge.activeStreams.Add(-1)
	c.logger.Debug().Str("channel", channel).Msg("stream cancelled by client")
	if cancel != nil {
		cancel()
	}
}

// finish forgets a stream that delivered its terminal event.
func (c *conn) finish(channel string, st *activeStream) {
	c.mu.Lock()
	current, ok := c.streams[channel]
	if ok && current == st {
		delete(c.streams, channel)
	}
	c.mu.Unlock()
	if ok && current == st {
		c.bridge.activeStreams.Add(-1)
	}
}

func (c *conn) abortAll() {
	c.mu.Lock()
	cancels := make([]transport.CancelFunc, 0, len(c.streams))
	for _, st := range c.streams {
		st.cancelled = true
		cancels = append(cancels, st.cancel)
	}
	c.streams = make(map[string]*activeStream)
	c.mu.Unlock()

	for _, cancel := range cancels {
		c.bridge.activeStreams.Add(-1)
		if cancel != nil {
			cancel()
		}
	}
}

func (c *conn) fail(channel, message string) {
	if err := c.send(transport.RelayMessage{Type: transport.MsgError, Channel: channel, Error: message}); err != nil {
		c.logger.Debug().Err(err).Msg("failed to report error")
	}
}

func (c *conn) send(msg transport.RelayMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.bridge.config.WriteWait))
	return c.ws.WriteJSON(msg)
}
