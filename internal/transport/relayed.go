// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/tongue-chat/internal/locale"
	"github.com/jeranaias/tongue-chat/internal/stream"
)

// relayWriteWait bounds a single websocket write.
const relayWriteWait = 10 * time.Second

// Relayed sends requests to a relay bridge over a websocket; the bridge makes
// the backend call and re-emits each decoded event tagged with a channel name.
type Relayed struct {
	url     string
	dialer  *websocket.Dialer
	printer *locale.Printer
}

// NewRelayed creates a relayed transport for the bridge at rawURL
// (for example ws://127.0.0.1:8765/relay).
func NewRelayed(rawURL string, printer *locale.Printer) *Relayed {
	if printer == nil {
		printer = locale.New(locale.Default)
	}
	return &Relayed{
		url: rawURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		printer: printer,
	}
}

// Name implements Transport.
func (r *Relayed) Name() string {
	return "relay"
}

// URL returns the bridge address.
func (r *Relayed) URL() string {
	return r.url
}

// relayConn serializes writes on one websocket.
type relayConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *relayConn) send(msg RelayMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(relayWriteWait))
	return c.ws.WriteJSON(msg)
}

// abort tells the bridge to drop channel, then closes the socket.
func (c *relayConn) abort(channel string) {
	if err := c.send(RelayMessage{Type: MsgCancel, Channel: channel}); err != nil {
		log.Debug().Err(err).Str("channel", channel).Msg("relay cancel not delivered")
	}
	c.ws.Close()
}

// relayStream is the client half of one channel.
type relayStream struct {
	channel  string
	cancel   context.CancelFunc
	detached atomic.Bool
	once     sync.Once

	connMu sync.Mutex
	conn   *relayConn
}

// attach records the connection unless the stream was already stopped.
func (s *relayStream) attach(c *relayConn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.detached.Load() {
		return false
	}
	s.conn = c
	return true
}

// stop detaches the listener and returns without waiting on the socket;
// the cancel message and close happen in the background.
func (s *relayStream) stop() {
	s.once.Do(func() {
		s.detached.Store(true)
		s.cancel()
		s.connMu.Lock()
		c := s.conn
		s.connMu.Unlock()
		if c != nil {
			go c.abort(s.channel)
		}
	})
}

// Open implements Transport. Each call subscribes to a fresh channel on its
// own connection. The returned CancelFunc asks the bridge to abort and closes
// the connection; late bridge messages are dropped.
func (r *Relayed) Open(ctx context.Context, req Request, onEvent EventFunc) CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	st := &relayStream{channel: "stream-" + uuid.NewString(), cancel: cancel}
	channel := st.channel

	emit := func(ev stream.Event) bool {
		if st.detached.Load() || ctx.Err() != nil {
			return false
		}
		onEvent(ev)
		return !stream.IsTerminal(ev)
	}

	go func() {
		defer cancel()

		if req.Empty() {
			emit(stream.Error{Message: r.printer.EmptyInput()})
			return
		}

		wireReq, err := EncodeRequest(req)
		if err != nil {
			emit(stream.Error{Message: err.Error()})
			return
		}

		ws, _, err := r.dialer.DialContext(ctx, r.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			terr := r.describe(err)
			log.Error().Err(err).Str("url", r.url).Msg("relay dial failed")
			emit(stream.Error{Message: terr.Message})
			return
		}

		c := &relayConn{ws: ws}
		if !st.attach(c) {
			ws.Close()
			return
		}
		defer ws.Close()

		log.Debug().Str("transport", r.Name()).Str("channel", channel).Msg("opening relayed stream")

		if err := c.send(RelayMessage{Type: MsgStart, Channel: channel, Request: wireReq}); err != nil {
			emit(stream.Error{Message: r.printer.RelayLost(err)})
			return
		}

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				emit(stream.Error{Message: r.printer.RelayLost(err)})
				return
			}

			var msg RelayMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Warn().Err(err).Str("channel", channel).Msg("malformed relay message")
				emit(stream.Error{Message: r.printer.RelayMalformed(err.Error())})
				return
			}
			if msg.Channel != channel {
				continue
			}

			ev, err := msg.Event()
			if err != nil {
				emit(stream.Error{Message: r.printer.RelayMalformed(err.Error())})
				return
			}
			if !emit(ev) {
				return
			}
		}
	}()

	return st.stop
}

// Health probes the bridge's /health endpoint.
func (r *Relayed) Health(ctx context.Context) error {
	healthURL, err := relayHealthURL(r.url)
	if err != nil {
		return &Error{Kind: KindRelay, Message: r.printer.RelayMalformed(err.Error()), Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return &Error{Kind: KindUnknown, Message: "failed to create request", Cause: err}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return r.describe(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Error{Kind: KindHTTPStatus, StatusCode: resp.StatusCode, Message: r.printer.HTTPStatus(resp.StatusCode)}
	}
	return nil
}

func (r *Relayed) describe(err error) *Error {
	if isConnectionFailure(err) {
		return &Error{Kind: KindUnreachable, Message: r.printer.Unreachable(r.url), Cause: err}
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		log.Warn().Str("url", r.url).Msg("relay rejected websocket handshake")
	}
	return &Error{Kind: KindRelay, Message: r.printer.RelayLost(err), Cause: err}
}

// relayHealthURL maps ws://host/relay to http://host/health.
func relayHealthURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String(), nil
}
