// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs streaming exchanges against a transport and tracks the
// identity tokens forwarded with every request.
//
// A Client starts one exchange per Start call. Events are delivered to the
// caller's Handlers in decode order; exactly one of OnComplete or OnError is
// called unless the exchange is cancelled first, and it is always the last
// call. Cancellation is silent: no terminal event is delivered for it. An
// event the transport goroutine was already dispatching when cancel ran may
// still reach its handler after cancel returns; nothing after that one does.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/tongue-chat/internal/locale"
	"github.com/jeranaias/tongue-chat/internal/stream"
	"github.com/jeranaias/tongue-chat/internal/transport"
)

// =============================================================================
// HANDLERS
// =============================================================================

// Handlers receive the events of one exchange. Any of them may be nil.
// Handlers may call the exchange's cancel function.
type Handlers struct {
	OnContent  func(text string)
	OnStatus   func(label string)
	OnComplete func()
	OnError    func(message string)
}

// dispatcher forwards events to Handlers and enforces the terminal contract.
type dispatcher struct {
	mu     sync.Mutex
	closed bool
	h      Handlers
}

func (d *dispatcher) dispatch(ev stream.Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if stream.IsTerminal(ev) {
		d.closed = true
	}
	d.mu.Unlock()

	switch e := ev.(type) {
	case stream.Content:
		if d.h.OnContent != nil {
			d.h.OnContent(e.Text)
		}
	case stream.Status:
		if d.h.OnStatus != nil {
			d.h.OnStatus(e.Label)
		}
	case stream.Done:
		if d.h.OnComplete != nil {
			d.h.OnComplete()
		}
	case stream.Error:
		if d.h.OnError != nil {
			d.h.OnError(e.Message)
		}
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// =============================================================================
// CLIENT
// =============================================================================

// Client starts streaming exchanges over one transport. It holds no
// per-exchange state and is safe for concurrent use.
type Client struct {
	transport transport.Transport
	printer   *locale.Printer
}

// NewClient creates a client over t.
func NewClient(t transport.Transport, printer *locale.Printer) *Client {
	if printer == nil {
		printer = locale.New(locale.Default)
	}
	return &Client{transport: t, printer: printer}
}

// Transport returns the transport exchanges are opened on.
func (c *Client) Transport() transport.Transport {
	return c.transport
}

// Start opens an exchange for req. An empty request is rejected with OnError
// from a separate goroutine, without touching the transport. The returned
// function cancels the exchange; it is idempotent and a no-op after the
// terminal event.
func (c *Client) Start(ctx context.Context, req transport.Request, h Handlers) transport.CancelFunc {
	d := &dispatcher{h: h}

	if req == nil || req.Empty() {
		log.Debug().Msg("rejecting empty request")
		msg := c.printer.EmptyInput()
		go d.dispatch(stream.Error{Message: msg})
		return d.close
	}

	userID, sessionID := req.Identity()
	log.Debug().
		Str("transport", c.transport.Name()).
		Str("user_id", userID).
		Str("session_id", sessionID).
		Msg("starting exchange")

	stop := c.transport.Open(ctx, req, d.dispatch)

	var once sync.Once
	return func() {
		once.Do(func() {
			d.close()
			stop()
		})
	}
}

// StartText starts a text chat exchange.
func (c *Client) StartText(ctx context.Context, prompt, userID, sessionID string, h Handlers) transport.CancelFunc {
	return c.Start(ctx, transport.TextRequest{
		Prompt:    prompt,
		UserID:    userID,
		SessionID: sessionID,
	}, h)
}

// StartImage starts an image analysis exchange. additionalText may be empty.
func (c *Client) StartImage(ctx context.Context, img transport.Image, additionalText, userID, sessionID string, h Handlers) transport.CancelFunc {
	return c.Start(ctx, transport.ImageRequest{
		Image:          img,
		AdditionalText: additionalText,
		UserID:         userID,
		SessionID:      sessionID,
	}, h)
}
