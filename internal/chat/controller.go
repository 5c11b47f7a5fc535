// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives the conversation: it appends the turns of each
// exchange to the log, streams the reply into the assistant turn and
// optionally saves the transcript when the exchange ends.
package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/tongue-chat/internal/locale"
	"github.com/jeranaias/tongue-chat/internal/model"
	"github.com/jeranaias/tongue-chat/internal/session"
	"github.com/jeranaias/tongue-chat/internal/transport"
)

// ErrBusy is returned when a message is sent while a reply is streaming.
var ErrBusy = errors.New("chat: an exchange is already streaming")

// TranscriptStore persists finished conversations.
type TranscriptStore interface {
	SaveTranscript(ctx context.Context, t model.Transcript) error
}

// Options configures a Controller.
type Options struct {
	// Store receives the transcript after every exchange. Optional.
	Store TranscriptStore

	// OnUpdate is called with a snapshot of the assistant turn after each
	// change. It runs on the streaming goroutine. Optional.
	OnUpdate func(model.Entry)
}

// =============================================================================
// EXCHANGE
// =============================================================================

// Exchange is one submitted message and its streaming reply.
type Exchange struct {
	UserTurn      string
	AssistantTurn string

	log     *model.Log
	done    chan struct{}
	once    sync.Once
	cancel  func()
	unwatch func() bool
}

// Done is closed when the reply completes, fails or is cancelled.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the exchange ends or ctx is done.
func (e *Exchange) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the reply, keeping the text received so far. It is safe to
// call more than once and after the exchange ended.
func (e *Exchange) Cancel() {
	e.cancel()
}

// Reply returns a snapshot of the assistant turn.
func (e *Exchange) Reply() model.Entry {
	entry, _ := e.log.Get(e.AssistantTurn)
	return entry
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller sends messages and applies their replies to a log. It allows
// one streaming exchange at a time.
type Controller struct {
	client   *session.Client
	log      *model.Log
	identity *session.Manager
	opts     Options

	mu     sync.Mutex
	active *Exchange
}

// New creates a controller. The log should format errors with printer.
func New(client *session.Client, conv *model.Log, identity *session.Manager, opts Options) *Controller {
	return &Controller{
		client:   client,
		log:      conv,
		identity: identity,
		opts:     opts,
	}
}

// NewLog creates a log whose failure text uses printer's error prefix.
func NewLog(printer *locale.Printer) *model.Log {
	return model.NewLog(model.WithErrorFormat(printer.FormatError))
}

// Log returns the conversation log.
func (c *Controller) Log() *model.Log {
	return c.log
}

// Active returns the streaming exchange, or nil.
func (c *Controller) Active() *Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SendText submits a text prompt.
func (c *Controller) SendText(ctx context.Context, prompt string) (*Exchange, error) {
	id := c.identity.Identity()
	req := transport.TextRequest{Prompt: prompt, UserID: id.UserID, SessionID: id.SessionID}
	return c.send(ctx, req, prompt, nil)
}

// SendImage submits an image with an optional note.
func (c *Controller) SendImage(ctx context.Context, img transport.Image, note string) (*Exchange, error) {
	id := c.identity.Identity()
	req := transport.ImageRequest{
		Image:          img,
		AdditionalText: note,
		UserID:         id.UserID,
		SessionID:      id.SessionID,
	}
	ref := &model.ImageRef{Filename: img.Filename, MIMEType: img.MIMEType, Size: len(img.Data)}
	return c.send(ctx, req, note, ref)
}

// Reset clears the conversation. It fails with ErrBusy while streaming.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return ErrBusy
	}
	c.log.Reset()
	return nil
}

func (c *Controller) send(ctx context.Context, req transport.Request, text string, image *model.ImageRef) (*Exchange, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	userTurn, reply := c.log.AppendExchange(text, image)
	ex := &Exchange{
		UserTurn:      userTurn,
		AssistantTurn: reply,
		log:           c.log,
		done:          make(chan struct{}),
	}
	c.active = ex
	c.mu.Unlock()

	c.identity.RecordExchange()

	finish := func() {
		ex.once.Do(func() {
			c.mu.Lock()
			if c.active == ex {
				c.active = nil
			}
			if ex.unwatch != nil {
				ex.unwatch()
			}
			c.mu.Unlock()
			c.save()
			close(ex.done)
		})
	}

	stop := c.client.Start(ctx, req, session.Handlers{
		OnContent: func(text string) {
			c.apply(reply, c.log.ApplyContent(reply, text))
		},
		OnStatus: func(label string) {
			c.apply(reply, c.log.ApplyStatus(reply, label))
		},
		OnComplete: func() {
			c.apply(reply, c.log.ApplyDone(reply))
			finish()
		},
		OnError: func(message string) {
			log.Debug().Str("turn", reply).Str("error", message).Msg("exchange failed")
			c.apply(reply, c.log.ApplyError(reply, message))
			finish()
		},
	})

	ex.cancel = func() {
		stop()
		select {
		case <-ex.done:
			return
		default:
		}
		c.apply(reply, c.log.ApplyCancel(reply))
		finish()
	}

	// Cancelling ctx ends the exchange like Cancel does. The transport drops
	// events once ctx is done, so without this the turn would never close.
	c.mu.Lock()
	if c.active == ex {
		ex.unwatch = context.AfterFunc(ctx, ex.cancel)
	}
	c.mu.Unlock()
	return ex, nil
}

// apply reports a log update. An event already in flight when the exchange
// was cancelled can arrive after its turn closed; it is dropped.
func (c *Controller) apply(turnID string, err error) {
	if errors.Is(err, model.ErrTurnClosed) {
		log.Debug().Str("turn", turnID).Msg("dropping late event for closed turn")
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("turn", turnID).Msg("dropping event for turn")
		return
	}
	if c.opts.OnUpdate != nil {
		if entry, ok := c.log.Get(turnID); ok {
			c.opts.OnUpdate(entry)
		}
	}
}

func (c *Controller) save() {
	if c.opts.Store == nil {
		return
	}
	tr := c.log.Transcript()
	if err := c.opts.Store.SaveTranscript(context.Background(), tr); err != nil {
		log.Error().Err(err).Str("conversation", tr.ID).Msg("failed to save transcript")
	}
}
