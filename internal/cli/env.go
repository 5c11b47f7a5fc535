// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/jeranaias/tongue-chat/internal/chat"
	"github.com/jeranaias/tongue-chat/internal/config"
	"github.com/jeranaias/tongue-chat/internal/locale"
	"github.com/jeranaias/tongue-chat/internal/logging"
	"github.com/jeranaias/tongue-chat/internal/model"
	"github.com/jeranaias/tongue-chat/internal/session"
	"github.com/jeranaias/tongue-chat/internal/storage"
	"github.com/jeranaias/tongue-chat/internal/transport"
	"github.com/jeranaias/tongue-chat/internal/ui"
)

// Env is the per-command runtime: resolved configuration plus the
// collaborators built from it.
type Env struct {
	Config  *config.Config
	Printer *locale.Printer
	Theme   *ui.Theme
	Out     io.Writer
	ErrOut  io.Writer
	In      io.Reader

	store *storage.Store
}

// setup loads configuration, applies global flags and configures logging.
func setup(c *cli.Context) (*Env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, configError(err)
	}
	if err := logging.Setup(cfg.Log.Level, c.App.ErrWriter); err != nil {
		return nil, configError(err)
	}

	return &Env{
		Config:  cfg,
		Printer: locale.New(cfg.UI.Locale),
		Theme:   ui.NewTheme(cfg.UI.Theme, c.App.Writer),
		Out:     c.App.Writer,
		ErrOut:  c.App.ErrWriter,
		In:      c.App.Reader,
	}, nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag  string
		field *string
	}{
		{"backend", &cfg.Backend.BaseURL},
		{"relay", &cfg.Transport.RelayURL},
		{"transport", &cfg.Transport.Mode},
		{"log-level", &cfg.Log.Level},
		{"locale", &cfg.UI.Locale},
	}
	changed := false
	for _, o := range overrides {
		if c.IsSet(o.flag) {
			*o.field = strings.TrimSpace(c.String(o.flag))
			changed = true
		}
	}
	if changed {
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Close releases the database if it was opened.
func (e *Env) Close() {
	if e.store != nil {
		e.store.Close()
		e.store = nil
	}
}

// DirectConfig returns the direct transport settings.
func (e *Env) DirectConfig() transport.DirectConfig {
	d := transport.DefaultDirectConfig()
	d.BaseURL = e.Config.Backend.BaseURL
	d.ChatPath = e.Config.Backend.ChatPath
	d.ImagePath = e.Config.Backend.ImagePath
	d.ConnectTimeout = e.Config.ConnectTimeout()
	return d
}

// Transport selects the transport once from configuration.
func (e *Env) Transport() transport.Transport {
	mode, err := transport.ParseMode(e.Config.Transport.Mode)
	if err != nil {
		// Validate already rejected unknown modes.
		mode = transport.ModeAuto
	}
	return transport.Select(transport.Options{
		Mode:     mode,
		RelayURL: e.Config.Transport.RelayURL,
		Direct:   e.DirectConfig(),
		Printer:  e.Printer,
	})
}

// Store opens the local database. When it cannot be opened, a private
// in-memory database stands in so chatting still works; nothing is kept.
func (e *Env) Store() (*storage.Store, bool) {
	if e.store != nil {
		return e.store, e.store.Path() != ":memory:"
	}

	s, err := storage.Open(e.Config.Storage.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", e.Config.Storage.Path).Msg("database unavailable, history will not be saved")
		s, err = storage.Open(":memory:")
		if err != nil {
			log.Error().Err(err).Msg("in-memory database unavailable")
			return nil, false
		}
	}
	e.store = s
	return s, s.Path() != ":memory:"
}

// Markdown returns a renderer when markdown is enabled and output is a
// terminal, otherwise nil.
func (e *Env) Markdown(raw bool) *ui.Markdown {
	if raw || !e.Config.UI.Markdown || !isTerminal(e.Out) {
		return nil
	}
	return ui.NewMarkdown(e.Theme, ui.TerminalWidth(e.Out))
}

// Identity resolves the persistent user ID and starts a new session.
func (e *Env) Identity() (*session.Manager, error) {
	store, _ := e.Store()
	var kv session.KeyValueStore = memoryKV{}
	if store != nil {
		kv = store
	}
	userID, err := session.LoadUserID(kv, e.Config.Identity.UserID)
	if err != nil {
		return nil, err
	}
	return session.NewManager(userID), nil
}

// NewController wires the transport, session client, log and store.
func (e *Env) NewController(onUpdate func(model.Entry)) (*chat.Controller, *session.Manager, error) {
	identity, err := e.Identity()
	if err != nil {
		return nil, nil, err
	}

	opts := chat.Options{OnUpdate: onUpdate}
	if store, persistent := e.Store(); persistent && e.Config.Storage.SaveTranscripts {
		opts.Store = store
	}

	client := session.NewClient(e.Transport(), e.Printer)
	log.Debug().
		Str("transport", client.Transport().Name()).
		Str("session", identity.SessionID()).
		Msg("controller ready")
	return chat.New(client, chat.NewLog(e.Printer), identity, opts), identity, nil
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// memoryKV is the identity store of last resort.
type memoryKV map[string]string

func (m memoryKV) Get(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memoryKV) Put(key, value string) error {
	m[key] = value
	return nil
}
