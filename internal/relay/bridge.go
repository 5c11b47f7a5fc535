// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/tongue-chat/internal/transport"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultListen is the default bridge address.
	DefaultListen = "127.0.0.1:8765"

	// DefaultMaxStartsPerSec limits new streams per connection.
	DefaultMaxStartsPerSec = 5

	// DefaultMaxMessageSize bounds one inbound message; start messages carry
	// base64 image data.
	DefaultMaxMessageSize = 32 << 20

	// Version is reported by /health.
	Version = "0.1.0"
)

// Config configures a Bridge.
type Config struct {
	// Listen is the TCP address ListenAndServe binds.
	Listen string

	// MaxStartsPerSec and Burst throttle start messages per connection.
	MaxStartsPerSec float64
	Burst           int

	// PongWait is how long a silent connection is kept; pings go out every
	// PingPeriod, which must be shorter.
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration

	MaxMessageSize int64
}

// DefaultConfig returns the default bridge configuration.
func DefaultConfig() Config {
	return Config{
		Listen:          DefaultListen,
		MaxStartsPerSec: DefaultMaxStartsPerSec,
		Burst:           DefaultMaxStartsPerSec,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageSize:  DefaultMaxMessageSize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.MaxStartsPerSec <= 0 {
		c.MaxStartsPerSec = d.MaxStartsPerSec
	}
	if c.Burst <= 0 {
		c.Burst = max(1, int(c.MaxStartsPerSec))
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// ============================================================================
// BRIDGE
// ============================================================================

// Stats counts bridge activity.
type Stats struct {
	Connections   int64 `json:"connections"`
	ActiveStreams int64 `json:"active_streams"`
	TotalStreams  int64 `json:"total_streams"`
}

// Bridge serves relay connections, forwarding each start message to an
// upstream transport (normally the direct transport).
type Bridge struct {
	config   Config
	upstream transport.Transport
	upgrader websocket.Upgrader
	router   *mux.Router
	started  time.Time

	connections   atomic.Int64
	activeStreams atomic.Int64
	totalStreams  atomic.Int64

	server *http.Server
}

// NewBridge creates a bridge that forwards to upstream.
func NewBridge(upstream transport.Transport, config Config) *Bridge {
	b := &Bridge{
		config:   config.withDefaults(),
		upstream: upstream,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Clients are local processes, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		router:  mux.NewRouter(),
		started: time.Now(),
	}
	b.setupRoutes()
	b.server = &http.Server{
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return b
}

func (b *Bridge) setupRoutes() {
	b.router.HandleFunc("/relay", b.handleRelay).Methods(http.MethodGet)
	b.router.HandleFunc("/health", b.handleHealth).Methods(http.MethodGet)
}

// Handler returns the bridge HTTP handler with logging and panic recovery.
func (b *Bridge) Handler() http.Handler {
	return Chain(RecoveryMiddleware(), LoggingMiddleware())(b.router)
}

// Stats returns a snapshot of the activity counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Connections:   b.connections.Load(),
		ActiveStreams: b.activeStreams.Load(),
		TotalStreams:  b.totalStreams.Load(),
	}
}

// Addr returns the configured listen address.
func (b *Bridge) Addr() string {
	return b.config.Listen
}

// Serve accepts connections on l until Shutdown is called.
func (b *Bridge) Serve(l net.Listener) error {
	log.Info().Str("addr", l.Addr().String()).Str("upstream", b.upstream.Name()).Msg("relay bridge listening")

	err := b.server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe binds the configured address and serves on it.
func (b *Bridge) ListenAndServe() error {
	l, err := net.Listen("tcp", b.config.Listen)
	if err != nil {
		return err
	}
	return b.Serve(l)
}

// Shutdown stops accepting connections and waits for handlers to return.
// Hijacked websocket connections are not tracked by http.Server; they end
// when their peers disconnect or the process exits.
func (b *Bridge) Shutdown(ctx context.Context) error {
	log.Info().Interface("stats", b.Stats()).Msg("relay bridge shutting down")
	return b.server.Shutdown(ctx)
}

// ============================================================================
// HANDLERS
// ============================================================================

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string  `json:"status"`
	Version  string  `json:"version"`
	Upstream string  `json:"upstream"`
	Backend  string  `json:"backend"`
	Uptime   float64 `json:"uptime_seconds"`
	Stats
}

func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:   "ok",
		Version:  Version,
		Upstream: b.upstream.Name(),
		Backend:  "unknown",
		Uptime:   time.Since(b.started).Seconds(),
		Stats:    b.Stats(),
	}

	if hc, ok := b.upstream.(transport.HealthChecker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := hc.Health(ctx); err != nil {
			health.Backend = "unavailable"
			health.Status = "degraded"
		} else {
			health.Backend = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(health)
}

func (b *Bridge) handleRelay(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	b.connections.Add(1)
	defer b.connections.Add(-1)

	newConn(b, ws, r.RemoteAddr).run()
}
