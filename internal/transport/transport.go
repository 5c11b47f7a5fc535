// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport carries streaming requests to the analysis backend,
// either directly over HTTP or through a relay bridge running in a host
// process.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/tongue-chat/internal/locale"
	"github.com/jeranaias/tongue-chat/internal/stream"
)

// =============================================================================
// TRANSPORT INTERFACE
// =============================================================================

// EventFunc receives decoded events in arrival order. It is called from a
// single goroutine per Open call.
type EventFunc func(stream.Event)

// CancelFunc tears down an open stream. It is safe to call more than once and
// after the stream has ended. Cancellation is silent: no event is emitted for
// it, though one event already being delivered when it is called may still
// reach the EventFunc.
type CancelFunc func()

// Transport opens streaming requests. Open must not block on the network;
// all failures are reported through onEvent as a single stream.Error.
type Transport interface {
	Open(ctx context.Context, req Request, onEvent EventFunc) CancelFunc
	// Name identifies the transport in logs and status output.
	Name() string
}

// HealthChecker is implemented by transports that can probe their peer.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// =============================================================================
// SELECTION
// =============================================================================

// Mode forces a transport choice. ModeAuto relays when a relay URL is present.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeDirect Mode = "direct"
	ModeRelay  Mode = "relay"
)

// ParseMode parses a mode name. The empty string means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeDirect:
		return ModeDirect, nil
	case ModeRelay:
		return ModeRelay, nil
	default:
		return "", fmt.Errorf("unknown transport mode %q (want auto, direct or relay)", s)
	}
}

// Options configures both transports. RelayURL is the host-provided relay
// capability: when it is set and Mode is auto, the relayed transport is used.
type Options struct {
	Mode     Mode
	RelayURL string
	Direct   DirectConfig
	Printer  *locale.Printer
}

// Select chooses a transport once from static configuration. It performs no
// I/O and keeps no state between calls.
func Select(opts Options) Transport {
	if opts.Printer == nil {
		opts.Printer = locale.New(locale.Default)
	}

	relayURL := strings.TrimSpace(opts.RelayURL)
	switch opts.Mode {
	case ModeDirect:
		return NewDirect(opts.Direct, opts.Printer)
	case ModeRelay:
		return NewRelayed(relayURL, opts.Printer)
	default:
		if relayURL != "" {
			return NewRelayed(relayURL, opts.Printer)
		}
		return NewDirect(opts.Direct, opts.Printer)
	}
}
