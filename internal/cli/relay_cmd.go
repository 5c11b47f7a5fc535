// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/tongue-chat/internal/relay"
	"github.com/jeranaias/tongue-chat/internal/transport"
)

func relayCommand() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "run the relay bridge that performs backend calls for sandboxed clients",
		Description: "Clients that cannot reach the backend set TONGUE_RELAY_URL to\n" +
			"ws://<listen>/relay and their requests are forwarded from here.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "`ADDR` to listen on (default from relay.listen)",
			},
			&cli.Float64Flag{
				Name:  "max-starts",
				Usage: "new streams allowed per second on one connection",
			},
		},
		Action: runRelay,
	}
}

func runRelay(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	cfg := relay.DefaultConfig()
	cfg.Listen = env.Config.Relay.Listen
	cfg.MaxStartsPerSec = env.Config.Relay.MaxStartsPerSec
	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("max-starts") {
		cfg.MaxStartsPerSec = c.Float64("max-starts")
		cfg.Burst = 0
	}

	// The bridge always calls the backend itself.
	upstream := transport.NewDirect(env.DirectConfig(), env.Printer)
	bridge := relay.NewBridge(upstream, cfg)

	l, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return cli.Exit(fmt.Sprintf("listen on %s: %v", cfg.Listen, err), ExitGeneralError)
	}
	fmt.Fprintf(env.Out, "relay bridge on ws://%s/relay -> %s\n", l.Addr(), upstream.BaseURL())

	ctx, stop := interruptContext(c.Context)
	defer stop()
	return serveUntilDone(ctx, bridge, l)
}

// serveUntilDone serves until ctx ends, then shuts the bridge down.
func serveUntilDone(ctx context.Context, bridge *relay.Bridge, l net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.Serve(l)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return bridge.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	log.Info().Interface("stats", bridge.Stats()).Msg("relay bridge stopped")
	return err
}
