// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// NewApp builds the command tree. Output goes to stdout and stderr; tests
// replace Writer, ErrWriter and Reader on the returned app.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "tongue",
		Usage:   "chat with the tongue analysis service and stream its replies",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "read configuration from `FILE` instead of ~/.tongue/config.toml",
				EnvVars: []string{"TONGUE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "analysis service base `URL`",
			},
			&cli.StringFlag{
				Name:  "relay",
				Usage: "relay bridge websocket `URL`; when set, requests go through the bridge",
			},
			&cli.StringFlag{
				Name:  "transport",
				Usage: "force the transport: auto, direct or relay",
			},
			&cli.StringFlag{
				Name:  "locale",
				Usage: "message language: zh-TW or en",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			chatCommand(),
			askCommand(),
			analyzeCommand(),
			relayCommand(),
			historyCommand(),
			statusCommand(),
			configCommand(),
		},
		Action:         runChat,
		Writer:         os.Stdout,
		ErrWriter:      os.Stderr,
		Reader:         os.Stdin,
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

// Run executes the app and returns the process exit code. Error messages
// are written to stderr.
func Run(args []string) int {
	return run(NewApp(), args)
}

func run(app *cli.App, args []string) int {
	err := app.Run(args)
	if err != nil && err.Error() != "" {
		fmt.Fprintln(errWriter(app), "tongue:", err)
	}
	return ExitCode(err)
}

func errWriter(app *cli.App) io.Writer {
	if app.ErrWriter != nil {
		return app.ErrWriter
	}
	return os.Stderr
}
