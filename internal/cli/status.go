// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/tongue-chat/internal/transport"
	"github.com/jeranaias/tongue-chat/internal/util"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:    "status",
		Aliases: []string{"s"},
		Usage:   "show which transport is used and whether the backend answers",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "output in JSON format"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "health check timeout"},
		},
		Action: runStatus,
	}
}

// StatusReport is the status command output.
type StatusReport struct {
	Transport string `json:"transport"`
	Target    string `json:"target"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	UserID    string `json:"user_id"`
	Database  string `json:"database"`
	Locale    string `json:"locale"`
}

func runStatus(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	tr := env.Transport()
	report := StatusReport{
		Transport: tr.Name(),
		Database:  env.Config.Storage.Path,
		Locale:    env.Printer.Tag().String(),
	}
	switch t := tr.(type) {
	case *transport.Direct:
		report.Target = t.BaseURL()
	case *transport.Relayed:
		report.Target = t.URL()
	}
	if identity, err := env.Identity(); err == nil {
		report.UserID = identity.UserID()
	}

	if hc, ok := tr.(transport.HealthChecker); ok {
		ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
		err := hc.Health(ctx)
		cancel()
		report.Healthy = err == nil
		if err != nil {
			report.Error = err.Error()
		}
	}

	if c.Bool("json") {
		enc := json.NewEncoder(env.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printStatus(env, report)
	}
	if !report.Healthy {
		return cli.Exit("", ExitBackendError)
	}
	return nil
}

func printStatus(env *Env, r StatusReport) {
	t := env.Theme
	health := t.Success.Render("ok")
	if !r.Healthy {
		health = t.Error.Render("unavailable: " + r.Error)
	}
	rows := [][2]string{
		{"Transport", r.Transport},
		{"Target", r.Target},
		{"Backend", health},
		{"User", r.UserID},
		{"Database", r.Database},
		{"Locale", r.Locale},
	}
	for _, row := range rows {
		fmt.Fprintln(env.Out, t.Muted.Render(util.PadWidth(row[0], 10))+row[1])
	}
}
