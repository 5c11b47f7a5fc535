// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/tongue-chat/internal/storage"
	"github.com/jeranaias/tongue-chat/internal/ui"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Aliases:   []string{"h"},
		Usage:     "list saved conversations, or show one",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   20,
				Usage:   "number of conversations to list (0 for all)",
			},
			&cli.BoolFlag{
				Name:  "delete",
				Usage: "delete the conversation instead of showing it",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the conversation as JSON",
			},
			rawFlag,
		},
		Action: runHistory,
	}
}

func runHistory(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	store, persistent := env.Store()
	if !persistent {
		return cli.Exit("no conversation database at "+env.Config.Storage.Path, ExitGeneralError)
	}

	if c.NArg() == 0 {
		metas, err := store.ListTranscripts(c.Context, c.Int("limit"))
		if err != nil {
			return err
		}
		fmt.Fprint(env.Out, storage.FormatTranscriptList(metas))
		if len(metas) > 0 {
			fmt.Fprintln(env.Out)
		}
		return nil
	}

	tr, err := store.LoadTranscript(c.Context, c.Args().First())
	if storage.IsNotFound(err) {
		return cli.Exit(fmt.Sprintf("no conversation matches %q", c.Args().First()), ExitNotFoundError)
	}
	if err != nil {
		return err
	}

	switch {
	case c.Bool("delete"):
		if err := store.DeleteTranscript(c.Context, tr.ID); err != nil {
			return err
		}
		fmt.Fprintln(env.Out, "deleted", tr.ID)
	case c.Bool("json"):
		enc := json.NewEncoder(env.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(tr)
	default:
		fmt.Fprint(env.Out, ui.RenderTranscript(env.Theme, env.Markdown(c.Bool("raw")), tr))
	}
	return nil
}
