// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/tongue-chat/internal/config"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "inspect or edit the configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "print the effective configuration",
				Action: runConfigShow,
			},
			{
				Name:   "path",
				Usage:  "print the configuration file path",
				Action: runConfigPath,
			},
			{
				Name:  "init",
				Usage: "write a default configuration file",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
				},
				Action: runConfigInit,
			},
			{
				Name:      "get",
				Usage:     "print one value",
				ArgsUsage: "<key>",
				Action:    runConfigGet,
			},
			{
				Name:      "set",
				Usage:     "change one value in the configuration file",
				ArgsUsage: "<key> <value>",
				Action:    runConfigSet,
			},
			{
				Name:   "keys",
				Usage:  "list every configuration key",
				Action: runConfigKeys,
			},
		},
	}
}

// configPath returns --config or the default TOML path.
func configPath(c *cli.Context) (string, error) {
	if path := c.String("config"); path != "" {
		return path, nil
	}
	return config.ConfigPathTOML()
}

func runConfigShow(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return configError(err)
	}
	fmt.Fprint(c.App.Writer, cfg.String())
	return nil
}

func runConfigPath(c *cli.Context) error {
	path, err := configPath(c)
	if err != nil {
		return configError(err)
	}
	fmt.Fprintln(c.App.Writer, path)
	return nil
}

func runConfigInit(c *cli.Context) error {
	path, err := configPath(c)
	if err != nil {
		return configError(err)
	}
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return usageError("%s already exists (use --force to overwrite)", path)
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return configError(err)
	}
	fmt.Fprintln(c.App.Writer, "wrote", path)
	return nil
}

func runConfigGet(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError("config get needs a key")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return configError(err)
	}
	v, err := cfg.Get(c.Args().First())
	if err != nil {
		return usageError("%v", err)
	}
	fmt.Fprintln(c.App.Writer, v)
	return nil
}

// runConfigSet edits the file itself, so environment overrides are not
// written back.
func runConfigSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return usageError("config set needs a key and a value")
	}
	path, err := configPath(c)
	if err != nil {
		return configError(err)
	}

	if strings.HasSuffix(path, ".json") {
		return usageError("config set writes TOML; convert %s to config.toml first", path)
	}

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return configError(err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return configError(err)
	}

	if err := cfg.Set(c.Args().Get(0), c.Args().Get(1)); err != nil {
		return usageError("%v", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return configError(err)
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return configError(err)
	}
	return nil
}

func runConfigKeys(c *cli.Context) error {
	for _, k := range config.Keys() {
		fmt.Fprintln(c.App.Writer, k)
	}
	return nil
}
