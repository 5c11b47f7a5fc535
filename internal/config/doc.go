// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and saves the client configuration.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (TONGUE_*)
//   - ~/.tongue/config.toml
//   - ~/.tongue/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	url := cfg.Backend.BaseURL
//
// Values can also be read and written by key, as `tongue config get` does:
//
//	v, err := cfg.Get("transport.mode")
//	err = cfg.Set("ui.locale", "en")
package config
