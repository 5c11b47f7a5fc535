// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the tongue command line.
//
// # Commands
//
//	tongue chat                      interactive conversation (default)
//	tongue ask <prompt...>           one prompt, reply streamed to stdout
//	tongue analyze <image> [--note]  one tongue image analysis
//	tongue relay [--listen addr]     run the relay bridge for sandboxed clients
//	tongue history [id]              list or show saved conversations
//	tongue status                    transport choice and backend health
//	tongue config show|path|init|get|set
//
// Global flags (--backend, --relay, --transport, --locale, --log-level)
// override the configuration file and TONGUE_* environment variables.
package cli
