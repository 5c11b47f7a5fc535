// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay implements the relay bridge: a websocket server that performs
// backend calls on behalf of clients without direct network access and
// re-emits each decoded event as a channel-tagged message.
//
// Endpoints:
//   - GET /relay  - websocket; accepts start and cancel messages
//   - GET /health - bridge and backend status
//
// One connection may carry several streams, each under its own channel.
// Closing the connection aborts every stream it started.
package relay
