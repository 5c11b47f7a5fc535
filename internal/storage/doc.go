// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists client state in a local SQLite database: small
// key/value settings such as the user identifier, and conversation
// transcripts.
//
// The default database lives at ~/.tongue/tongue.db.
package storage
