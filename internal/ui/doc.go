// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui renders the conversation to a terminal.
//
// A View receives snapshots of the assistant turn as it streams and writes
// them to an output. With markdown enabled the reply is held back and shown
// rendered once the turn closes, while a single status line reports
// progress. Without it, fragments are written as they arrive.
//
// Colors adapt to the terminal background. NO_COLOR and non-terminal
// outputs get plain text.
package ui
