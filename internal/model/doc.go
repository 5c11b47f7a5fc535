// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the conversation log and its entries.
//
// A Log is an ordered, append-only sequence of turns. Streaming events are
// applied to an assistant turn by its ID; text grows by concatenation only.
//
// # Usage
//
//	log := model.NewLog()
//	_, reply := log.AppendExchange("hello", nil)
//	log.ApplyContent(reply, "Hi")
//	log.ApplyContent(reply, " there")
//	log.ApplyDone(reply)
package model
