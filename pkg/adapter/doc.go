// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package adapter connects a chat bot to Slack over Socket Mode.
//
// Inbound deliveries arrive on a single websocket. Each one is acknowledged,
// checked against the set of deliveries already seen, and classified into a
// [Message] variant before it is handed to a [Receiver] on its own goroutine.
// Outbound text goes through the Web API.
//
// # Core Types
//
// [Adapter] owns the lifecycle: it verifies the bot identity, runs the socket
// event loop, keeps the user brain in sync and exposes send, reply and topic
// operations.
//
// [Classifier] turns a raw event into a [TextMessage], [ReactionMessage],
// [FileSharedMessage], [EnterMessage], [LeaveMessage] or [TopicMessage], or
// drops it.
//
// [Cache] resolves user and conversation ids to display entities with a
// freshness window, serving stale values when a refresh fails.
//
// [Deduplicator] suppresses Slack redeliveries of events whose handler is
// still running or finished recently.
//
// [ConnectionManager] tracks socket state and decides whether a closed socket
// may reconnect.
//
// # Echo Prevention
//
// Events sent by the bot's own user id or bot id are dropped before they
// reach any listener, for every message variant.
//
// # Sub-packages
//
//   - slackfmt rewrites Slack markup to plain text and extracts mentions.
//   - socketmode maintains the Socket Mode websocket with reconnect backoff.
package adapter
