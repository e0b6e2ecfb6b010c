// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport turns one request over the backend's streaming channel
// into token, completion and error callbacks.
//
// Each exchange dials a fresh connection, writes one ClientFrame and reads
// ServerFrames until the exchange settles:
//
//	Idle -> Connecting -> Open -> Streaming -> Completed | Errored | Aborted
//	Idle -> Connecting -> TimedOut
//
// and then Closed. Exactly one of OnComplete or OnError fires per exchange,
// or neither when the exchange is aborted. A broken channel is never retried
// within an exchange; the next exchange dials again.
package transport
