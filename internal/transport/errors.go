// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"errors"
)

// ErrorKind categorizes transport failures.
type ErrorKind int

const (
	KindDial ErrorKind = iota
	KindConnectTimeout
	KindAbnormalClose
	KindMalformedFrame
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindDial:
		return "dial"
	case KindConnectTimeout:
		return "connect_timeout"
	case KindAbnormalClose:
		return "abnormal_close"
	case KindMalformedFrame:
		return "malformed_frame"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is a failed exchange. It is passed to OnError and returned from
// StreamMessage.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrAborted is returned by StreamMessage when the exchange was cancelled or
// the server sent an abort frame. No callback fires for an aborted exchange.
var ErrAborted = errors.New("exchange aborted")

// MalformedFrameMessage is the generic text reported for an unparseable frame.
const MalformedFrameMessage = "failed to parse server message"

// IsKind reports whether err is a transport Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}
