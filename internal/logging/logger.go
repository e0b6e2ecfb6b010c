// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// New returns a logger that formats "name | key=value" lines into q.
// verbosity 0 is info only, 1 adds debug, 2 adds frame-level trace.
func New(q *Queue, verbosity int) logr.Logger {
	if q == nil {
		q = Default()
	}
	return funcr.New(func(prefix, args string) {
		if prefix == "" {
			q.Push(args)
			return
		}
		q.Push(prefix + " | " + args)
	}, funcr.Options{
		LogCaller:    funcr.None,
		LogTimestamp: true,
		Verbosity:    verbosity,
	})
}

// OpenFile opens path for appending log lines. An empty path returns stderr.
func OpenFile(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stderr}, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
