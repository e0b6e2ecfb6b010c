// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the log file must stay quiet before it is read.
const DefaultDebounce = 150 * time.Millisecond

// errWatcherClosed is returned when fsnotify closes its channels.
var errWatcherClosed = errors.New("file watcher closed")

// FileSource watches a conversation log file. Each settled change yields the
// whole file. The conversation ID is not used: the file is the conversation.
type FileSource struct {
	Path     string
	Debounce time.Duration
}

// Open starts watching the file's directory, so replacing the file by
// rename is seen too. The first Next returns the current content.
func (s *FileSource) Open(ctx context.Context, conversationID string) (Stream, error) {
	path, err := filepath.Abs(s.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid log path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	debounce := s.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &fileStream{path: path, debounce: debounce, w: w}, nil
}

type fileStream struct {
	path     string
	debounce time.Duration
	w        *fsnotify.Watcher
	primed   bool
}

func (s *fileStream) Next(ctx context.Context) (Update, error) {
	if !s.primed {
		s.primed = true
		u, err := s.read()
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return Update{}, err
		}
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return Update{}, ctx.Err()

		case ev, ok := <-s.w.Events:
			if !ok {
				return Update{}, errWatcherClosed
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C

		case err, ok := <-s.w.Errors:
			if !ok {
				return Update{}, errWatcherClosed
			}
			return Update{}, fmt.Errorf("file watcher: %w", err)

		case <-fire:
			fire = nil
			u, err := s.read()
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return u, err
		}
	}
}

func (s *fileStream) read() (Update, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Update{}, err
	}
	return Update{Content: string(data)}, nil
}

func (s *fileStream) Close() error {
	return s.w.Close()
}
