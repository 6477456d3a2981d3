// Package credentials loads the upstream API token from a file and
// reloads it when the file changes.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrEmptyToken is returned for a token file with no content.
var ErrEmptyToken = errors.New("credentials: token file is empty")

const debounce = 200 * time.Millisecond

// ReadToken returns the trimmed content of path.
func ReadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("credentials: read token: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrEmptyToken
	}
	return tok, nil
}

// Watch calls onChange with the new token each time the file at path
// is written or replaced with different, non-empty content. It watches
// the parent directory so that editors and secret managers that swap
// the file atomically are seen. It returns when ctx is cancelled.
func Watch(ctx context.Context, path string, current string, logger *slog.Logger, onChange func(token string)) error {
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("credentials: watch %s: %w", filepath.Dir(path), err)
	}
	logger.Info("credentials: watching token file", slog.String("path", path))

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case <-timerCh:
			tok, err := ReadToken(path)
			if err != nil {
				logger.Warn("credentials: reload failed", slog.String("error", err.Error()))
				continue
			}
			if tok == current {
				continue
			}
			current = tok
			logger.Info("credentials: token reloaded")
			onChange(tok)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("credentials: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
