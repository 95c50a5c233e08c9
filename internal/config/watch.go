// internal/config/watch.go
package config

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// UntilModified returns a context that is cancelled once any of the files is
// written, created, removed or renamed. context.Cause reports which one.
//
// On error both returned values are nil.
func UntilModified(ctx context.Context, paths ...string) (context.Context, context.CancelFunc, error) {
	cctx, cancel := context.WithCancelCause(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		cancel(err)
		return nil, nil, fmt.Errorf("failed to start config watcher: %w", err)
	}

	for _, path := range paths {
		if err := w.Add(path); err != nil {
			w.Close()
			cancel(err)
			return nil, nil, fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	go func() {
		defer w.Close()

		for {
			select {
			case <-cctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				cancel(fmt.Errorf("%s is updated (%s)", event.Name, event.Op))
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cancel(fmt.Errorf("config watcher failed: %w", err))
				return
			}
		}
	}()

	return cctx, func() { cancel(nil) }, nil
}
