package sync

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "icalsynchub/internal/log"
)

// watchDebounce coalesces the burst of events editors emit when saving.
const watchDebounce = 500 * time.Millisecond

// watchSources watches the sources file for changes and signals the resync
// channel. The parent directory is watched rather than the file itself
// because most editors replace files via rename, which drops a file-level
// watch.
func (c *Controller) watchSources(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	target := filepath.Clean(c.cfg.SourcesFile)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return err
	}
	appLog.Debug("watching sources file", "path", target)

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case <-timerCh:
			select {
			case c.resync <- struct{}{}:
			default:
				// A resync is already pending.
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerCh = timer.C
			} else {
				timer.Reset(watchDebounce)
			}

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			appLog.Error("sources watcher error", werr)
		}
	}
}
