package audit

import (
	"context"
	"log/slog"
	"time"

	"sentra/internal/domain"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 2 * time.Second

// Watcher re-verifies the chain whenever something touches the log
// directory. The logger's own writes re-verify cleanly, so no event
// filtering is needed: only external modification breaks the chain.
type Watcher struct {
	log    *Logger
	logger *slog.Logger
	fsw    *fsnotify.Watcher

	wasValid bool
	done     chan struct{}
}

func NewWatcher(log *Logger, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(log.Dir()); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		log:      log,
		logger:   logger,
		fsw:      fsw,
		wasValid: true,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)

	// Debounce: rotation and flushes produce event bursts.
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.check()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("audit watcher error", "err", err)
		}
	}
}

func (w *Watcher) check() {
	res, err := w.log.VerifyIntegrity()
	if err != nil {
		w.logger.Error("audit integrity check failed", "err", err)
		return
	}
	if res.Valid {
		w.wasValid = true
		return
	}
	// Record the failure in the log once per transition. The new entry
	// extends the chain from the in-memory head, so the on-disk break stays
	// visible to later verification.
	if w.wasValid {
		w.wasValid = false
		w.log.Log(context.Background(), domain.AuditEntry{
			Category: domain.CategoryIntegrity,
			Severity: domain.AuditCritical,
			Message:  "audit chain verification failed: " + res.Reason,
			Action:   "integrity_failure",
			Allowed:  false,
			Reason:   res.Reason,
			Source:   "watcher",
			Context:  map[string]any{"brokenAt": res.BrokenAt, "entries": res.Entries},
		})
	}
}

func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
