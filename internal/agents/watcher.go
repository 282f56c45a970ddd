package agents

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"orchestro/internal/logging"
)

// Watcher re-syncs the agents directory when its .md files change. Rapid
// saves are debounced into one sync.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	syncer   *Syncer
	debounce time.Duration
	pending  bool
	lastSeen time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewWatcher builds a watcher over the syncer's directory.
func NewWatcher(syncer *Syncer) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fw,
		syncer:   syncer,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching; non-blocking. A missing directory is tolerated,
// the watch is simply not established.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	log := logging.Get(logging.CategoryAgents)
	if err := w.watcher.Add(w.syncer.Dir()); err != nil {
		log.Warn("Agents watch failed (dir may not exist): %v", err)
	} else {
		log.Info("Watching agents directory: %s", w.syncer.Dir())
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	log := logging.Get(logging.CategoryAgents)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = true
			w.lastSeen = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error("Agents watcher error: %v", err)
		case <-ticker.C:
			w.mu.Lock()
			due := w.pending && time.Since(w.lastSeen) >= w.debounce
			if due {
				w.pending = false
			}
			w.mu.Unlock()
			if due {
				if n, err := w.syncer.Sync(); err != nil {
					log.Error("Agents re-sync failed: %v", err)
				} else {
					log.Info("Agents re-synced: %d files", n)
				}
			}
		}
	}
}
