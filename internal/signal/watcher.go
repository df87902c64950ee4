package signal

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/haven-health/keepsake/internal/observability/logging"
)

// LexiconWatcher reloads the lexicon provider whenever its override
// file changes on disk.
type LexiconWatcher struct {
	provider *LexiconProvider
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewLexiconWatcher creates a watcher for the provider's override
// file. A provider without a file path needs no watcher; nil is
// returned for that case.
func NewLexiconWatcher(provider *LexiconProvider) *LexiconWatcher {
	if provider.path == "" {
		return nil
	}
	return &LexiconWatcher{
		provider: provider,
		done:     make(chan struct{}),
	}
}

// Start begins watching. Editors typically replace files rather than
// write in place, so the watch is on the containing directory and
// events are filtered to the lexicon file itself. Call Stop to clean
// up.
func (lw *LexiconWatcher) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(lw.provider.path)); err != nil {
		_ = w.Close()
		return err
	}
	lw.watcher = w

	go lw.loop()
	logging.Infof("Watching %s for lexicon changes", lw.provider.path)
	return nil
}

// Stop shuts down the watcher.
func (lw *LexiconWatcher) Stop() {
	if lw.watcher != nil {
		_ = lw.watcher.Close()
	}
	<-lw.done
}

func (lw *LexiconWatcher) loop() {
	defer close(lw.done)
	target := filepath.Clean(lw.provider.path)
	for {
		select {
		case evt, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := lw.provider.Reload(); err != nil {
				logging.Warnf("Lexicon reload failed, keeping previous tables: %v", err)
			}
		case err, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
			logging.Warnf("Lexicon watcher error: %v", err)
		}
	}
}
