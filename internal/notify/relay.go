package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haven-health/keepsake/internal/observability/logging"
)

// EventWriter persists events as files under {dataDir}/events/ so a
// process without hub access (the lifecycle CLI, a cron-driven scoring
// run) can still reach clients connected to the serving process.
type EventWriter struct {
	eventsDir string
}

// NewEventWriter creates a writer targeting {dataDir}/events/.
func NewEventWriter(dataDir string) *EventWriter {
	return &EventWriter{eventsDir: filepath.Join(dataDir, "events")}
}

// Write drops the event into the relay directory. Each event gets its
// own file; the relay consumes and removes them.
func (w *EventWriter) Write(evt Event) error {
	if err := os.MkdirAll(w.eventsDir, 0o700); err != nil {
		return fmt.Errorf("creating events directory: %w", err)
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", evt.Kind, err)
	}

	name := fmt.Sprintf("%d-%s.event", time.Now().UnixNano(), sanitizeKind(evt.Kind))
	if err := os.WriteFile(filepath.Join(w.eventsDir, name), data, 0o600); err != nil {
		return fmt.Errorf("writing event file: %w", err)
	}
	return nil
}

// Broadcast satisfies the engine's broadcaster contract over Write.
// Failures are logged, not returned; a lost event never fails a
// capture or a scoring run.
func (w *EventWriter) Broadcast(evt Event) {
	if err := w.Write(evt); err != nil {
		logging.Warnf("Dropping %s event: %v", evt.Kind, err)
	}
}

// sanitizeKind keeps event-kind characters that are safe in a filename.
func sanitizeKind(kind string) string {
	var b strings.Builder
	for _, r := range kind {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '.':
			b.WriteByte('-')
		}
	}
	return b.String()
}

// EventRelay watches {dataDir}/events/ and rebroadcasts each file it
// finds onto the hub, bridging batch processes to connected clients.
type EventRelay struct {
	dir     string
	hub     *Hub
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewEventRelay creates a relay feeding the given hub.
func NewEventRelay(dataDir string, hub *Hub) *EventRelay {
	return &EventRelay{
		dir:  filepath.Join(dataDir, "events"),
		hub:  hub,
		done: make(chan struct{}),
	}
}

// Start drains any event files already present, then watches for new
// ones. Call Stop to clean up.
func (r *EventRelay) Start() error {
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return fmt.Errorf("creating events directory: %w", err)
	}

	r.drainExisting()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating relay watcher: %w", err)
	}
	if err := w.Add(r.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching events directory: %w", err)
	}
	r.watcher = w

	go r.loop()
	logging.Infof("Relaying events from %s", r.dir)
	return nil
}

// Stop shuts down the relay.
func (r *EventRelay) Stop() {
	if r.watcher == nil {
		return
	}
	_ = r.watcher.Close()
	<-r.done
}

func (r *EventRelay) loop() {
	defer close(r.done)
	for {
		select {
		case evt, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&fsnotify.Create != 0 && strings.HasSuffix(evt.Name, ".event") {
				r.consumeFile(evt.Name)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logging.Warnf("Event relay watcher error: %v", err)
		}
	}
}

func (r *EventRelay) drainExisting() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".event") {
			r.consumeFile(filepath.Join(r.dir, entry.Name()))
		}
	}
}

func (r *EventRelay) consumeFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file already consumed by another process
	}
	_ = os.Remove(path)

	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		logging.Warnf("Discarding invalid event file %s: %v", filepath.Base(path), err)
		return
	}

	if evt.Kind != "" {
		r.hub.Broadcast(evt)
	}
}
