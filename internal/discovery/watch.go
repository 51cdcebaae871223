package discovery

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// ChangeHandler is invoked once per debounced filesystem change to an
// agent Markdown file.
type ChangeHandler func(absPath string)

// Watcher emits a debounced notification per file, batching rapid
// successive writes (e.g. an editor's save-then-flush) into one event
// per debounce window, last-writer-wins (spec §4.12).
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	debounce time.Duration
	pending  map[string]*time.Timer
	onChange ChangeHandler
	log      logr.Logger
	stopCh   chan struct{}
}

func NewWatcher(debounce time.Duration, onChange ChangeHandler, log logr.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:      fsw,
		debounce: debounce,
		pending:  make(map[string]*time.Timer),
		onChange: onChange,
		log:      log.WithName("discovery-watch"),
		stopCh:   make(chan struct{}),
	}, nil
}

// AddAgentsDir registers one project's agents directory for watching.
func (w *Watcher) AddAgentsDir(projectPath string) error {
	return w.fsw.Add(filepath.Join(projectPath, AgentsDirName))
}

// Start launches the event loop; non-blocking.
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error(err, "filesystem watch error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".md") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[event.Name]; ok {
		t.Stop()
	}
	path := event.Name
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.onChange(path)
	})
}

// Stop halts the watcher and cancels any pending debounced fires.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.mu.Unlock()
	_ = w.fsw.Close()
}
