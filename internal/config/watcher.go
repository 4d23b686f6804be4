package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/acolita/fake-ssh/internal/command"
)

// settleDelay groups the burst of events an editor save produces into one
// reload.
const settleDelay = 100 * time.Millisecond

// RuleSink receives the command rules of every accepted reload.
type RuleSink interface {
	SetRules(rules []command.Rule) error
}

// Watcher follows a config file and pushes changed command rules into a
// RuleSink. Other sections are only read at startup; edits to them are
// logged and otherwise ignored.
type Watcher struct {
	path string
	sink RuleSink

	mu      sync.RWMutex
	current *Config

	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewWatcher loads path and starts following it. The file must hold a
// valid config; its rules are not pushed, the caller built sink from them.
func NewWatcher(path string, sink RuleSink) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors replace files, so watch the directory.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:    path,
		sink:    sink,
		current: cfg,
		fsw:     fsw,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// Config returns the last accepted configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops following the file and waits for the watch loop to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsw.Close()
	<-w.stopped
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.stopped)

	name := filepath.Base(w.path)
	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && ev.Has(fsnotify.Write|fsnotify.Create) {
				settle.Reset(settleDelay)
			}

		case <-settle.C:
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		slog.Error("config not reloaded, keeping previous rules",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}

	prev := w.Config()
	for _, section := range restartOnly(prev, next) {
		slog.Warn("config change needs a restart", slog.String("section", section))
	}

	if slices.Equal(prev.Commands.Rules, next.Commands.Rules) {
		w.store(next)
		return
	}
	if w.sink != nil {
		if err := w.sink.SetRules(next.CommandRules()); err != nil {
			slog.Error("command rules not reloaded", slog.String("error", err.Error()))
			return
		}
	}
	w.store(next)
	slog.Info("command rules reloaded", slog.Int("rules", len(next.Commands.Rules)))
}

func (w *Watcher) store(cfg *Config) {
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
}

// restartOnly lists the sections that differ between a and b but are only
// applied at startup.
func restartOnly(a, b *Config) []string {
	var changed []string
	if a.Server != b.Server {
		changed = append(changed, "server")
	}
	if a.Logging != b.Logging {
		changed = append(changed, "logging")
	}
	if a.Metrics != b.Metrics {
		changed = append(changed, "metrics")
	}
	if a.Commands.Default != b.Commands.Default {
		changed = append(changed, "commands.default")
	}
	if !reflect.DeepEqual(a.Filesystem.Seed, b.Filesystem.Seed) {
		changed = append(changed, "filesystem")
	}
	return changed
}
