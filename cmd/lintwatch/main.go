// Command lintwatch is a reference CLI demonstrating the Document Linter
// Orchestrator end to end: it watches a directory for JavaScript file
// changes, drives one DocumentLinter per file against a shared worker pool,
// and prints diagnostics to stdout as they're published.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/SnapdragonPartners/lintorch/internal/jslint"
	"github.com/SnapdragonPartners/lintorch/pkg/config"
	"github.com/SnapdragonPartners/lintorch/pkg/engine"
	"github.com/SnapdragonPartners/lintorch/pkg/linter"
	"github.com/SnapdragonPartners/lintorch/pkg/logx"
	"github.com/SnapdragonPartners/lintorch/pkg/procmanager"
)

func main() {
	var (
		dir        = flag.String("dir", ".", "directory to watch")
		configPath = flag.String("config", "", "path to a lintwatch config.yaml")
	)
	flag.Parse()

	if _, err := maxprocs.Set(maxprocs.Logger(log.Printf)); err != nil {
		log.Printf("lintwatch: automaxprocs: %v", err)
	}

	if *configPath != "" {
		if err := config.Load(*configPath); err != nil {
			log.Fatalf("lintwatch: loading config: %v", err)
		}
	}
	cfg := config.GetConfig()
	if cfg.Debug {
		logx.SetDebug(true)
	}

	logger := logx.NewLogger("lintwatch")

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/debug", serveRecentLogs)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error("metrics server exited: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newWatcher(*dir, cfg, logger)
	defer w.close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := w.run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("lintwatch: %v", err)
	}
	w.disposeAll(context.Background())
}

// watcher owns one DocumentLinter per watched file, all sharing a single
// procmanager-provisioned worker pool.
type watcher struct {
	root   string
	glob   string
	logger *logx.Logger
	pm     *procmanager.Manager
	fsw    *fsnotify.Watcher

	mu      sync.Mutex
	linters map[string]*fileLinter
}

type fileLinter struct {
	doc *fileDocument
	l   *linter.DocumentLinter
}

func newWatcher(root string, cfg config.Config, logger *logx.Logger) *watcher {
	factory := func(context.Context) (engine.Engine, error) {
		return jslint.New(), nil
	}
	return &watcher{
		root:    root,
		glob:    cfg.WatchGlob,
		logger:  logger,
		pm:      procmanager.New(factory),
		linters: make(map[string]*fileLinter),
	}
}

func (w *watcher) run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("lintwatch: creating watcher: %w", err)
	}
	w.fsw = fsw

	var toOpen []string
	if err := filepath.Walk(w.root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return fsw.Add(path)
		}
		if matchesGlob(w.glob, path) {
			toOpen = append(toOpen, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("lintwatch: walking %s: %w", w.root, err)
	}

	// Opening each matched file drives its own independent linter, so the
	// initial batch fans out rather than opening one at a time.
	var g errgroup.Group
	for _, path := range toOpen {
		path := path
		g.Go(func() error {
			w.open(ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error: %v", err)
		}
	}
}

func (w *watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if !matchesGlob(w.glob, ev.Name) {
		return
	}
	switch {
	case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
		w.mu.Lock()
		_, exists := w.linters[ev.Name]
		w.mu.Unlock()
		if exists {
			w.reload(ctx, ev.Name)
		} else {
			w.open(ctx, ev.Name)
		}
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.forget(ctx, ev.Name)
	}
}

func (w *watcher) open(ctx context.Context, path string) {
	text, err := os.ReadFile(path)
	if err != nil {
		w.logger.Error("reading %s: %v", path, err)
		return
	}

	doc := newFileDocument(path, string(text), w.logger)
	l := linter.New(doc, w.pm, linter.WithMaxRecoveryAttempts(config.GetConfig().MaxRecoveryAttempts))

	w.mu.Lock()
	w.linters[path] = &fileLinter{doc: doc, l: l}
	w.mu.Unlock()

	if err := l.EditorChangedVisibilityAsync(ctx); err != nil {
		w.logger.Error("opening %s: %v", path, err)
	}
}

func (w *watcher) reload(ctx context.Context, path string) {
	w.mu.Lock()
	fl, ok := w.linters[path]
	w.mu.Unlock()
	if !ok {
		w.open(ctx, path)
		return
	}

	text, err := os.ReadFile(path)
	if err != nil {
		w.logger.Error("reading %s: %v", path, err)
		return
	}

	// fsnotify reports no diff, only "the file changed": replace the
	// whole document text in one change, matching textChangedAsync's
	// change-list contract (spec §4.1).
	oldLen := fl.doc.lineSplitLen()
	change := engine.TextChange{
		Start: engine.Position{Line: 0, Character: 0},
		End:   oldLen,
		Text:  string(text),
	}
	fl.doc.setText(string(text))

	if err := fl.l.TextChangedAsync(ctx, []engine.TextChange{change}); err != nil {
		w.logger.Error("relinting %s: %v", path, err)
	}
}

func (w *watcher) forget(ctx context.Context, path string) {
	w.mu.Lock()
	fl, ok := w.linters[path]
	delete(w.linters, path)
	w.mu.Unlock()
	if !ok {
		return
	}
	if err := fl.l.DisposeAsync(ctx); err != nil {
		w.logger.Error("disposing %s: %v", path, err)
	}
}

func (w *watcher) disposeAll(ctx context.Context) {
	w.mu.Lock()
	fls := make([]*fileLinter, 0, len(w.linters))
	for _, fl := range w.linters {
		fls = append(fls, fl)
	}
	w.linters = nil
	w.mu.Unlock()

	for _, fl := range fls {
		_ = fl.l.DisposeAsync(ctx)
	}
}

func (w *watcher) close() {
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
}

// serveRecentLogs exposes logx's in-memory ring buffer as JSON, giving an
// operator a cheap way to inspect recent activity without a log aggregator.
func serveRecentLogs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(logx.RecentEntries()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// matchesGlob supports only the two glob shapes lintwatch's config exposes,
// "*.ext" and "**/*.ext", and treats them alike: either one matches any path
// ending in ".ext", at any depth under the watched directory. A pattern with
// no leading "*" matches a file by its base name alone. Anything more
// elaborate should reach for a real glob library; this is a demo CLI.
func matchesGlob(glob, path string) bool {
	pattern := glob
	pattern = strings.TrimPrefix(pattern, "**/")
	if !strings.HasPrefix(pattern, "*") {
		return filepath.Base(path) == pattern
	}
	suffix := strings.TrimPrefix(pattern, "*")
	return strings.HasSuffix(path, suffix)
}
