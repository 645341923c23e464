package persona

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const catalogDebounce = 200 * time.Millisecond

// CatalogWatcher merges personalities that an external workflow writes into the catalog file.
type CatalogWatcher struct {
	catalog  *FileCatalog
	registry *Registry
	logger   *zap.Logger
	watcher  *fsnotify.Watcher

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCatalogWatcher watches the directory holding catalog, so atomic renames are seen too.
func NewCatalogWatcher(catalog *FileCatalog, registry *Registry, logger *zap.Logger) (*CatalogWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create catalog watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(catalog.Path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(catalog.Path), err)
	}
	return &CatalogWatcher{
		catalog:  catalog,
		registry: registry,
		logger:   logger.Named("catalog"),
		watcher:  watcher,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start runs the event loop until ctx ends or Stop is called.
func (w *CatalogWatcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop ends the event loop and releases the watcher.
func (w *CatalogWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		_ = w.watcher.Close()
	})
}

func (w *CatalogWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	target := filepath.Clean(w.catalog.Path)
	// 合并编辑器或脚本的连续写入
	timer := time.NewTimer(catalogDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

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
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(catalogDebounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watch error", zap.Error(err))
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *CatalogWatcher) reload() {
	_, items, err := w.catalog.Load()
	if err != nil {
		w.logger.Warn("catalog reload failed", zap.String("path", w.catalog.Path), zap.Error(err))
		return
	}
	if added := w.registry.Merge(items); len(added) > 0 {
		w.logger.Info("catalog reloaded", zap.Strings("added", added))
	}
}
