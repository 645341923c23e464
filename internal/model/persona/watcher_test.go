package persona

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCatalogWatcherMergesExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personalities.yaml")
	catalog := NewFileCatalog(path)
	r, err := OpenRegistry(catalog, Seed(), DefaultName)
	require.NoError(t, err)

	w, err := NewCatalogWatcher(catalog, r, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	// 外部流程直接改写目录文件
	edited := append(Seed(), Personality{Name: "Night Owl", SystemPrompt: "You answer after midnight."})
	require.NoError(t, NewFileCatalog(path).Save(DefaultName, edited))

	require.Eventually(t, func() bool {
		_, ok := r.Lookup("Night Owl")
		return ok
	}, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, "Night Owl", r.Names()[len(r.Names())-1])
}

func TestCatalogWatcherIgnoresBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personalities.yaml")
	catalog := NewFileCatalog(path)
	r, err := OpenRegistry(catalog, Seed(), DefaultName)
	require.NoError(t, err)
	before := r.Names()

	w, err := NewCatalogWatcher(catalog, r, nil)
	require.NoError(t, err)
	w.Start(context.Background())

	require.NoError(t, os.WriteFile(path, []byte("personalities: [\n"), 0o644))
	w.reload()
	require.Equal(t, before, r.Names())

	w.Stop()
	w.Stop()
}
