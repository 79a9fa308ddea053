package ddb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dronedb/ddb-core/internal/index"
)

func TestOpenWiresBuildAndTiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	userDir := t.TempDir()

	_, err := Init(ctx, dir, nil)
	require.NoError(t, err)

	db, err := Open(ctx, dir, false, userDir, Collaborators{}, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NotNil(t, db.Tiles())
}

func TestBuildDispatchesOverIndexedEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	userDir := t.TempDir()

	_, err := Init(ctx, dir, nil)
	require.NoError(t, err)

	db, err := Open(ctx, dir, false, userDir, Collaborators{}, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Database.Add(ctx, []string{dir}, index.AddOptions{}, nil))

	// No image/raster collaborators configured: building an empty dataset
	// (directory-only entries) must be a no-op, not an error.
	require.NoError(t, db.Build(ctx, nil, false))
}

func TestTagRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	userDir := t.TempDir()

	_, err := Init(ctx, dir, nil)
	require.NoError(t, err)

	db, err := Open(ctx, dir, false, userDir, Collaborators{}, nil)
	require.NoError(t, err)
	defer db.Close()

	_, _, _, ok, err := db.Tag()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.SetTag("https://hub.dronedb.app", "acme", "survey"))

	registryURL, org, dataset, ok, err := db.Tag()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "https://hub.dronedb.app", registryURL)
	require.Equal(t, "acme", org)
	require.Equal(t, "survey", dataset)
}

func TestPushWithoutTagFails(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	userDir := t.TempDir()

	_, err := Init(ctx, dir, nil)
	require.NoError(t, err)

	db, err := Open(ctx, dir, false, userDir, Collaborators{}, nil)
	require.NoError(t, err)
	defer db.Close()

	err = db.Push(ctx, nil, nil)
	require.Error(t, err)
	require.Equal(t, KindInvalidArgs, KindOf(err))
}

func TestSweepClearsStaleCacheEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	userDir := t.TempDir()

	_, err := Init(ctx, dir, nil)
	require.NoError(t, err)

	db, err := Open(ctx, dir, false, userDir, Collaborators{}, nil)
	require.NoError(t, err)
	defer db.Close()

	stale := filepath.Join(userDir, "thumbs", "512", "stale.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	old := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	freed, err := db.Sweep(ctx)
	require.NoError(t, err)
	require.Greater(t, freed, int64(0))
	require.NoFileExists(t, stale)
}

func TestInitProcessRunsOnce(t *testing.T) {
	var calls int

	for range 3 {
		InitProcess(func() { calls++ })
	}

	require.Equal(t, 1, calls)
}
