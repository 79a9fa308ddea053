package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dronedb/ddb-core/internal/entry"
)

func newTestDatabase(t *testing.T) (*Database, string) {
	t.Helper()

	dir := t.TempDir()
	ctx := context.Background()

	_, err := Init(ctx, dir, nil)
	require.NoError(t, err)

	db, err := Open(ctx, dir, false, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db, dir
}

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()

	abs := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))

	return abs
}

func TestInitAndOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ddbPath, err := Init(ctx, dir, nil)
	require.NoError(t, err)
	require.DirExists(t, ddbPath)

	_, err = Init(ctx, dir, nil)
	require.Error(t, err)

	db, err := Open(ctx, dir, false, nil)
	require.NoError(t, err)
	defer db.Close()
}

func TestOpenWithoutInitFails(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(context.Background(), dir, false, nil)
	require.Error(t, err)
}

func TestAddIndexesFileAndParents(t *testing.T) {
	db, dir := newTestDatabase(t)
	ctx := context.Background()

	abs := writeFile(t, dir, "sub/a.md", "# hello")

	var seen []string

	err := db.Add(ctx, []string{abs}, AddOptions{}, func(e entry.Entry, updated bool) {
		seen = append(seen, e.Path)
	})
	require.NoError(t, err)
	require.Contains(t, seen, "sub/a.md")

	entries, err := db.List(ctx, []string{"*"}, 0)
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}

	require.Contains(t, paths, "sub/a.md")
	require.Contains(t, paths, "sub")
}

func TestRemoveDeletesMatchingEntries(t *testing.T) {
	db, dir := newTestDatabase(t)
	ctx := context.Background()

	abs := writeFile(t, dir, "a.md", "hello")
	require.NoError(t, db.Add(ctx, []string{abs}, AddOptions{}, nil))

	removed, err := db.Remove(ctx, []string{"a.md"})
	require.NoError(t, err)
	require.Equal(t, []string{"a.md"}, removed)

	entries, err := db.List(ctx, []string{"a.md"}, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRemoveDeletesBuildArtifactDirectory(t *testing.T) {
	db, dir := newTestDatabase(t)
	ctx := context.Background()

	abs := writeFile(t, dir, "a.md", "hello")
	require.NoError(t, db.Add(ctx, []string{abs}, AddOptions{}, nil))

	e, found, err := db.Entry(ctx, "a.md")
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, e.Hash)

	artifactDir := filepath.Join(db.DdbPath(), "build", e.Hash)
	require.NoError(t, os.MkdirAll(artifactDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifactDir, "thumb.jpg"), []byte("x"), 0o644))

	_, err = db.Remove(ctx, []string{"a.md"})
	require.NoError(t, err)

	require.NoDirExists(t, artifactDir)
}

func TestMoveFile(t *testing.T) {
	db, dir := newTestDatabase(t)
	ctx := context.Background()

	abs := writeFile(t, dir, "a.md", "hello")
	require.NoError(t, db.Add(ctx, []string{abs}, AddOptions{}, nil))

	require.NoError(t, db.Move(ctx, "a.md", "b.md"))

	entries, err := db.List(ctx, []string{"b.md"}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.FileExists(t, filepath.Join(dir, "b.md"))
	require.NoFileExists(t, filepath.Join(dir, "a.md"))
}

func TestSyncDetectsModificationAndDeletion(t *testing.T) {
	db, dir := newTestDatabase(t)
	ctx := context.Background()

	abs := writeFile(t, dir, "a.md", "hello")
	require.NoError(t, db.Add(ctx, []string{abs}, AddOptions{}, nil))

	newMtime := time.Now().Add(time.Hour)
	require.NoError(t, os.WriteFile(abs, []byte("changed content"), 0o644))
	require.NoError(t, os.Chtimes(abs, newMtime, newMtime))

	var kinds []ChangeKind
	require.NoError(t, db.Sync(ctx, func(kind ChangeKind, path string) {
		kinds = append(kinds, kind)
	}))
	require.Contains(t, kinds, Modified)
}

func TestStatusReportsNotIndexed(t *testing.T) {
	db, dir := newTestDatabase(t)
	ctx := context.Background()

	writeFile(t, dir, "untracked.md", "hello")

	var kinds []ChangeKind
	require.NoError(t, db.Status(ctx, func(kind ChangeKind, path string) {
		kinds = append(kinds, kind)
	}))
	require.Contains(t, kinds, NotIndexed)
}

func TestComputeStampIsDeterministic(t *testing.T) {
	db, dir := newTestDatabase(t)
	ctx := context.Background()

	abs := writeFile(t, dir, "a.md", "hello")
	require.NoError(t, db.Add(ctx, []string{abs}, AddOptions{}, nil))

	s1, err := db.ComputeStamp(ctx)
	require.NoError(t, err)

	s2, err := db.ComputeStamp(ctx)
	require.NoError(t, err)

	require.Equal(t, s1.Checksum, s2.Checksum)
	require.NotEmpty(t, s1.Checksum)
}
