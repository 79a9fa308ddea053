package delta

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dronedb/ddb-core/internal/index"
)

func TestDiffComputesAddsAndRemoves(t *testing.T) {
	source := &index.Stamp{
		Entries: []index.StampEntry{
			{Path: "a.md", Hash: "h1"},
			{Path: "b.md", Hash: "h2"},
		},
		Meta: []string{"m1", "m2"},
	}

	dest := &index.Stamp{
		Entries: []index.StampEntry{
			{Path: "a.md", Hash: "h1"},
			{Path: "c.md", Hash: "h3"},
		},
		Meta: []string{"m2", "m3"},
	}

	d := Diff(source, dest)

	require.Len(t, d.Adds, 1)
	require.Equal(t, "b.md", d.Adds[0].Path)

	require.Len(t, d.Removes, 1)
	require.Equal(t, "c.md", d.Removes[0].Path)

	require.Equal(t, []string{"m1"}, d.MetaAdds)
	require.Equal(t, []string{"m3"}, d.MetaRemoves)
}

func TestDiffRemovesSortedDescending(t *testing.T) {
	source := &index.Stamp{}
	dest := &index.Stamp{
		Entries: []index.StampEntry{
			{Path: "a/b.md", Hash: "h1"},
			{Path: "z.md", Hash: "h2"},
			{Path: "a.md", Hash: "h3"},
		},
	}

	d := Diff(source, dest)

	require.Equal(t, []string{"z.md", "a/b.md", "a.md"}, pathsOf(d.Removes))
}

func pathsOf(entries []index.StampEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}

	return out
}

func newDataset(t *testing.T) (*index.Database, string) {
	t.Helper()

	dir := t.TempDir()
	ctx := context.Background()

	_, err := index.Init(ctx, dir, nil)
	require.NoError(t, err)

	db, err := index.Open(ctx, dir, false, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db, dir
}

func TestApplyDeltaCopiesAddsConflictFree(t *testing.T) {
	ctx := context.Background()

	source, sourceDir := newDataset(t)
	dest, _ := newDataset(t)

	abs := filepath.Join(sourceDir, "a.md")
	require.NoError(t, os.WriteFile(abs, []byte("hello"), 0o644))
	require.NoError(t, source.Add(ctx, []string{abs}, index.AddOptions{}, nil))

	sourceStamp, err := source.ComputeStamp(ctx)
	require.NoError(t, err)

	destStamp, err := dest.ComputeStamp(ctx)
	require.NoError(t, err)

	d := Diff(sourceStamp, destStamp)
	require.Len(t, d.Adds, 1)

	conflicts, err := ApplyDelta(ctx, d, sourceDir, dest, DontMerge, nil)
	require.NoError(t, err)
	require.Empty(t, conflicts)

	entries, err := dest.List(ctx, []string{"a.md"}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello", readFile(t, dest.AbsPath("a.md")))
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(b)
}
