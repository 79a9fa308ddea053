package profile

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/dronedb/ddb-core/internal/ddberr"
)

// Sweep implements the original tree's "system clean" behavior (spec.md's
// original_source/src/cmd/system.cpp), generalized into one call that frees
// a dataset's scratch directory and the shared user-profile caches: every
// entry under userDir's thumbs/<size>/ and tiles/, plus every entry under
// each path in datasetTmpDirs, whose own modification time is older than
// olderThan. It reuses the same per-entry age check internal/tiling.Cache's
// own sweep uses (spec.md §4.4.1's 5-day tile-cache policy), applied to a
// wider set of directories.
func Sweep(ctx context.Context, userDir string, datasetTmpDirs []string, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	var freed int64

	thumbsDir := filepath.Join(userDir, "thumbs")

	sizeDirs, err := os.ReadDir(thumbsDir)
	if err != nil && !os.IsNotExist(err) {
		return freed, ddberr.New(ddberr.KindFilesystem, "profile.Sweep", err)
	}

	for _, sizeDir := range sizeDirs {
		if !sizeDir.IsDir() {
			continue
		}

		n, err := sweepChildren(ctx, filepath.Join(thumbsDir, sizeDir.Name()), cutoff)
		freed += n

		if err != nil {
			return freed, err
		}
	}

	n, err := sweepChildren(ctx, filepath.Join(userDir, "tiles"), cutoff)
	freed += n

	if err != nil {
		return freed, err
	}

	for _, tmpDir := range datasetTmpDirs {
		n, err := sweepChildren(ctx, tmpDir, cutoff)
		freed += n

		if err != nil {
			return freed, err
		}
	}

	return freed, nil
}

// sweepChildren removes every direct child of dir (file or directory) whose
// own modification time precedes cutoff, returning the bytes freed.
func sweepChildren(ctx context.Context, dir string, cutoff time.Time) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, ddberr.New(ddberr.KindFilesystem, "profile.sweepChildren", err)
	}

	var freed int64

	for _, e := range entries {
		select {
		case <-ctx.Done():
			return freed, ctx.Err()
		default:
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(dir, e.Name())

		size := info.Size()
		if e.IsDir() {
			if s, err := dirSize(path); err == nil {
				size = s
			}
		}

		if err := os.RemoveAll(path); err != nil {
			continue
		}

		freed += size
	}

	return freed, nil
}

func dirSize(root string) (int64, error) {
	var total int64

	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			total += info.Size()
		}

		return nil
	})

	return total, err
}
