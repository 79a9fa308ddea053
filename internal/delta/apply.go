package delta

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/hashutil"
	"github.com/dronedb/ddb-core/internal/index"
	"github.com/dronedb/ddb-core/internal/meta"
	"github.com/dronedb/ddb-core/internal/pathutil"
)

// ApplyDelta implements spec.md §4.3.2: apply d against dest, resolving
// conflicts per strategy, reusing already-downloaded content staged under
// sourceDir, and restoring metaAdds from sourceMetaDump. The returned
// conflicts, when non-empty, mean dest was left unchanged for those paths —
// the caller is expected to retry with a different strategy.
func ApplyDelta(ctx context.Context, d *Delta, sourceDir string, dest *index.Database, strategy Strategy, sourceMetaDump []meta.Item) ([]Conflict, error) {
	var conflicts []Conflict

	modified, err := applyRemoves(ctx, d, dest, strategy, &conflicts)
	if err != nil {
		return nil, err
	}

	added, err := applyAdds(ctx, d, sourceDir, dest, strategy, &conflicts)
	if err != nil {
		return nil, err
	}

	if len(conflicts) == 0 {
		modified = append(modified, added...)

		for _, path := range modified {
			e, found, err := dest.Entry(ctx, path)
			if err != nil {
				return nil, err
			}

			if !found {
				continue
			}

			if err := pathutil.SetModTime(dest.AbsPath(path), time.Unix(e.Mtime, 0)); err != nil {
				return nil, ddberr.New(ddberr.KindFilesystem, "delta.ApplyDelta", err)
			}
		}

		if err := dest.Meta.Restore(ctx, restoreSet(sourceMetaDump, d.MetaAdds)); err != nil {
			return nil, ddberr.New(ddberr.KindDatabase, "delta.ApplyDelta", err)
		}

		if err := dest.Meta.BulkRemove(ctx, d.MetaRemoves); err != nil {
			return nil, ddberr.New(ddberr.KindDatabase, "delta.ApplyDelta", err)
		}
	}

	return conflicts, nil
}

// applyRemoves implements spec.md §4.3.2 step 1. It returns the paths that
// were actually deleted; removes the strategy left in place (kept, or
// reported as conflicts) are not included.
func applyRemoves(ctx context.Context, d *Delta, dest *index.Database, strategy Strategy, conflicts *[]Conflict) ([]string, error) {
	var deleted []string

	for _, rm := range d.Removes {
		current, found, err := dest.Entry(ctx, rm.Path)
		if err != nil {
			return nil, err
		}

		if found && current.Hash != rm.Hash {
			switch strategy {
			case DontMerge:
				*conflicts = append(*conflicts, Conflict{Path: rm.Path, Kind: RemoteDeleteLocalModified})

				continue
			case KeepOurs:
				continue
			case KeepTheirs:
				// fall through to delete below
			}
		}

		if _, err := dest.Remove(ctx, []string{rm.Path}); err != nil {
			return nil, err
		}

		if err := os.RemoveAll(dest.AbsPath(rm.Path)); err != nil && !os.IsNotExist(err) {
			return nil, ddberr.New(ddberr.KindFilesystem, "delta.applyRemoves", err)
		}

		deleted = append(deleted, rm.Path)
	}

	return deleted, nil
}

// applyAdds implements spec.md §4.3.2 step 2, reusing local content when an
// existing destination entry already carries the add's target hash
// (spec.md §4.3.3).
func applyAdds(ctx context.Context, d *Delta, sourceDir string, dest *index.Database, strategy Strategy, conflicts *[]Conflict) ([]string, error) {
	reuse, err := localContentReuse(ctx, dest, d.Adds)
	if err != nil {
		return nil, err
	}

	var applied []string

	for _, add := range d.Adds {
		current, found, err := dest.Entry(ctx, add.Path)
		if err != nil {
			return nil, err
		}

		if found && current.Hash != "" && current.Hash != add.Hash {
			switch strategy {
			case DontMerge:
				*conflicts = append(*conflicts, Conflict{Path: add.Path, Kind: BothModified})

				continue
			case KeepOurs:
				continue
			case KeepTheirs:
				// fall through to overwrite below
			}
		}

		destAbs := dest.AbsPath(add.Path)

		if add.Hash == "" {
			if err := os.MkdirAll(destAbs, 0o755); err != nil {
				return nil, ddberr.New(ddberr.KindFilesystem, "delta.applyAdds", err)
			}
		} else if reusePath, ok := reuse[add.Hash]; ok {
			if err := pathutil.SafeHardlink(reusePath, destAbs); err != nil {
				return nil, ddberr.New(ddberr.KindFilesystem, "delta.applyAdds", err)
			}
		} else {
			srcAbs := sourceAbsPath(sourceDir, add.Path)
			if err := pathutil.SafeCopy(srcAbs, destAbs); err != nil {
				return nil, ddberr.New(ddberr.KindFilesystem, "delta.applyAdds", err)
			}
		}

		if err := dest.Add(ctx, []string{destAbs}, index.AddOptions{}, nil); err != nil {
			return nil, err
		}

		applied = append(applied, add.Path)
	}

	return applied, nil
}

// localContentReuse implements spec.md §4.3.3: scan dest for any entry
// whose hash matches one of adds' hashes, verifying it on disk (by re-hash),
// and returns a hash → absolute-path map of reusable content.
func localContentReuse(ctx context.Context, dest *index.Database, adds []index.StampEntry) (map[string]string, error) {
	wanted := make(map[string]bool, len(adds))
	for _, a := range adds {
		if a.Hash != "" {
			wanted[a.Hash] = true
		}
	}

	if len(wanted) == 0 {
		return nil, nil
	}

	entries, err := dest.List(ctx, []string{"*"}, 0)
	if err != nil {
		return nil, err
	}

	reuse := map[string]string{}

	for _, e := range entries {
		if !wanted[e.Hash] || reuse[e.Hash] != "" {
			continue
		}

		abs := dest.AbsPath(e.Path)

		hash, err := hashutil.FileSHA256(abs)
		if err != nil || hash != e.Hash {
			continue
		}

		reuse[e.Hash] = abs
	}

	return reuse, nil
}

func restoreSet(dump []meta.Item, ids []string) []meta.Item {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var out []meta.Item

	for _, item := range dump {
		if wanted[item.ID] {
			out = append(out, item)
		}
	}

	return out
}

func sourceAbsPath(sourceDir, relPath string) string {
	return filepath.Join(sourceDir, filepath.FromSlash(relPath))
}
