package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/delta"
	"github.com/dronedb/ddb-core/internal/hashutil"
	"github.com/dronedb/ddb-core/internal/index"
)

// PullResult reports what Pull did, per spec.md §4.6.3.
type PullResult struct {
	// UpToDate is true when step 4's delta came back empty.
	UpToDate bool
	// Conflicts is non-empty when the merge left some paths untouched;
	// the caller should retry with a different delta.Strategy.
	Conflicts []delta.Conflict
}

// Pull implements spec.md §4.6.3: fetch the remote stamp, diff it against
// the last-known stamp recorded in sync.json, download what local content
// can't cover, apply the delta under strategy, and on a clean apply persist
// the new remote stamp as the dataset's last-known state.
func (c *Client) Pull(ctx context.Context, tag Tag, db *index.Database, sync SyncState, strategy delta.Strategy) (PullResult, error) {
	remoteStamp, err := c.FetchStamp(ctx, tag)
	if err != nil {
		return PullResult{}, err
	}

	lastKnown, found, err := sync.LastKnownStamp(c.baseURL)
	if err != nil {
		return PullResult{}, err
	}

	if !found {
		lastKnown = &index.Stamp{}
	}

	d := delta.Diff(remoteStamp, lastKnown)

	if len(d.Adds) == 0 && len(d.Removes) == 0 && len(d.MetaAdds) == 0 && len(d.MetaRemoves) == 0 {
		return PullResult{UpToDate: true}, nil
	}

	metaDump, err := c.FetchMetaDump(ctx, tag, d.MetaAdds)
	if err != nil {
		return PullResult{}, err
	}

	stagingDir, err := os.MkdirTemp("", "ddb-pull-*")
	if err != nil {
		return PullResult{}, ddberr.New(ddberr.KindFilesystem, "registry.Pull", err)
	}
	defer os.RemoveAll(stagingDir)

	if err := c.stageAdds(ctx, tag, db, d.Adds, stagingDir); err != nil {
		return PullResult{}, err
	}

	conflicts, err := delta.ApplyDelta(ctx, d, stagingDir, db, strategy, metaDump)
	if err != nil {
		return PullResult{}, err
	}

	if len(conflicts) > 0 {
		return PullResult{Conflicts: conflicts}, nil
	}

	if err := sync.SaveStamp(c.baseURL, remoteStamp); err != nil {
		return PullResult{}, err
	}

	return PullResult{}, nil
}

// localAddReuse mirrors spec.md §4.3.3's local-reuse scan (also performed,
// independently, inside delta.ApplyDelta itself): it finds which of wanted's
// hashes are already present, correctly, somewhere under db's root.
func localAddReuse(ctx context.Context, db *index.Database, adds []index.StampEntry) (map[string]bool, error) {
	wanted := make(map[string]bool, len(adds))
	for _, a := range adds {
		if a.Hash != "" {
			wanted[a.Hash] = true
		}
	}

	if len(wanted) == 0 {
		return nil, nil
	}

	entries, err := db.List(ctx, []string{"*"}, 0)
	if err != nil {
		return nil, err
	}

	present := map[string]bool{}

	for _, e := range entries {
		if present[e.Hash] || !wanted[e.Hash] {
			continue
		}

		if hash, err := hashutil.FileSHA256(db.AbsPath(e.Path)); err == nil && hash == e.Hash {
			present[e.Hash] = true
		}
	}

	return present, nil
}

// stageAdds implements spec.md §4.3.3/§4.6.3 step 6: download only the adds
// that have no local match already on disk under db's root, writing each
// into stagingDir at its relative path so delta.ApplyDelta can pick it up.
func (c *Client) stageAdds(ctx context.Context, tag Tag, db *index.Database, adds []index.StampEntry, stagingDir string) error {
	present, err := localAddReuse(ctx, db, adds)
	if err != nil {
		return err
	}

	for _, add := range adds {
		if add.Hash == "" || present[add.Hash] {
			continue
		}

		data, err := c.DownloadFile(ctx, tag, add.Path)
		if err != nil {
			return err
		}

		if hash := hashutil.BytesSHA256(data); hash != add.Hash {
			return ddberr.New(ddberr.KindRegistry, "registry.stageAdds",
				fmt.Errorf("downloaded content for %q does not match expected hash", add.Path))
		}

		dst := filepath.Join(stagingDir, filepath.FromSlash(add.Path))

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return ddberr.New(ddberr.KindFilesystem, "registry.stageAdds", err)
		}

		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return ddberr.New(ddberr.KindFilesystem, "registry.stageAdds", err)
		}
	}

	return nil
}
