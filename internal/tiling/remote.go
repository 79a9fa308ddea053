package tiling

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/hashutil"
	"github.com/dronedb/ddb-core/internal/pathutil"
)

// downloadRemote implements spec.md §4.4.5: download a URL source to
// "<user-tiles-dir>/<CRC64(url)>.<ext>" under a file lock, or to
// "<hash>.<ext>" when the caller already knows the content hash, skipping
// the download entirely if that file exists.
func (c *Cache) downloadRemote(ctx context.Context, req TileRequest) (string, error) {
	key := req.ContentHash
	if key == "" {
		key = hashutil.CRC64String(req.SourcePath)
	}

	dest := filepath.Join(c.dir, key+filepath.Ext(req.SourcePath))

	if req.ContentHash != "" {
		if _, err := os.Stat(dest); err == nil {
			return dest, nil
		}
	}

	err := withLock(ctx, dest, func() error {
		if _, err := os.Stat(dest); err == nil {
			return nil
		}

		return fetchToFile(ctx, req.SourcePath, dest)
	})
	if err != nil {
		return "", err
	}

	return dest, nil
}

func fetchToFile(ctx context.Context, url, dest string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ddberr.New(ddberr.KindNetwork, "tiling.downloadRemote", err)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return ddberr.New(ddberr.KindNetwork, "tiling.downloadRemote", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ddberr.New(ddberr.KindNetwork, "tiling.downloadRemote", &unexpectedStatusError{resp.StatusCode})
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return ddberr.New(ddberr.KindFilesystem, "tiling.downloadRemote", err)
	}

	tmp := dest + ".partial"

	out, err := os.Create(tmp)
	if err != nil {
		return ddberr.New(ddberr.KindFilesystem, "tiling.downloadRemote", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)

		return ddberr.New(ddberr.KindNetwork, "tiling.downloadRemote", err)
	}

	if err := out.Close(); err != nil {
		return ddberr.New(ddberr.KindFilesystem, "tiling.downloadRemote", err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		return ddberr.New(ddberr.KindFilesystem, "tiling.downloadRemote", err)
	}

	return nil
}

type unexpectedStatusError struct {
	code int
}

func (e *unexpectedStatusError) Error() string {
	return http.StatusText(e.code)
}

// withLock is the tiling package's bridge to pathutil's scoped filesystem
// lock, used for both tile builds (spec.md §4.4.4) and remote downloads
// (spec.md §4.4.5).
func withLock(ctx context.Context, target string, fn func() error) error {
	return pathutil.WithLock(ctx, target, fn)
}
