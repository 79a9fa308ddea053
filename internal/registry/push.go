package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/sethvargo/go-retry"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/index"
	"github.com/dronedb/ddb-core/internal/meta"
)

// PushInitResponse is the push/init response spec.md §4.6.1 documents:
// "{neededFiles[], neededMeta[], token, pullRequired?}".
type PushInitResponse struct {
	NeededFiles  []string `json:"neededFiles"`
	NeededMeta   []string `json:"neededMeta"`
	Token        string   `json:"token"`
	PullRequired bool     `json:"pullRequired"`
}

// pushInit calls push/init with the last-known remote checksum and our
// current stamp, per spec.md §4.6.4 step 2.
func (c *Client) pushInit(ctx context.Context, tag Tag, lastKnownChecksum string, current *index.Stamp) (PushInitResponse, error) {
	var out PushInitResponse

	err := c.doJSON(ctx, http.MethodPost, tag.path("/push/init"),
		struct {
			Checksum string       `json:"checksum"`
			Stamp    *index.Stamp `json:"stamp"`
		}{lastKnownChecksum, current}, &out)

	return out, err
}

// pushMeta posts the metadata rows the server requested, per spec.md
// §4.6.4 step 3.
func (c *Client) pushMeta(ctx context.Context, tag Tag, token string, items []meta.Item) error {
	if len(items) == 0 {
		return nil
	}

	return c.doJSON(ctx, http.MethodPost, tag.path("/push/meta"),
		struct {
			Meta  []meta.Item `json:"meta"`
			Token string      `json:"token"`
		}{items, token}, nil)
}

// pushUpload uploads one file as multipart/form-data, retrying per spec.md
// §4.6.4 step 4 ("max 10, linear backoff").
func (c *Client) pushUpload(ctx context.Context, tag Tag, token, relPath, absPath string) error {
	return retry.Do(ctx, linearBackoff(), func(ctx context.Context) error {
		data, err := os.ReadFile(absPath)
		if err != nil {
			return ddberr.New(ddberr.KindFilesystem, "registry.pushUpload", err)
		}

		var body bytes.Buffer
		w := multipart.NewWriter(&body)

		if err := w.WriteField("path", relPath); err != nil {
			return ddberr.New(ddberr.KindFilesystem, "registry.pushUpload", err)
		}

		if err := w.WriteField("token", token); err != nil {
			return ddberr.New(ddberr.KindFilesystem, "registry.pushUpload", err)
		}

		part, err := w.CreateFormFile("file", relPath)
		if err != nil {
			return ddberr.New(ddberr.KindFilesystem, "registry.pushUpload", err)
		}

		if _, err := part.Write(data); err != nil {
			return ddberr.New(ddberr.KindFilesystem, "registry.pushUpload", err)
		}

		if err := w.Close(); err != nil {
			return ddberr.New(ddberr.KindFilesystem, "registry.pushUpload", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tag.path("/push/upload"), &body)
		if err != nil {
			return ddberr.New(ddberr.KindNetwork, "registry.pushUpload", err)
		}

		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(ddberr.New(ddberr.KindNetwork, "registry.pushUpload", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			respBody, _ := io.ReadAll(resp.Body)

			return retry.RetryableError(ddberr.New(ddberr.KindRegistry, "registry.pushUpload",
				fmt.Errorf("status %d: %s", resp.StatusCode, respBody)))
		}

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)

			return ddberr.New(ddberr.KindRegistry, "registry.pushUpload",
				fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
		}

		return nil
	})
}

// pushCommit finalizes the push, per spec.md §4.6.4 step 5.
func (c *Client) pushCommit(ctx context.Context, tag Tag, token string) error {
	return c.doJSON(ctx, http.MethodPost, tag.path("/push/commit"),
		struct {
			Token string `json:"token"`
		}{token}, nil)
}

// SyncState persists, per registry URL, the remote stamp last known to be
// in sync with the local dataset — the on-disk shape spec.md §6.1 calls
// "sync.json". Implemented by the user profile layer (component C11).
type SyncState interface {
	LastKnownStamp(registryURL string) (*index.Stamp, bool, error)
	SaveStamp(registryURL string, stamp *index.Stamp) error
}

// Push implements spec.md §4.6.4: push/init, then meta, then each needed
// file (retried), then commit, then persist the new local stamp as the
// remote's last-known stamp.
func (c *Client) Push(ctx context.Context, tag Tag, db *index.Database, sync SyncState) error {
	lastKnown, found, err := sync.LastKnownStamp(c.baseURL)
	if err != nil {
		return err
	}

	checksum := ""
	if found {
		checksum = lastKnown.Checksum
	}

	current, err := db.ComputeStamp(ctx)
	if err != nil {
		return err
	}

	initResp, err := c.pushInit(ctx, tag, checksum, current)
	if err != nil {
		return err
	}

	if initResp.PullRequired {
		return ddberr.New(ddberr.KindPullRequired, "registry.Push", ddberr.ErrPullRequired)
	}

	metaItems, err := db.Meta.Dump(ctx, initResp.NeededMeta)
	if err != nil {
		return err
	}

	if err := c.pushMeta(ctx, tag, initResp.Token, metaItems); err != nil {
		return err
	}

	for _, relPath := range initResp.NeededFiles {
		if err := c.pushUpload(ctx, tag, initResp.Token, relPath, db.AbsPath(relPath)); err != nil {
			return err
		}
	}

	if err := c.pushCommit(ctx, tag, initResp.Token); err != nil {
		return err
	}

	return sync.SaveStamp(c.baseURL, current)
}
