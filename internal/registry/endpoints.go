package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dronedb/ddb-core/internal/ddberr"
	"github.com/dronedb/ddb-core/internal/index"
	"github.com/dronedb/ddb-core/internal/meta"
)

// Tag identifies one remote dataset, the parsed form of a tags.json entry
// "<registryUrl>/<org>/<dataset>" (spec.md §6.1).
type Tag struct {
	Org     string
	Dataset string
}

func (t Tag) path(suffix string) string {
	return fmt.Sprintf("/orgs/%s/ds/%s%s", url.PathEscape(t.Org), url.PathEscape(t.Dataset), suffix)
}

// DatasetInfo is the subset of the dataset info response spec.md §4.6.1
// documents ("GET .../ds/<d> → dataset info (array, take first)").
type DatasetInfo struct {
	Slug         string `json:"slug"`
	Size         int64  `json:"size"`
	ObjectsCount int    `json:"objectsCount"`
}

// DatasetInfo fetches a dataset's summary metadata, per spec.md §4.6.1.
func (c *Client) DatasetInfo(ctx context.Context, tag Tag) (DatasetInfo, error) {
	var infos []DatasetInfo
	if err := c.doJSON(ctx, http.MethodGet, tag.path(""), nil, &infos); err != nil {
		return DatasetInfo{}, err
	}

	if len(infos) == 0 {
		return DatasetInfo{}, ddberr.New(ddberr.KindRegistry, "registry.DatasetInfo", fmt.Errorf("empty response"))
	}

	return infos[0], nil
}

// FetchStamp fetches the remote dataset's current stamp, per spec.md
// §4.6.1/§4.6.3 step 2.
func (c *Client) FetchStamp(ctx context.Context, tag Tag) (*index.Stamp, error) {
	var stamp index.Stamp
	if err := c.doJSON(ctx, http.MethodGet, tag.path("/stamp"), nil, &stamp); err != nil {
		return nil, err
	}

	return &stamp, nil
}

// FetchMetaDump fetches the metadata rows for ids, per spec.md §4.6.1 ("POST
// .../meta/dump with {ids} → meta rows").
func (c *Client) FetchMetaDump(ctx context.Context, tag Tag, ids []string) ([]meta.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var items []meta.Item

	err := c.doJSON(ctx, http.MethodPost, tag.path("/meta/dump"),
		struct {
			IDs []string `json:"ids"`
		}{ids}, &items)

	return items, err
}

// DownloadFile fetches a single file's bytes, per spec.md §4.6.1 ("GET
// .../download?path=<p> → file").
func (c *Client) DownloadFile(ctx context.Context, tag Tag, relPath string) ([]byte, error) {
	path := tag.path("/download") + "?path=" + url.QueryEscape(relPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, ddberr.New(ddberr.KindNetwork, "registry.DownloadFile", err)
	}

	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ddberr.New(ddberr.KindNetwork, "registry.DownloadFile", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ddberr.New(ddberr.KindRegistry, "registry.DownloadFile",
			fmt.Errorf("status %d for %s", resp.StatusCode, relPath))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ddberr.New(ddberr.KindNetwork, "registry.DownloadFile", err)
	}

	return data, nil
}

// DownloadFiles fetches multiple files as a ZIP via the multi-file POST
// variant, per spec.md §4.6.1 ("multi-file via POST with
// path=<joined>, returns a ZIP"). joined paths are '|'-delimited, matching
// the single querystring the endpoint expects.
func (c *Client) DownloadFiles(ctx context.Context, tag Tag, relPaths []string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tag.path("/download"),
		strings.NewReader(url.Values{"path": {strings.Join(relPaths, "|")}}.Encode()))
	if err != nil {
		return nil, ddberr.New(ddberr.KindNetwork, "registry.DownloadFiles", err)
	}

	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ddberr.New(ddberr.KindNetwork, "registry.DownloadFiles", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ddberr.New(ddberr.KindRegistry, "registry.DownloadFiles", fmt.Errorf("status %d", resp.StatusCode))
	}

	return io.ReadAll(resp.Body)
}
