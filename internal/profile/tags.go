package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dronedb/ddb-core/internal/ddberr"
)

// tagsFile is the on-disk shape of tags.json: `{"tag": "<registryUrl>/<org>/
// <dataset>"}` (spec.md §6.1).
type tagsFile struct {
	Tag string `json:"tag"`
}

// ReadTag reads a dataset's registry tag from "<ddbDir>/tags.json", parsing
// it into (registryURL, org, dataset). Returns ok=false if no tag is set.
func ReadTag(ddbDir string) (registryURL, org, dataset string, ok bool, err error) {
	data, readErr := os.ReadFile(filepath.Join(ddbDir, "tags.json"))
	if errors.Is(readErr, fs.ErrNotExist) {
		return "", "", "", false, nil
	}

	if readErr != nil {
		return "", "", "", false, ddberr.New(ddberr.KindFilesystem, "profile.ReadTag", readErr)
	}

	var tf tagsFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return "", "", "", false, ddberr.New(ddberr.KindFilesystem, "profile.ReadTag", err)
	}

	registryURL, org, dataset, err = ParseTag(tf.Tag)
	if err != nil {
		return "", "", "", false, err
	}

	return registryURL, org, dataset, true, nil
}

// WriteTag persists registryURL/org/dataset as "<ddbDir>/tags.json" (spec.md
// §6.2 `tag` command).
func WriteTag(ddbDir, registryURL, org, dataset string) error {
	tf := tagsFile{Tag: fmt.Sprintf("%s/%s/%s", strings.TrimRight(registryURL, "/"), org, dataset)}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return ddberr.New(ddberr.KindFilesystem, "profile.WriteTag", err)
	}

	return atomicWrite(filepath.Join(ddbDir, "tags.json"), data, 0o644)
}

// ParseTag splits a tag string "<registryUrl>/<org>/<dataset>" into its
// three components. The registry URL itself may contain slashes (it's a
// full "scheme://host[:port]" prefix), so org and dataset are taken as the
// last two path segments.
func ParseTag(tag string) (registryURL, org, dataset string, err error) {
	parts := strings.Split(strings.TrimRight(tag, "/"), "/")
	if len(parts) < 4 { // scheme, "", host, ..., org, dataset
		return "", "", "", ddberr.New(ddberr.KindInvalidArgs, "profile.ParseTag",
			fmt.Errorf("malformed tag %q", tag))
	}

	dataset = parts[len(parts)-1]
	org = parts[len(parts)-2]
	registryURL = strings.Join(parts[:len(parts)-2], "/")

	return registryURL, org, dataset, nil
}
