// Package pathutil provides the filesystem primitives DroneDB's index and
// cache layers build on: canonicalization, relative-path math, scoped file
// locks, safe remove/copy/hardlink, and modified-time control. The higher
// layers (index, delta, tiling, build) use it for the path semantics they
// share; they still call os and path/filepath directly for plain file
// operations.
package pathutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DdbDirName is the reserved directory name that index traversal always
// skips (spec.md §4.1.2).
const DdbDirName = ".ddb"

// ToSlash canonicalizes an OS path to the forward-slash form DroneDB stores
// in Entry.path (spec.md §3.1). It is idempotent on already-slashed input.
//
// It also NFC-normalizes the path. A file created "café.jpg" on a macOS
// filesystem is handed to us by the OS with its name decomposed (NFD); on
// Linux the same bytes are composed (NFC). Two otherwise-identical trees
// would hash their entries under different path keys depending on which OS
// wrote them, which breaks the content-addressed index's path identity.
// Only the stored key is normalized — callers still use the original,
// OS-reported path for any actual filesystem I/O.
func ToSlash(p string) string {
	return norm.NFC.String(filepath.ToSlash(p))
}

// Depth returns the number of '/' separators in a forward-slash relative
// path, i.e. Entry.depth (spec.md §3.1 "computed, never stored divergently").
// An empty path (the dataset root) has depth 0.
func Depth(relPath string) int {
	if relPath == "" {
		return 0
	}

	return strings.Count(relPath, "/")
}

// Rel computes the dataset-relative, forward-slashed path of target under
// root. Returns an error if target is not contained under root — this is
// the refusal spec.md §4.1.2 requires from index_path_list for inputs
// outside the working directory.
func Rel(root, target string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("pathutil: resolving root %s: %w", root, err)
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("pathutil: resolving target %s: %w", target, err)
	}

	rel, err := filepath.Rel(absRoot, absTarget)
	if err != nil {
		return "", fmt.Errorf("pathutil: %s is not relative to %s: %w", target, root, err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("pathutil: %s is not contained under %s", target, root)
	}

	if rel == "." {
		return "", nil
	}

	return ToSlash(rel), nil
}

// HasDottedComponent reports whether any path component is "." or "..".
// move (spec.md §4.1.6) rejects such paths with InvalidArgs.
func HasDottedComponent(relPath string) bool {
	for _, part := range strings.Split(relPath, "/") {
		if part == "." || part == ".." {
			return true
		}
	}

	return false
}

// ContainsDdbComponent reports whether any path component is the reserved
// ".ddb" directory name (spec.md §4.1.2 "skips any component named .ddb").
func ContainsDdbComponent(relPath string) bool {
	for _, part := range strings.Split(relPath, "/") {
		if part == DdbDirName {
			return true
		}
	}

	return false
}

// IsHidden reports whether the base name of path is an OS hidden or system
// file: a leading dot on every platform, plus the conventional Windows
// system names when running there. DroneDB's expand_paths (spec.md §4.1.2)
// skips these during recursive traversal.
func IsHidden(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") && base != "." && base != ".." {
		return true
	}

	if runtime.GOOS == "windows" {
		switch strings.ToLower(base) {
		case "thumbs.db", "desktop.ini", "system volume information":
			return true
		}
	}

	return false
}

// Parents returns the forward-slash relative paths of every ancestor
// directory of relPath, ordered from shallowest to deepest, excluding the
// dataset root (""). For "a/b/c.jpg" this returns ["a", "a/b"] — exactly
// the intermediate Directory entries add must create (spec.md §3.1, §4.1.6).
func Parents(relPath string) []string {
	parts := strings.Split(relPath, "/")
	if len(parts) <= 1 {
		return nil
	}

	parents := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		parents = append(parents, strings.Join(parts[:i], "/"))
	}

	return parents
}

// SetModTime sets a file's modification time, used by the delta engine
// (spec.md §4.3.2 step 3) to synchronize local mtimes to stored values after
// a conflict-free apply, so a subsequent sync sees no spurious changes.
func SetModTime(path string, mtime time.Time) error {
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		return fmt.Errorf("pathutil: setting mtime of %s: %w", path, err)
	}

	return nil
}

// SafeRemove removes a file or an empty/non-empty directory tree, treating
// "already gone" as success (idempotent remove, needed by sync/apply-delta
// replays after a crash).
func SafeRemove(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("pathutil: removing %s: %w", path, err)
	}

	return nil
}

// SafeCopy copies src to dst, creating dst's parent directory if needed and
// preserving src's mode bits. Used by the delta engine (spec.md §4.3.2 "copy
// (or create directory) and index") and the build pipeline's COG fast path
// (spec.md §4.5.1 "copy the file, no recompression").
func SafeCopy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("pathutil: creating parent of %s: %w", dst, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("pathutil: opening %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("pathutil: stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("pathutil: creating %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return fmt.Errorf("pathutil: copying %s to %s: %w", src, dst, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("pathutil: closing %s: %w", dst, err)
	}

	return nil
}

// SafeHardlink hardlinks src to dst, falling back to a full copy when the
// link fails (typically because src and dst are on different filesystems,
// or the filesystem doesn't support hardlinks). An existing dst is not
// overwritten: that case returns an error without copying. Used by the delta engine's
// local content reuse (spec.md §4.3.3): rather than re-downloading an add
// whose hash already exists locally, we link the existing bytes into place.
func SafeHardlink(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("pathutil: creating parent of %s: %w", dst, err)
	}

	if err := os.Link(src, dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("pathutil: hardlinking %s to %s: %w", src, dst, err)
		}
		// Cross-device or unsupported: fall back to a full copy.
		return SafeCopy(src, dst)
	}

	return nil
}
