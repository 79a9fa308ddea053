package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dronedb/ddb-core/internal/pathutil"
)

// ExpandPaths implements spec.md §4.1.2's shared recursion primitive: it
// walks inputs (each an absolute or relative filesystem path), skips .ddb
// components and hidden/system files, and returns absolute paths, recursing
// into directories up to maxDepth (0 = unlimited, -1 = no recursion).
func ExpandPaths(inputs []string, recursive bool, maxDepth int) ([]string, error) {
	var out []string

	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return nil, fmt.Errorf("index: resolving %s: %w", in, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("index: stat %s: %w", abs, err)
		}

		if !info.IsDir() {
			out = append(out, abs)

			continue
		}

		if !recursive && maxDepth != -1 {
			// A bare directory with no recursion requested still contributes
			// its immediate children, matching the teacher's single-level
			// listing default for non-recursive directory inputs.
			maxDepth = 1
		}

		paths, err := walkDir(abs, maxDepth)
		if err != nil {
			return nil, err
		}

		out = append(out, paths...)
	}

	return out, nil
}

// walkDir recursively collects file paths under root, honoring maxDepth (0 =
// unlimited, -1 = no recursion at all) and skipping .ddb/hidden entries.
func walkDir(root string, maxDepth int) ([]string, error) {
	if maxDepth == -1 {
		return nil, nil
	}

	var out []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("index: walking %s: %w", path, err)
		}

		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("index: relativizing %s: %w", path, relErr)
		}

		if pathutil.ContainsDdbComponent(pathutil.ToSlash(rel)) || pathutil.IsHidden(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		depth := pathutil.Depth(pathutil.ToSlash(rel)) + 1
		if maxDepth > 0 && depth > maxDepth {
			if info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if !info.IsDir() {
			out = append(out, path)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// IndexPathList implements spec.md §4.1.2's "paths to add" variant: it
// refuses inputs not contained under root, and for every file emits every
// intermediate directory up to root alongside it.
func IndexPathList(root string, inputs []string, includeDirs bool) (files []string, dirs []string, err error) {
	seenDirs := map[string]bool{}

	for _, in := range inputs {
		rel, relErr := pathutil.Rel(root, in)
		if relErr != nil {
			return nil, nil, fmt.Errorf("index: %w", relErr)
		}

		info, statErr := os.Stat(in)
		if statErr != nil {
			return nil, nil, fmt.Errorf("index: stat %s: %w", in, statErr)
		}

		if info.IsDir() {
			if includeDirs && !seenDirs[rel] {
				seenDirs[rel] = true

				dirs = append(dirs, rel)
			}
		} else {
			files = append(files, rel)
		}

		for _, parent := range pathutil.Parents(rel) {
			if !seenDirs[parent] {
				seenDirs[parent] = true

				dirs = append(dirs, parent)
			}
		}
	}

	return files, dirs, nil
}
