// Package walker enumerates the files under a root into a flat batch of
// entries. Relative paths always use forward slashes so two walks of
// equivalent trees on different platforms produce identical path sets.
package walker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/custodian-dev/custodian/internal/domain"
)

// Options filters the walk. Patterns are doublestar globs matched
// against the slash-form relative path; an empty include list means
// everything.
type Options struct {
	Include []string
	Exclude []string

	// FollowSymlinks resolves symlinked files instead of skipping them
	FollowSymlinks bool
}

// Walk enumerates regular files under sourceRoot and maps each to a
// destination under destRoot. destRoot may be empty for read-only
// operations like hashing and verification.
//
// Unreadable directories are skipped, not fatal; an unreadable root is.
func Walk(sourceRoot, destRoot string, opts Options) ([]domain.FileEntry, error) {
	info, err := os.Stat(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSourceRootUnavailable, sourceRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrSourceRootUnavailable, sourceRoot)
	}

	for _, p := range append(append([]string{}, opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}

	var entries []domain.FileEntry
	err = filepath.WalkDir(sourceRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == sourceRoot {
				return walkErr
			}
			return nil // skip unreadable subtree entries
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(sourceRoot, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !matches(rel, opts) {
			return nil
		}

		size := int64(0)
		if d.Type()&fs.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				return nil
			}
			resolved, err := os.Stat(path)
			if err != nil || !resolved.Mode().IsRegular() {
				return nil
			}
			size = resolved.Size()
		} else if d.Type().IsRegular() {
			if fi, err := d.Info(); err == nil {
				size = fi.Size()
			}
		} else {
			return nil // sockets, devices, pipes
		}

		entry := domain.FileEntry{
			SourcePath:   path,
			RelativePath: rel,
			Size:         size,
		}
		if destRoot != "" {
			entry.DestinationPath = filepath.Join(destRoot, filepath.FromSlash(rel))
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking %s: %v", domain.ErrSourceRootUnavailable, sourceRoot, err)
	}

	return entries, nil
}

// matches applies include then exclude patterns to a slash-form path
func matches(rel string, opts Options) bool {
	if len(opts.Include) > 0 {
		included := false
		for _, p := range opts.Include {
			if ok, _ := doublestar.Match(p, rel); ok {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	for _, p := range opts.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	return true
}

// TotalBytes sums the sizes of a batch
func TotalBytes(entries []domain.FileEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total
}
