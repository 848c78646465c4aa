package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/vaultlens/internal/exclude"
	"github.com/starford/vaultlens/internal/models"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root    string // absolute path to vault directory
	exclude *exclude.Matcher
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist. A nil matcher excludes nothing.
func NewFS(root string, ex *exclude.Matcher) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs, exclude: ex}, nil
}

// Root returns the absolute vault directory.
func (f *FS) Root() string { return f.root }

// Excluded reports whether rel is filtered out by the provider's matcher.
func (f *FS) Excluded(rel string, isDir bool) bool {
	if isDir {
		return f.exclude.MatchDir(rel)
	}
	return f.exclude.Match(rel)
}

// safePath resolves a relative path against the vault root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(f.root, cleaned)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes vault root: %s", rel)
	}
	return abs, nil
}

// IsNote reports whether name has the markdown note extension.
func IsNote(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".md")
}

// List walks dir (relative to root) and returns metadata for every .md file.
// Symlinks are not followed.
func (f *FS) List(dir string) ([]models.FileMeta, []models.FileError, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, nil, err
	}
	var (
		out  []models.FileMeta
		errs []models.FileError
	)
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		rel := f.rel(p)
		if walkErr != nil {
			if p == base {
				return walkErr
			}
			errs = append(errs, models.FileError{Path: rel, Op: "walk", Err: walkErr})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != base && f.exclude.MatchDir(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() || !IsNote(d.Name()) {
			return nil
		}
		if f.exclude.Match(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			errs = append(errs, models.FileError{Path: rel, Op: "stat", Err: err})
			return nil
		}
		out = append(out, models.FileMeta{Path: rel, ModTime: info.ModTime(), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, errs, fmt.Errorf("storage: list: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, errs, nil
}

// Stat returns metadata for a single vault file.
func (f *FS) Stat(path string) (models.FileMeta, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return models.FileMeta{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.FileMeta{}, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return models.FileMeta{}, fmt.Errorf("storage: stat %s: %w", path, errors.New("is a directory"))
	}
	return models.FileMeta{Path: filepath.ToSlash(filepath.Clean(path)), ModTime: info.ModTime(), Size: info.Size()}, nil
}

// Read returns the raw bytes of a vault file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

func (f *FS) rel(p string) string {
	rel, err := filepath.Rel(f.root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}
