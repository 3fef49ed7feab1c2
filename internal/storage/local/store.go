// Package local implements the image store on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/imagefetch/internal/ingest"
)

const tempPattern = ".imagefetch-*.tmp"

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the destination directory where images are written.
	BaseDir string `mapstructure:"dir" yaml:"dir"`
}

// Store writes images into a single destination directory.
type Store struct {
	baseDir string
}

// New creates the destination directory if needed and verifies it is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.BaseDir, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	probeName := probe.Name()
	if err := probe.Close(); err != nil {
		return nil, fmt.Errorf("failed to close probe file: %w", err)
	}
	if err := os.Remove(probeName); err != nil {
		return nil, fmt.Errorf("failed to clean up probe file: %w", err)
	}

	return &Store{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Dir returns the destination directory.
func (s *Store) Dir() string {
	return s.baseDir
}

// Join resolves name inside the destination directory, rejecting traversal.
func (s *Store) Join(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: name is required", ingest.ErrStore)
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: name %q contains a path separator", ingest.ErrStore, name)
	}
	fullPath := filepath.Join(s.baseDir, name)
	if filepath.Dir(fullPath) != s.baseDir {
		return "", fmt.Errorf("%w: path traversal detected", ingest.ErrStore)
	}
	return fullPath, nil
}

// Exists reports whether a file named name is present.
func (s *Store) Exists(_ context.Context, name string) (bool, error) {
	fullPath, err := s.Join(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %w", ingest.ErrStore, fullPath, err)
	}
	return true, nil
}

// Open returns the content of name for hashing.
func (s *Store) Open(_ context.Context, name string) (io.ReadCloser, error) {
	fullPath, err := s.Join(name)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- fullPath is confined to baseDir by Join.
	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ingest.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: open %s: %w", ingest.ErrStore, fullPath, err)
	}
	return f, nil
}

// Put writes data to a temp file in the destination directory and renames it
// into place, so a partially written image is never visible under name. It
// refuses to replace an existing file.
func (s *Store) Put(ctx context.Context, name string, _ string, data []byte) (string, error) {
	fullPath, err := s.Join(name)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}

	tmpPath, err := writeTemp(s.baseDir, data)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(fullPath); err == nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %s: %w", ingest.ErrStore, name, ingest.ErrExists)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%w: rename into %s: %w", ingest.ErrStore, fullPath, err)
	}
	return fullPath, nil
}

func writeTemp(dir string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %w", ingest.ErrStore, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%w: write temp file: %w", ingest.ErrStore, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%w: sync temp file: %w", ingest.ErrStore, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%w: close temp file: %w", ingest.ErrStore, err)
	}
	return tmpPath, nil
}
