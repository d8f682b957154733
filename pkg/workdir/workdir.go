// Package workdir manages the engine's private working directory tree.
// Paths must be acquired before use so two components cannot claim the
// same location within a run.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AcquireOptions control how a path is acquired.
type AcquireOptions struct {
	// ForceEmpty deletes an existing directory before recreating it.
	ForceEmpty bool

	// ExistOK allows acquiring a path that already exists or has already
	// been acquired.
	ExistOK bool
}

// Dir is a managed directory. Sub-directories created through AcquireDir
// share the registry of their root so acquisition is unique per run.
type Dir struct {
	root     string
	registry *registry
}

type registry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func (r *registry) claim(path string, existOK bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.paths[path]; taken && !existOK {
		return fmt.Errorf("workpath %q has already been acquired", path)
	}
	r.paths[path] = struct{}{}
	return nil
}

// New creates a managed directory rooted at the given path. The root
// itself is created on first acquisition.
func New(root string) *Dir {
	return &Dir{
		root:     root,
		registry: &registry{paths: make(map[string]struct{})},
	}
}

// Root returns the root path of this directory.
func (d *Dir) Root() string {
	return d.root
}

// AcquireDir claims a sub-directory and creates it on disk. With
// ForceEmpty an existing directory is deleted first.
func (d *Dir) AcquireDir(path string, opts AcquireOptions) (*Dir, error) {
	fullPath := filepath.Join(d.root, path)
	if err := d.registry.claim(fullPath, opts.ExistOK); err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	exists := err == nil && info.IsDir()

	if exists && (opts.ForceEmpty || !opts.ExistOK) {
		if err := os.RemoveAll(fullPath); err != nil {
			return nil, fmt.Errorf(
				"could not delete working directory: %w\n\nplease delete it manually: %s",
				err, fullPath)
		}
	}
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return nil, fmt.Errorf("could not create working directory %s: %w", fullPath, err)
	}

	return &Dir{root: fullPath, registry: d.registry}, nil
}

// AcquireFile claims a file path and creates its parent directories. The
// file itself is not created. Without ExistOK an existing file is an error.
func (d *Dir) AcquireFile(path string, opts AcquireOptions) (string, error) {
	fullPath := filepath.Join(d.root, path)
	if err := d.registry.claim(fullPath, opts.ExistOK); err != nil {
		return "", err
	}

	if !opts.ExistOK {
		if _, err := os.Stat(fullPath); err == nil {
			return "", fmt.Errorf(
				"working file already exists\n\nplease delete it manually: %s", fullPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("could not create parent directory for %s: %w", fullPath, err)
	}

	return fullPath, nil
}
