package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// ensure interface is implemented
var _ Provider = (*LocalProvider)(nil)

const localPageSize = 256

// LocalProvider implements the Provider interface for posix-compliant local
// filesystems. Directories are containers and regular files are leaves.
type LocalProvider struct {
	basePath string

	// index remembers where a leaf id was last seen so Reparent does not have
	// to rescan the old parent directory.
	mu    sync.Mutex
	index map[string]string
}

// NewLocalProvider creates a new LocalProvider rooted at basePath.
func NewLocalProvider(basePath string) (*LocalProvider, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", basePath, err)
	}
	return &LocalProvider{
		basePath: abs,
		index:    make(map[string]string),
	}, nil
}

// Root returns the base directory.
func (p *LocalProvider) Root() Container {
	return Container{ID: p.basePath, Path: p.basePath}
}

// Open checks the base directory is reachable and returns a session.
func (p *LocalProvider) Open(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(p.basePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p.basePath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open %s: not a directory", p.basePath)
	}
	return &localConn{p: p}, nil
}

// resolve maps a container path onto the filesystem. Relative paths are
// taken relative to the base directory.
func (p *LocalProvider) resolve(pth string) string {
	if filepath.IsAbs(pth) {
		return filepath.Clean(pth)
	}
	return filepath.Join(p.basePath, filepath.Clean(pth))
}

func (p *LocalProvider) remember(id, full string) {
	p.mu.Lock()
	p.index[id] = full
	p.mu.Unlock()
}

func (p *LocalProvider) lookup(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	full, ok := p.index[id]
	return full, ok
}

type localConn struct {
	p *LocalProvider
}

func statDir(full string) (Container, error) {
	info, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return Container{}, fmt.Errorf("container %s: %w", full, ErrNotFound)
	}
	if err != nil {
		return Container{}, err
	}
	if !info.IsDir() {
		return Container{}, fmt.Errorf("container %s: not a directory", full)
	}
	return Container{ID: full, Path: full}, nil
}

func (c *localConn) ResolveContainer(ctx context.Context, pth string) (Container, error) {
	if err := ctx.Err(); err != nil {
		return Container{}, err
	}
	return statDir(c.p.resolve(pth))
}

func (c *localConn) CreateContainer(ctx context.Context, pth string) (Container, error) {
	if err := ctx.Err(); err != nil {
		return Container{}, err
	}
	full := c.p.resolve(pth)
	if err := os.MkdirAll(full, 0755); err != nil {
		return Container{}, fmt.Errorf("create container %s: %w", full, err)
	}
	return Container{ID: full, Path: full}, nil
}

func (c *localConn) LookupContainer(ctx context.Context, id string) (Container, error) {
	if err := ctx.Err(); err != nil {
		return Container{}, err
	}
	return statDir(id)
}

func (c *localConn) ResolveSubContainer(ctx context.Context, parent Container, name string) (Container, error) {
	if err := ctx.Err(); err != nil {
		return Container{}, err
	}
	return statDir(filepath.Join(parent.Path, name))
}

func (c *localConn) ListChildren(ctx context.Context, dir Container, fields []Field) iter.Seq2[Object, error] {
	withProps := slices.Contains(fields, FieldProperties)
	return func(yield func(Object, error) bool) {
		f, err := os.Open(dir.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = fmt.Errorf("list %s: %w", dir.Path, ErrNotFound)
			}
			yield(Object{}, err)
			return
		}
		defer f.Close()

		for {
			if err := ctx.Err(); err != nil {
				yield(Object{}, err)
				return
			}

			entries, err := f.ReadDir(localPageSize)
			for _, entry := range entries {
				info, infoErr := entry.Info()
				if infoErr != nil {
					continue // skip files that disappeared between ReadDir and Info
				}
				obj, ok := localObject(dir.Path, info, withProps)
				if !ok {
					continue
				}
				if !obj.IsContainer {
					c.p.remember(obj.ID, filepath.Join(dir.Path, obj.Name))
				}
				if !yield(obj, nil) {
					return
				}
			}

			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Object{}, fmt.Errorf("list %s: %w", dir.Path, err))
				return
			}
		}
	}
}

// locate finds the current path of objectID inside dir.
func (c *localConn) locate(objectID, dir string) (string, error) {
	if full, ok := c.p.lookup(objectID); ok && filepath.Dir(full) == dir {
		if info, err := os.Lstat(full); err == nil {
			if id, ok := statIdentity(info); ok && id == objectID {
				return full, nil
			}
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if id, ok := statIdentity(info); ok && id == objectID {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("object %s in %s: %w", objectID, dir, ErrNotFound)
}

func (c *localConn) Reparent(ctx context.Context, objectID, oldParentID, newParentID string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	src, err := c.locate(objectID, oldParentID)
	if err != nil {
		return Object{}, err
	}
	dst := filepath.Join(newParentID, filepath.Base(src))

	// os.Rename silently replaces an existing file.
	if _, err := os.Lstat(dst); err == nil {
		return Object{}, fmt.Errorf("move %s: %s: %w", src, dst, ErrAlreadyExists)
	}
	if err := os.Rename(src, dst); err != nil {
		return Object{}, fmt.Errorf("move %s: %w", src, err)
	}

	info, err := os.Lstat(dst)
	if err != nil {
		return Object{}, fmt.Errorf("stat %s after move: %w", dst, err)
	}
	obj, ok := localObject(newParentID, info, true)
	if !ok {
		return Object{}, fmt.Errorf("stat %s after move: not a regular file", dst)
	}
	c.p.remember(obj.ID, dst)
	return obj, nil
}

func (c *localConn) Close() error { return nil }
