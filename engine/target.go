package engine

import (
	"context"
	"errors"

	"github.com/franksops/gorelocate/provider"
)

// ResolveTarget returns the container every object is relocated into.
// An empty path selects root. A missing container is created; any other
// resolution failure, or a failed creation, is returned as a ConfigError.
func ResolveTarget(ctx context.Context, conn provider.Conn, root provider.Container, path string) (provider.Container, error) {
	if path == "" {
		return root, nil
	}

	c, err := conn.ResolveContainer(ctx, path)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, provider.ErrNotFound) {
		return provider.Container{}, &ConfigError{Op: "resolve target " + path, Err: err}
	}

	c, err = conn.CreateContainer(ctx, path)
	if errors.Is(err, provider.ErrAlreadyExists) {
		c, err = conn.ResolveContainer(ctx, path)
	}
	if err != nil {
		return provider.Container{}, &ConfigError{Op: "create target " + path, Err: err}
	}
	return c, nil
}

// resolveOrCreateSub returns the sub-container called name under parent,
// creating it when missing. Another worker may create it concurrently, in
// which case the backend reports ErrAlreadyExists and the lookup is retried.
func resolveOrCreateSub(ctx context.Context, conn provider.Conn, parent provider.Container, name string) (provider.Container, error) {
	c, err := conn.ResolveSubContainer(ctx, parent, name)
	if err == nil || !errors.Is(err, provider.ErrNotFound) {
		return c, err
	}

	c, err = conn.CreateContainer(ctx, provider.JoinPath(parent.Path, name))
	if errors.Is(err, provider.ErrAlreadyExists) {
		return conn.ResolveSubContainer(ctx, parent, name)
	}
	return c, err
}
