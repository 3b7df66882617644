package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/gorelocate/provider"
)

// stubConn overrides container resolution on top of a memory connection.
type stubConn struct {
	provider.Conn
	resolveErr error
	createErr  error
	resolves   int
}

func (s *stubConn) ResolveContainer(ctx context.Context, path string) (provider.Container, error) {
	s.resolves++
	if s.resolveErr != nil && s.resolves == 1 {
		return provider.Container{}, s.resolveErr
	}
	return s.Conn.ResolveContainer(ctx, path)
}

func (s *stubConn) CreateContainer(ctx context.Context, path string) (provider.Container, error) {
	if s.createErr != nil {
		return provider.Container{}, s.createErr
	}
	return s.Conn.CreateContainer(ctx, path)
}

func TestResolveTarget(t *testing.T) {
	ctx := context.Background()
	p := provider.NewMemoryProvider()
	existing := p.AddContainer("archive")
	conn, err := p.Open(ctx)
	require.NoError(t, err)
	defer conn.Close()

	t.Run("empty path selects root", func(t *testing.T) {
		c, err := ResolveTarget(ctx, conn, p.Root(), "")
		require.NoError(t, err)
		assert.Equal(t, p.Root(), c)
	})

	t.Run("existing container", func(t *testing.T) {
		c, err := ResolveTarget(ctx, conn, p.Root(), "/archive")
		require.NoError(t, err)
		assert.Equal(t, existing.ID, c.ID)
	})

	t.Run("missing container is created", func(t *testing.T) {
		c, err := ResolveTarget(ctx, conn, p.Root(), "/backup/2024")
		require.NoError(t, err)
		path, ok := p.ContainerPath(c.ID)
		require.True(t, ok)
		assert.Equal(t, "backup/2024", path)
	})
}

func TestResolveTarget_Errors(t *testing.T) {
	ctx := context.Background()
	p := provider.NewMemoryProvider()
	base, _ := p.Open(ctx)
	defer base.Close()

	t.Run("resolution failure", func(t *testing.T) {
		conn := &stubConn{Conn: base, resolveErr: errors.New("permission denied")}
		_, err := ResolveTarget(ctx, conn, p.Root(), "/archive")
		require.Error(t, err)
		assert.True(t, IsConfigError(err))
		assert.Contains(t, err.Error(), "permission denied")
	})

	t.Run("creation failure", func(t *testing.T) {
		conn := &stubConn{Conn: base, createErr: errors.New("quota exceeded")}
		_, err := ResolveTarget(ctx, conn, p.Root(), "/new")
		require.Error(t, err)
		assert.True(t, IsConfigError(err))
	})

	t.Run("concurrent creation resolves again", func(t *testing.T) {
		p.AddContainer("race")
		conn := &stubConn{
			Conn:       base,
			resolveErr: provider.ErrNotFound,
			createErr:  provider.ErrAlreadyExists,
		}
		c, err := ResolveTarget(ctx, conn, p.Root(), "/race")
		require.NoError(t, err)
		assert.Equal(t, "race", c.Path)
		assert.Equal(t, 2, conn.resolves)
	})
}

func TestResolveOrCreateSub(t *testing.T) {
	ctx := context.Background()
	p := provider.NewMemoryProvider()
	target := p.AddContainer("archive")
	conn, _ := p.Open(ctx)
	defer conn.Close()

	first, err := resolveOrCreateSub(ctx, conn, target, "A")
	require.NoError(t, err)
	second, err := resolveOrCreateSub(ctx, conn, target, "A")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "archive/A", first.Path)
}
