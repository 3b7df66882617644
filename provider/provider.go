package provider

import (
	"context"
	"errors"
	"iter"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when a container or object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a container that another
	// connection created first.
	ErrAlreadyExists = errors.New("already exists")
)

// Field names an attribute a listing should populate.
type Field string

const (
	FieldID         Field = "id"
	FieldName       Field = "name"
	FieldParents    Field = "parents"
	FieldType       Field = "type"
	FieldProperties Field = "properties"
)

// Object is a remote entity as reported by a backend listing.
// Only the parent list is ever changed, and only through Reparent.
type Object struct {
	ID          string
	Name        string
	Parents     []string
	IsContainer bool
	Properties  map[string]string
}

// PrimaryParent returns the first parent id, or "" for an orphan.
func (o Object) PrimaryParent() string {
	if len(o.Parents) == 0 {
		return ""
	}
	return o.Parents[0]
}

// Container identifies a folder-like remote entity and the path used to
// resolve or create it.
type Container struct {
	ID   string
	Path string
}

// Name returns the last element of the container path.
func (c Container) Name() string {
	p := strings.TrimSuffix(c.Path, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// Conn is a single backend session. A Conn is owned by one goroutine.
type Conn interface {
	// ResolveContainer returns the container at path, or ErrNotFound.
	ResolveContainer(ctx context.Context, path string) (Container, error)

	// CreateContainer creates the container at path, including missing parents.
	CreateContainer(ctx context.Context, path string) (Container, error)

	// LookupContainer returns the container with the given id.
	LookupContainer(ctx context.Context, id string) (Container, error)

	// ResolveSubContainer returns the direct child container called name, or ErrNotFound.
	ResolveSubContainer(ctx context.Context, parent Container, name string) (Container, error)

	// ListChildren lazily lists the direct children of c, containers included.
	ListChildren(ctx context.Context, c Container, fields []Field) iter.Seq2[Object, error]

	// Reparent moves an object from oldParentID to newParentID and returns
	// the object as it looks after the move.
	Reparent(ctx context.Context, objectID, oldParentID, newParentID string) (Object, error)

	Close() error
}

// Provider represents a storage backend abstraction.
// A typical Provider might be an object store, a local tree or an in-memory fake.
type Provider interface {
	// Root returns the container the provider was configured with.
	Root() Container

	// Open starts a new session.
	Open(ctx context.Context) (Conn, error)
}

// JoinPath joins container path elements with "/".
func JoinPath(elem ...string) string {
	p := path.Join(elem...)
	if p == "." {
		return ""
	}
	return p
}
