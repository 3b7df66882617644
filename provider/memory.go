package provider

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ensure interface is implemented
var _ Provider = (*MemoryProvider)(nil)

const defaultMemoryPageSize = 100

type memNode struct {
	obj      Object
	path     string
	children []string
}

// MemoryProvider is an in-process container tree with the same parent-list
// model as a drive-style object store. It is safe for concurrent use and is
// mostly useful for dry runs and tests.
type MemoryProvider struct {
	mu     sync.Mutex
	nodes  map[string]*memNode
	byPath map[string]string
	rootID string

	// PageSize bounds how many children a single listing page returns.
	PageSize int

	// BeforeReparent, if set, runs before every move; a non-nil error fails the move.
	BeforeReparent func(obj Object) error

	// RewriteID, if set, replaces the identity reported after a move.
	RewriteID func(id string) string

	opens     atomic.Int64
	closes    atomic.Int64
	reparents atomic.Int64
}

// NewMemoryProvider creates an empty tree with a root container at path "".
func NewMemoryProvider() *MemoryProvider {
	p := &MemoryProvider{
		nodes:    make(map[string]*memNode),
		byPath:   make(map[string]string),
		PageSize: defaultMemoryPageSize,
	}
	p.rootID = p.addContainerLocked("", "", "")
	return p
}

func cleanMemPath(p string) string {
	return strings.Trim(JoinPath("/", p), "/")
}

func (p *MemoryProvider) addContainerLocked(parentID, name, pth string) string {
	id := uuid.NewString()
	var parents []string
	if parentID != "" {
		parents = []string{parentID}
		p.nodes[parentID].children = append(p.nodes[parentID].children, id)
	}
	p.nodes[id] = &memNode{
		obj:  Object{ID: id, Name: name, Parents: parents, IsContainer: true},
		path: pth,
	}
	p.byPath[pth] = id
	return id
}

func (p *MemoryProvider) mkdirAllLocked(pth string) string {
	pth = cleanMemPath(pth)
	if id, ok := p.byPath[pth]; ok {
		return id
	}
	parentID := p.rootID
	cur := ""
	for _, seg := range strings.Split(pth, "/") {
		cur = JoinPath(cur, seg)
		id, ok := p.byPath[cur]
		if !ok {
			id = p.addContainerLocked(parentID, seg, cur)
		}
		parentID = id
	}
	return parentID
}

// Root returns the root container.
func (p *MemoryProvider) Root() Container {
	return Container{ID: p.rootID, Path: ""}
}

// Open returns a new connection. Opening never fails.
func (p *MemoryProvider) Open(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.opens.Add(1)
	return &memConn{p: p}, nil
}

// AddContainer creates the container at pth and any missing parents.
func (p *MemoryProvider) AddContainer(pth string) Container {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.mkdirAllLocked(pth)
	return Container{ID: id, Path: p.nodes[id].path}
}

// AddObject creates a leaf object called name inside the container at dir.
func (p *MemoryProvider) AddObject(dir, name string, props map[string]string) Object {
	p.mu.Lock()
	defer p.mu.Unlock()
	parentID := p.mkdirAllLocked(dir)
	id := uuid.NewString()
	obj := Object{ID: id, Name: name, Parents: []string{parentID}, Properties: props}
	p.nodes[id] = &memNode{obj: obj}
	p.nodes[parentID].children = append(p.nodes[parentID].children, id)
	return cloneObject(obj)
}

// Object returns the current state of the object with the given id.
func (p *MemoryProvider) Object(id string) (Object, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[id]
	if !ok {
		return Object{}, false
	}
	return cloneObject(n.obj), true
}

// ContainerPath returns the path of the container with the given id.
func (p *MemoryProvider) ContainerPath(id string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[id]
	if !ok || !n.obj.IsContainer {
		return "", false
	}
	return n.path, true
}

// Reparents returns the number of moves applied so far.
func (p *MemoryProvider) Reparents() int64 { return p.reparents.Load() }

// OpenConns returns the number of connections opened and not yet closed.
func (p *MemoryProvider) OpenConns() int64 { return p.opens.Load() - p.closes.Load() }

func cloneObject(o Object) Object {
	o.Parents = slices.Clone(o.Parents)
	if o.Properties != nil {
		props := make(map[string]string, len(o.Properties))
		for k, v := range o.Properties {
			props[k] = v
		}
		o.Properties = props
	}
	return o
}

type memConn struct {
	p      *MemoryProvider
	closed atomic.Bool
}

func (c *memConn) check(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("memory: connection closed")
	}
	return ctx.Err()
}

func (c *memConn) ResolveContainer(ctx context.Context, pth string) (Container, error) {
	if err := c.check(ctx); err != nil {
		return Container{}, err
	}
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	pth = cleanMemPath(pth)
	id, ok := c.p.byPath[pth]
	if !ok {
		return Container{}, fmt.Errorf("container %q: %w", pth, ErrNotFound)
	}
	return Container{ID: id, Path: pth}, nil
}

func (c *memConn) CreateContainer(ctx context.Context, pth string) (Container, error) {
	if err := c.check(ctx); err != nil {
		return Container{}, err
	}
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	id := c.p.mkdirAllLocked(pth)
	return Container{ID: id, Path: c.p.nodes[id].path}, nil
}

func (c *memConn) LookupContainer(ctx context.Context, id string) (Container, error) {
	if err := c.check(ctx); err != nil {
		return Container{}, err
	}
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	n, ok := c.p.nodes[id]
	if !ok || !n.obj.IsContainer {
		return Container{}, fmt.Errorf("container id %s: %w", id, ErrNotFound)
	}
	return Container{ID: id, Path: n.path}, nil
}

func (c *memConn) ResolveSubContainer(ctx context.Context, parent Container, name string) (Container, error) {
	return c.ResolveContainer(ctx, JoinPath(parent.Path, name))
}

func (c *memConn) ListChildren(ctx context.Context, dir Container, fields []Field) iter.Seq2[Object, error] {
	withProps := slices.Contains(fields, FieldProperties)
	return func(yield func(Object, error) bool) {
		if err := c.check(ctx); err != nil {
			yield(Object{}, err)
			return
		}

		c.p.mu.Lock()
		n, ok := c.p.nodes[dir.ID]
		var ids []string
		if ok {
			ids = slices.Clone(n.children)
		}
		pageSize := c.p.PageSize
		c.p.mu.Unlock()

		if !ok {
			yield(Object{}, fmt.Errorf("list %q: %w", dir.Path, ErrNotFound))
			return
		}
		if pageSize <= 0 {
			pageSize = defaultMemoryPageSize
		}

		for start := 0; start < len(ids); start += pageSize {
			if err := c.check(ctx); err != nil {
				yield(Object{}, err)
				return
			}
			page := ids[start:min(start+pageSize, len(ids))]

			c.p.mu.Lock()
			objs := make([]Object, 0, len(page))
			for _, id := range page {
				child, ok := c.p.nodes[id]
				if !ok {
					continue
				}
				obj := cloneObject(child.obj)
				if !withProps {
					obj.Properties = nil
				}
				objs = append(objs, obj)
			}
			c.p.mu.Unlock()

			for _, obj := range objs {
				if !yield(obj, nil) {
					return
				}
			}
		}
	}
}

func (c *memConn) Reparent(ctx context.Context, objectID, oldParentID, newParentID string) (Object, error) {
	if err := c.check(ctx); err != nil {
		return Object{}, err
	}

	c.p.mu.Lock()
	n, ok := c.p.nodes[objectID]
	if !ok {
		c.p.mu.Unlock()
		return Object{}, fmt.Errorf("object %s: %w", objectID, ErrNotFound)
	}
	snapshot := cloneObject(n.obj)
	c.p.mu.Unlock()

	if hook := c.p.BeforeReparent; hook != nil {
		if err := hook(snapshot); err != nil {
			return Object{}, err
		}
	}

	c.p.mu.Lock()
	defer c.p.mu.Unlock()

	idx := slices.Index(n.obj.Parents, oldParentID)
	if idx < 0 {
		return Object{}, fmt.Errorf("object %s is not a child of %s", objectID, oldParentID)
	}
	newParent, ok := c.p.nodes[newParentID]
	if !ok || !newParent.obj.IsContainer {
		return Object{}, fmt.Errorf("target container %s: %w", newParentID, ErrNotFound)
	}
	if oldParent, ok := c.p.nodes[oldParentID]; ok {
		oldParent.children = slices.DeleteFunc(oldParent.children, func(id string) bool { return id == objectID })
	}
	newParent.children = append(newParent.children, objectID)
	n.obj.Parents[idx] = newParentID
	c.p.reparents.Add(1)

	out := cloneObject(n.obj)
	if c.p.RewriteID != nil {
		out.ID = c.p.RewriteID(out.ID)
	}
	return out, nil
}

func (c *memConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.p.closes.Add(1)
	}
	return nil
}
