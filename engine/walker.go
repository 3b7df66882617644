package engine

import (
	"context"
	"fmt"
	"iter"

	"github.com/franksops/gorelocate/provider"
)

// RelocationFields is the attribute subset the workers need to place an object.
var RelocationFields = []provider.Field{
	provider.FieldID,
	provider.FieldName,
	provider.FieldParents,
	provider.FieldType,
	provider.FieldProperties,
}

// Walker enumerates the leaf objects below a source container.
// It walks iteratively to avoid deep recursion on very deep trees, and it
// never mutates anything. A target inside the source is listed like any
// other container; its objects are skipped or re-placed by the workers.
type Walker struct {
	conn provider.Conn
	root provider.Container
}

// NewWalker creates a walker over root using conn for listings.
func NewWalker(conn provider.Conn, root provider.Container) *Walker {
	return &Walker{conn: conn, root: root}
}

// Objects returns a lazy, single-use sequence of leaf objects.
// Containers are descended into but never yielded. Order follows the
// backend listing and is not guaranteed.
func (w *Walker) Objects(ctx context.Context) iter.Seq2[provider.Object, error] {
	return func(yield func(provider.Object, error) bool) {
		stack := []provider.Container{w.root}

		for len(stack) > 0 {
			// Check for cancellation
			if err := ctx.Err(); err != nil {
				yield(provider.Object{}, err)
				return
			}

			// Pop item
			curr := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			for obj, err := range w.conn.ListChildren(ctx, curr, RelocationFields) {
				if err != nil {
					yield(provider.Object{}, fmt.Errorf("failed to list container %s: %w", curr.Path, err))
					return
				}

				if obj.IsContainer {
					// Push sub-container onto stack to process later
					stack = append(stack, provider.Container{
						ID:   obj.ID,
						Path: provider.JoinPath(curr.Path, obj.Name),
					})
					continue
				}

				if !yield(obj, nil) {
					return
				}
			}
		}
	}
}
