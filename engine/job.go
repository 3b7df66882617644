package engine

import (
	"github.com/franksops/gorelocate/provider"
)

// WorkItem carries one object from the enumerator to a worker.
// The zero Object with stop set is the "no more work" marker.
type WorkItem struct {
	// Object is the leaf to relocate.
	Object provider.Object

	stop bool
}

// StopItem returns the sentinel that tells a worker to exit.
func StopItem() WorkItem {
	return WorkItem{stop: true}
}

// IsStop reports whether the item is the stop sentinel.
func (w WorkItem) IsStop() bool {
	return w.stop
}
