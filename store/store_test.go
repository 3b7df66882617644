package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestBoltStore_SaveAndGetRun(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	store, err := NewBoltStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create BoltStore: %v", err)
	}
	defer store.Close()

	// Initial run
	run := &RunRecord{
		ID:        "run-123",
		Source:    "/data",
		Target:    "/archive",
		State:     StateStreaming,
		Workers:   4,
		StartedAt: time.Now().UTC(),
	}

	err = store.SaveRun(run)
	if err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	// Retrieve run
	retrieved, err := store.GetRun("run-123")
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}

	if retrieved.ID != run.ID {
		t.Errorf("Expected run ID %s, got %s", run.ID, retrieved.ID)
	}
	if retrieved.State != run.State {
		t.Errorf("Expected run State %s, got %s", run.State, retrieved.State)
	}

	// Update run state
	run.State = StateFailed
	run.Moved = 12
	run.Error = "boom"
	err = store.SaveRun(run)
	if err != nil {
		t.Fatalf("Failed to update run: %v", err)
	}

	retrieved, err = store.GetRun("run-123")
	if err != nil {
		t.Fatalf("Failed to get updated run: %v", err)
	}

	if retrieved.State != StateFailed || !retrieved.State.Terminal() {
		t.Errorf("Expected updated run State %s, got %s", StateFailed, retrieved.State)
	}
	if retrieved.Moved != 12 || retrieved.Error != "boom" {
		t.Errorf("Unexpected counters: %+v", retrieved)
	}

	// Non-existent run
	_, err = store.GetRun("non-existent")
	if err != ErrRunNotFound {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestBoltStore_Moves(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "moves.db"))
	if err != nil {
		t.Fatalf("Failed to create BoltStore: %v", err)
	}
	defer store.Close()

	for _, name := range []string{"x", "y", "z"} {
		err := store.AppendMove("run-1", &MoveRecord{ObjectID: "id-" + name, Name: name, OldParent: "a", NewParent: "b"})
		if err != nil {
			t.Fatalf("Failed to append move: %v", err)
		}
	}
	if err := store.AppendMove("run-2", &MoveRecord{ObjectID: "other"}); err != nil {
		t.Fatalf("Failed to append move: %v", err)
	}

	moves, err := store.Moves("run-1")
	if err != nil {
		t.Fatalf("Failed to list moves: %v", err)
	}
	if len(moves) != 3 {
		t.Fatalf("Expected 3 moves, got %d", len(moves))
	}
	for i, name := range []string{"x", "y", "z"} {
		if moves[i].Name != name {
			t.Errorf("Expected move %d to be %s, got %s", i, name, moves[i].Name)
		}
	}

	none, err := store.Moves("unknown")
	if err != nil || len(none) != 0 {
		t.Errorf("Expected no moves for unknown run, got %v, %v", none, err)
	}
}

func TestBoltStore_ConcurrentMoves(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "concurrent.db"))
	if err != nil {
		t.Fatalf("Failed to create BoltStore: %v", err)
	}
	defer store.Close()

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				errs <- store.AppendMove("run-1", &MoveRecord{ObjectID: fmt.Sprintf("w%d-%d", w, i)})
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Failed to append move: %v", err)
		}
	}

	moves, err := store.Moves("run-1")
	if err != nil {
		t.Fatalf("Failed to list moves: %v", err)
	}
	seen := make(map[string]bool, len(moves))
	for _, m := range moves {
		seen[m.ObjectID] = true
	}
	if len(moves) != workers*perWorker || len(seen) != workers*perWorker {
		t.Errorf("Expected %d distinct moves, got %d (%d distinct)", workers*perWorker, len(moves), len(seen))
	}
}

func TestBoltStore_Close(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test_close.db")

	store, err := NewBoltStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create BoltStore: %v", err)
	}

	err = store.Close()
	if err != nil {
		t.Errorf("Failed to close BoltStore: %v", err)
	}

	// Try to get a run on closed store
	_, err = store.GetRun("run-123")
	if err == nil {
		t.Error("Expected error when accessing closed store, got nil")
	}
}
