package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	// ErrRunNotFound is returned when a run is not found in the journal.
	ErrRunNotFound = errors.New("run not found")
)

var (
	runsBucket  = []byte("runs")
	movesBucket = []byte("moves")
)

// RunState represents the phase a relocation run is in.
type RunState string

const (
	StateInit            RunState = "Init"
	StateResolvingTarget RunState = "ResolvingTarget"
	StateStreaming       RunState = "Streaming"
	StateDraining        RunState = "Draining"
	StateSucceeded       RunState = "Succeeded"
	StateFailed          RunState = "Failed"
)

// Terminal reports whether no further transition can follow s.
func (s RunState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// RunRecord is the journal entry of one relocation run.
type RunRecord struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	State      RunState  `json:"state"`
	Workers    int       `json:"workers"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Enumerated int64     `json:"enumerated"`
	Moved      int64     `json:"moved"`
	Skipped    int64     `json:"skipped"`
	Error      string    `json:"error,omitempty"`
}

// MoveRecord is one applied reparent operation.
type MoveRecord struct {
	ObjectID  string    `json:"object_id"`
	Name      string    `json:"name"`
	OldParent string    `json:"old_parent"`
	NewParent string    `json:"new_parent"`
	MovedAt   time.Time `json:"moved_at"`
}

// Store is an append-mostly audit journal of runs and the moves they applied.
// It is never consulted to resume a run.
type Store interface {
	SaveRun(run *RunRecord) error
	GetRun(id string) (*RunRecord, error)
	AppendMove(runID string, move *MoveRecord) error
	Moves(runID string) ([]MoveRecord, error)
	Close() error
}

// BoltStore is a Store implementation backed by bbolt.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates a new BoltStore at the given path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(runsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(movesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// SaveRun saves a run record, replacing any previous version.
func (s *BoltStore) SaveRun(run *RunRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}

		if err := tx.Bucket(runsBucket).Put([]byte(run.ID), data); err != nil {
			return fmt.Errorf("failed to put run: %w", err)
		}
		return nil
	})
}

// GetRun retrieves a run record.
func (s *BoltStore) GetRun(id string) (*RunRecord, error) {
	var run RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(runsBucket).Get([]byte(id))
		if data == nil {
			return ErrRunNotFound
		}

		if err := json.Unmarshal(data, &run); err != nil {
			return fmt.Errorf("failed to unmarshal run: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return &run, nil
}

// AppendMove adds a move to the run's journal, keyed by a per-run sequence.
// Concurrent callers are coalesced into shared write transactions.
func (s *BoltStore) AppendMove(runID string, move *MoveRecord) error {
	data, err := json.Marshal(move)
	if err != nil {
		return fmt.Errorf("failed to marshal move: %w", err)
	}

	return s.db.Batch(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(movesBucket).CreateBucketIfNotExists([]byte(runID))
		if err != nil {
			return fmt.Errorf("failed to create moves bucket for run %s: %w", runID, err)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

// Moves returns the moves of a run in the order they were appended.
func (s *BoltStore) Moves(runID string) ([]MoveRecord, error) {
	var moves []MoveRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(movesBucket).Bucket([]byte(runID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var m MoveRecord
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("failed to unmarshal move: %w", err)
			}
			moves = append(moves, m)
			return nil
		})
	})
	return moves, err
}

// Close closes the underlying store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
