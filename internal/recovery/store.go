package recovery

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoSnapshot is returned by SnapshotStore.Get when the slot is empty.
var ErrNoSnapshot = errors.New("no session snapshot")

// Snapshot is one encoded session in the single global slot.
type Snapshot struct {
	SessionID string
	Phase     string
	Payload   []byte
	UpdatedAt time.Time
}

// SnapshotStore holds at most one snapshot. Put replaces it.
type SnapshotStore interface {
	Put(ctx context.Context, s Snapshot) error
	Get(ctx context.Context) (Snapshot, error)
	Delete(ctx context.Context) error
}

// MemoryStore is a SnapshotStore for tests and ephemeral runs.
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
	puts int
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Put(ctx context.Context, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Payload = append([]byte(nil), s.Payload...)
	m.snap = &s
	m.puts++
	return nil
}

func (m *MemoryStore) Get(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return Snapshot{}, ErrNoSnapshot
	}
	s := *m.snap
	s.Payload = append([]byte(nil), s.Payload...)
	return s, nil
}

func (m *MemoryStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	return nil
}

// Puts counts writes, for tests asserting persistence happened.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}
