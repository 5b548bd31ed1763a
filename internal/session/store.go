// Package session owns the single live game.State of the process. All
// transitions go through Store.Dispatch, which serialises them, runs the
// reducer and persists the result.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"zkbattle/internal/game"
)

var ErrClosed = errors.New("session store is closed")

// Persister saves a state after each applied transition.
type Persister interface {
	Save(ctx context.Context, s game.State) error
}

// Observer is told about every applied transition, after it was persisted,
// in Seq order. It must not dispatch.
type Observer interface {
	Observe(ctx context.Context, s game.State, entry game.LogEntry)
}

type Store struct {
	persist   Persister
	observers []Observer
	log       *slog.Logger

	mu    sync.Mutex
	state game.State
	open  bool

	// notifyMu is taken before mu is released so observers see
	// transitions in Seq order.
	notifyMu sync.Mutex
}

func NewStore(p Persister, log *slog.Logger, observers ...Observer) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{persist: p, observers: observers, log: log, state: game.New()}
}

// Open binds the store to s, typically the state returned by recovery.
func (st *Store) Open(s game.State) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state = s
	st.open = true
}

// Close saves the current state one last time and refuses further dispatch.
func (st *Store) Close(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.open {
		return nil
	}
	st.open = false
	return st.persist.Save(ctx, st.state)
}

func (st *Store) State() game.State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Dispatch applies a. A rejected action leaves the state as it was and
// returns the coded reason (game.ErrValidation or game.ErrPipelineOrder).
// A persistence failure is returned after the in-memory state advanced.
func (st *Store) Dispatch(ctx context.Context, a game.Action) (game.State, error) {
	st.mu.Lock()
	if !st.open {
		st.mu.Unlock()
		return game.State{}, ErrClosed
	}
	prev := st.state
	next := game.Reduce(prev, a)
	if next.Seq == prev.Seq {
		st.mu.Unlock()
		reason := game.Check(prev, a)
		st.log.DebugContext(ctx, "action ignored", "session_id", prev.SessionID, "action", fmt.Sprintf("%T", a), "reason", reason)
		return prev, reason
	}
	st.state = next
	err := st.persist.Save(ctx, next)
	st.notifyMu.Lock()
	st.mu.Unlock()
	defer st.notifyMu.Unlock()

	entry := next.Log.Recent()
	last := entry[len(entry)-1]
	if err != nil {
		st.log.ErrorContext(ctx, "persist session", "session_id", next.SessionID, "seq", next.Seq, "err", err)
		err = fmt.Errorf("persist seq %d: %w", next.Seq, err)
	}
	for _, o := range st.observers {
		o.Observe(ctx, next, last)
	}
	return next, err
}

// Rejected reports whether err is a no-op rejection rather than a failure.
func Rejected(err error) bool {
	return errors.Is(err, game.ErrValidation) || errors.Is(err, game.ErrPipelineOrder)
}
