// Package recovery saves the live session after every transition and
// decides, at startup, whether a saved session is resumed or unwound.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zkbattle/internal/codec"
	"zkbattle/internal/game"
	"zkbattle/internal/ledger"
)

// Outcome describes what Resume did with the saved slot.
type Outcome string

const (
	OutcomeFresh     Outcome = "fresh"
	OutcomeRestored  Outcome = "restored"
	OutcomeRefunded  Outcome = "refunded"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeCorrupt   Outcome = "corrupt"
)

// Ledger is the part of ledger.Book recovery needs.
type Ledger interface {
	Refund(ctx context.Context, key, sessionID string) (ledger.Transaction, bool, error)
	Account(ctx context.Context, key string) (ledger.Account, error)
}

type Manager struct {
	store   SnapshotStore
	ledger  Ledger
	account string
	now     func() time.Time
	log     *slog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

func NewManager(store SnapshotStore, l Ledger, account string, opts ...Option) *Manager {
	m := &Manager{store: store, ledger: l, account: account, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Save persists s, or clears the slot once the session has ended.
func (m *Manager) Save(ctx context.Context, s game.State) error {
	if s.SessionID == "" {
		return nil
	}
	if s.Phase == game.PhaseEnded {
		return m.store.Delete(ctx)
	}
	b, err := codec.Encode(s, m.now())
	if err != nil {
		return err
	}
	return m.store.Put(ctx, Snapshot{
		SessionID: s.SessionID,
		Phase:     s.Phase.String(),
		Payload:   b,
		UpdatedAt: m.now(),
	})
}

// Resume loads the saved session. A battle comes back as saved. Anything
// earlier is unwound: its stake, if any, is refunded and the slot cleared.
// A corrupt snapshot is treated the same way and yields a fresh session.
func (m *Manager) Resume(ctx context.Context) (game.State, Outcome, error) {
	snap, err := m.store.Get(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return game.New(), OutcomeFresh, nil
	}
	if err != nil {
		return game.State{}, "", fmt.Errorf("load snapshot: %w", err)
	}

	s, _, err := codec.Decode(snap.Payload)
	if err != nil {
		m.log.WarnContext(ctx, "discarding corrupt snapshot", "session_id", snap.SessionID, "err", err)
		if snap.SessionID != "" {
			if _, rerr := m.refund(ctx, snap.SessionID); rerr != nil {
				return game.State{}, "", rerr
			}
		}
		if err := m.store.Delete(ctx); err != nil {
			return game.State{}, "", err
		}
		return game.New(), OutcomeCorrupt, nil
	}

	if s.Phase == game.PhaseBattle {
		a, err := m.ledger.Account(ctx, m.account)
		if err != nil {
			return game.State{}, "", fmt.Errorf("load account: %w", err)
		}
		if tx, ok := a.Settlement(s.SessionID); ok && tx.Type == ledger.TxRefund {
			m.log.InfoContext(ctx, "saved battle was already refunded", "session_id", s.SessionID)
			if err := m.store.Delete(ctx); err != nil {
				return game.State{}, "", err
			}
			return game.New(), OutcomeDiscarded, nil
		}
		m.log.InfoContext(ctx, "session restored", "session_id", s.SessionID, "stage", s.Proof.Stage, "turn", s.Turn)
		return s, OutcomeRestored, nil
	}

	out := OutcomeDiscarded
	if s.Active() {
		refunded, err := m.refund(ctx, s.SessionID)
		if err != nil {
			return game.State{}, "", err
		}
		if refunded {
			out = OutcomeRefunded
		}
	}
	if err := m.store.Delete(ctx); err != nil {
		return game.State{}, "", err
	}
	m.log.InfoContext(ctx, "pre-battle session unwound", "session_id", s.SessionID, "phase", s.Phase, "outcome", out)
	return game.New(), out, nil
}

// Abort refunds s and clears the slot. The refund lands before the slot is
// cleared so a crash in between is repaired by Resume.
func (m *Manager) Abort(ctx context.Context, s game.State) (bool, error) {
	if !s.Active() {
		return false, nil
	}
	refunded, err := m.refund(ctx, s.SessionID)
	if err != nil {
		return false, err
	}
	return refunded, m.store.Delete(ctx)
}

// refund reports whether the stake is (now or already) returned. A session
// that never staked, or that settled otherwise, is left alone.
func (m *Manager) refund(ctx context.Context, sessionID string) (bool, error) {
	tx, applied, err := m.ledger.Refund(ctx, m.account, sessionID)
	switch {
	case errors.Is(err, ledger.ErrNoStake):
		return false, nil
	case errors.Is(err, ledger.ErrAlreadySettled):
		m.log.WarnContext(ctx, "refund skipped, stake already settled", "session_id", sessionID, "err", err)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("refund %s: %w", sessionID, err)
	}
	if applied {
		m.log.InfoContext(ctx, "stake refunded", "session_id", sessionID, "amount", tx.Amount)
	}
	return true, nil
}
