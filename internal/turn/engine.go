// Package turn applies verified shots, plays the opponent's reply and
// settles the stake when a side is hit.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"zkbattle/internal/game"
	"zkbattle/internal/ledger"
	"zkbattle/internal/notify"
	"zkbattle/internal/session"
)

// Dispatcher is the session store as seen by the engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, a game.Action) (game.State, error)
	State() game.State
}

// Settler is the part of ledger.Book the engine settles through.
type Settler interface {
	Win(ctx context.Context, key, sessionID string) (ledger.Transaction, bool, error)
	Loss(ctx context.Context, key, sessionID string) (ledger.Transaction, bool, error)
	Account(ctx context.Context, key string) (ledger.Account, error)
}

// Picker chooses the opponent's target among the player's unresolved cells.
type Picker interface {
	Pick(s game.State) (int, bool)
}

// RandomPicker picks uniformly at random.
type RandomPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomPicker(rng *rand.Rand) *RandomPicker {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomPicker{rng: rng}
}

func (p *RandomPicker) Pick(s game.State) (int, bool) {
	cells := s.PlayerGrid.Unresolved()
	if len(cells) == 0 {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return cells[p.rng.IntN(len(cells))], true
}

type Engine struct {
	sessions   Dispatcher
	ledger     Settler
	account    string
	picker     Picker
	alerts     notify.Alerter
	lowBalance int64
	log        *slog.Logger
}

type Option func(*Engine)

func WithPicker(p Picker) Option { return func(e *Engine) { e.picker = p } }

func WithAlerter(a notify.Alerter) Option { return func(e *Engine) { e.alerts = a } }

// WithLowBalance sets the balance under which a low-balance alert follows
// each settlement.
func WithLowBalance(v int64) Option { return func(e *Engine) { e.lowBalance = v } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func New(sessions Dispatcher, l Settler, account string, opts ...Option) *Engine {
	e := &Engine{
		sessions: sessions,
		ledger:   l,
		account:  account,
		picker:   NewRandomPicker(nil),
		alerts:   notify.Log{},
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Resolve applies the verified shot. A hit is credited to the ledger before
// it is applied, so a crash in between is resumed by resolving again. A miss
// hands the turn to the opponent, whose reply is played immediately.
func (e *Engine) Resolve(ctx context.Context) error {
	s := e.sessions.State()
	if s.Phase != game.PhaseBattle || s.Proof.Stage != game.StageVerificationSuccess {
		return game.Errorf(game.CodePipelineOrder, "nothing to resolve at %s", s.Proof.Stage)
	}
	target := s.Proof.Target
	if s.Proof.Hit {
		if _, _, err := e.ledger.Win(ctx, e.account, s.SessionID); err != nil {
			return fmt.Errorf("credit win: %w", err)
		}
	}
	// A save error leaves the transition applied in memory; it is reported
	// once the shot has been played out.
	next, err := e.sessions.Dispatch(ctx, game.ApplyShot{Target: target})
	if session.Rejected(err) {
		return err
	}
	if next.Phase == game.PhaseEnded {
		e.log.InfoContext(ctx, "session won", "session_id", s.SessionID, "target", game.CellName(target))
		e.alerts.Alert(ctx, notify.Win, s.SessionID, game.CellName(target)+" hit")
		e.checkBalance(ctx, s.SessionID)
		return err
	}
	if next.Turn == game.SideOpponent {
		return errors.Join(err, e.OpponentTurn(ctx))
	}
	return err
}

// OpponentTurn plays the opponent's shot. If a loss is already on record
// for the session the shot replays the hit that caused it.
func (e *Engine) OpponentTurn(ctx context.Context) error {
	s := e.sessions.State()
	if s.Phase != game.PhaseBattle || s.Turn != game.SideOpponent {
		return game.Errorf(game.CodeValidation, "opponent does not hold the turn")
	}

	a, err := e.ledger.Account(ctx, e.account)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	var target int
	if tx, ok := a.Settlement(s.SessionID); ok && tx.Type == ledger.TxLoss {
		target = s.PlayerUnit
	} else {
		var ok bool
		if target, ok = e.picker.Pick(s); !ok {
			return game.Errorf(game.CodeValidation, "opponent has no cell left to target")
		}
	}
	hit := target == s.PlayerUnit

	e.alerts.Alert(ctx, notify.EnemyAttack, s.SessionID, game.CellName(target))
	if hit {
		if _, _, err := e.ledger.Loss(ctx, e.account, s.SessionID); err != nil {
			return fmt.Errorf("record loss: %w", err)
		}
	}
	next, err := e.sessions.Dispatch(ctx, game.OpponentShot{Target: target})
	if session.Rejected(err) {
		return err
	}
	if next.Phase == game.PhaseEnded {
		e.log.InfoContext(ctx, "session lost", "session_id", s.SessionID, "target", game.CellName(target))
		e.alerts.Alert(ctx, notify.Loss, s.SessionID, game.CellName(target)+" hit")
		e.checkBalance(ctx, s.SessionID)
	}
	return err
}

// Recover finishes whatever a restored battle was doing when the process
// stopped: an in-flight stage fails as interrupted, a verified shot is
// resolved and a pending opponent reply is played.
func (e *Engine) Recover(ctx context.Context) error {
	s := e.sessions.State()
	if s.Phase != game.PhaseBattle {
		return nil
	}
	var saveErr error
	if st := s.Proof.Stage; st.InFlight() {
		e.log.WarnContext(ctx, "failing interrupted proof", "session_id", s.SessionID, "stage", st)
		var err error
		s, err = e.sessions.Dispatch(ctx, game.StageFailed{Stage: st, Target: s.Proof.Target, Reason: "interrupted", At: time.Now()})
		if session.Rejected(err) {
			return err
		}
		saveErr = err
	}
	switch {
	case s.Proof.Stage == game.StageVerificationSuccess && !s.OpponentGrid.Resolved(s.Proof.Target):
		return errors.Join(saveErr, e.Resolve(ctx))
	case s.Turn == game.SideOpponent:
		return errors.Join(saveErr, e.OpponentTurn(ctx))
	}
	return saveErr
}

func (e *Engine) checkBalance(ctx context.Context, sessionID string) {
	if e.lowBalance <= 0 {
		return
	}
	a, err := e.ledger.Account(ctx, e.account)
	if err != nil {
		e.log.WarnContext(ctx, "balance check", "err", err)
		return
	}
	if a.Balance < e.lowBalance {
		e.alerts.Alert(ctx, notify.LowBalance, sessionID, fmt.Sprintf("balance %d", a.Balance))
	}
}
