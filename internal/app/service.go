// Package app wires the session store, proof pipeline, turn engine,
// ledger and recovery into the operations a command source drives.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"zkbattle/internal/command"
	"zkbattle/internal/game"
	"zkbattle/internal/identity"
	"zkbattle/internal/ledger"
	"zkbattle/internal/notify"
	"zkbattle/internal/pipeline"
	"zkbattle/internal/prover"
	"zkbattle/internal/recovery"
	"zkbattle/internal/session"
	"zkbattle/internal/turn"
)

var ErrNotOpen = errors.New("service not open")

// Settings are the per-process game parameters.
type Settings struct {
	Stake        int64
	Rules        game.Rules
	StageTimeout time.Duration
	LowBalance   int64
}

type Service struct {
	settings  Settings
	snapshots recovery.SnapshotStore
	book      *ledger.Book
	identity  identity.Provider
	prover    prover.Prover
	alerts    notify.Alerter
	picker    turn.Picker
	observers []session.Observer
	log       *slog.Logger

	guard pipeline.Guard

	mu       sync.RWMutex
	account  string
	recovery *recovery.Manager
	sessions *session.Store
	engine   *turn.Engine
	pipe     *pipeline.Orchestrator

	// opponentCell hides the opponent unit.
	opponentCell func() int
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func WithAlerter(a notify.Alerter) Option { return func(s *Service) { s.alerts = a } }

func WithPicker(p turn.Picker) Option { return func(s *Service) { s.picker = p } }

// WithObservers subscribes observers to every applied transition.
func WithObservers(o ...session.Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, o...) }
}

func New(settings Settings, snapshots recovery.SnapshotStore, accounts ledger.Store, p prover.Prover, id identity.Provider, opts ...Option) *Service {
	s := &Service{
		settings:  settings,
		snapshots: snapshots,
		identity:  id,
		prover:    p,
		alerts:    notify.Log{},
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.book = ledger.NewBook(accounts, ledger.WithLogger(s.log))
	rng := mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64()))
	var rngMu sync.Mutex
	s.opponentCell = func() int {
		rngMu.Lock()
		defer rngMu.Unlock()
		return game.RandomCell(rng)
	}
	return s
}

// Open bootstraps the account and resumes whatever the snapshot slot holds.
func (s *Service) Open(ctx context.Context) (recovery.Outcome, error) {
	id, err := s.identity.Identity(ctx)
	if err != nil {
		return "", fmt.Errorf("identity: %w", err)
	}
	acct, err := s.book.Bootstrap(ctx, id)
	if err != nil {
		return "", err
	}

	mgr := recovery.NewManager(s.snapshots, s.book, acct.Key, recovery.WithLogger(s.log))
	sessions := session.NewStore(mgr, s.log, s.observers...)
	engineOpts := []turn.Option{
		turn.WithAlerter(s.alerts),
		turn.WithLowBalance(s.settings.LowBalance),
		turn.WithLogger(s.log),
	}
	if s.picker != nil {
		engineOpts = append(engineOpts, turn.WithPicker(s.picker))
	}
	engine := turn.New(sessions, s.book, acct.Key, engineOpts...)
	pipe := pipeline.New(sessions, s.prover, &s.guard,
		pipeline.WithResolver(engine),
		pipeline.WithStageTimeout(s.settings.StageTimeout),
		pipeline.WithLogger(s.log),
	)

	st, out, err := mgr.Resume(ctx)
	if err != nil {
		return "", fmt.Errorf("resume: %w", err)
	}
	sessions.Open(st)

	s.mu.Lock()
	s.account, s.recovery, s.sessions, s.engine, s.pipe = acct.Key, mgr, sessions, engine, pipe
	s.mu.Unlock()

	switch out {
	case recovery.OutcomeRefunded:
		s.alerts.Alert(ctx, notify.Refund, "", "unfinished session refunded")
	case recovery.OutcomeRestored:
		if err := engine.Recover(ctx); err != nil {
			return out, fmt.Errorf("recover session: %w", err)
		}
	}
	s.log.InfoContext(ctx, "service open", "account", acct.Key, "balance", acct.Balance, "resume", out)
	return out, nil
}

// Close persists the live session.
func (s *Service) Close(ctx context.Context) error {
	sessions, err := s.store()
	if err != nil {
		return nil
	}
	return sessions.Close(ctx)
}

func (s *Service) store() (*session.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sessions == nil {
		return nil, ErrNotOpen
	}
	return s.sessions, nil
}

// State returns the live session, or a blank one before Open.
func (s *Service) State() game.State {
	sessions, err := s.store()
	if err != nil {
		return game.New()
	}
	return sessions.State()
}

func (s *Service) Account(ctx context.Context) (ledger.Account, error) {
	s.mu.RLock()
	key := s.account
	s.mu.RUnlock()
	if key == "" {
		return ledger.Account{}, ErrNotOpen
	}
	return s.book.Account(ctx, key)
}

// Busy reports whether a proof pipeline is running.
func (s *Service) Busy() bool { return s.guard.Held() }

// Start opens a new session and escrows stake (the configured stake when
// stake is zero). A session that is still live must be finished or aborted
// first.
func (s *Service) Start(ctx context.Context, stake int64) (game.State, error) {
	sessions, err := s.store()
	if err != nil {
		return game.State{}, err
	}
	if stake == 0 {
		stake = s.settings.Stake
	}
	cur := sessions.State()
	if cur.Active() {
		return cur, game.Errorf(game.CodeValidation, "session %s is still %s", cur.SessionID, cur.Phase)
	}
	if cur.SessionID != "" {
		sessions.Open(game.New())
	}

	id := uuid.NewString()
	st, err := sessions.Dispatch(ctx, game.StartSession{SessionID: id, Stake: stake, Rules: s.settings.Rules})
	if session.Rejected(err) {
		return st, err
	}
	saveErr := err
	if _, _, err := s.book.Stake(ctx, s.account, id, stake); err != nil {
		st, abortErr := sessions.Dispatch(ctx, game.Abort{})
		return st, errors.Join(fmt.Errorf("escrow stake: %w", err), saveErr, abortErr)
	}
	st, err = sessions.Dispatch(ctx, game.StakeEscrowed{})
	return st, errors.Join(saveErr, err)
}

// Place puts the player's unit on cell and hides the opponent's. It is a
// no-op while a proof pipeline runs.
func (s *Service) Place(ctx context.Context, cell int) (game.State, error) {
	sessions, err := s.store()
	if err != nil {
		return game.State{}, err
	}
	if !s.guard.TryAcquire() {
		return sessions.State(), nil
	}
	defer s.guard.Release()

	cur := sessions.State()
	if err := game.Check(cur, game.PlaceUnits{PlayerCell: cell}); err != nil {
		return cur, err
	}
	opp := s.opponentCell()
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return cur, fmt.Errorf("salt: %w", err)
	}
	var commitment string
	if c, ok := s.prover.(prover.Committer); ok {
		if commitment, err = c.Commit(ctx, opp, salt); err != nil {
			return cur, fmt.Errorf("commit opponent unit: %w", err)
		}
	}
	return sessions.Dispatch(ctx, game.PlaceUnits{
		PlayerCell:   cell,
		OpponentCell: opp,
		Commitment:   commitment,
		Salt:         salt,
	})
}

// Fire runs the proof pipeline against cell and resolves the outcome.
func (s *Service) Fire(ctx context.Context, cell int) (pipeline.Result, error) {
	s.mu.RLock()
	pipe := s.pipe
	s.mu.RUnlock()
	if pipe == nil {
		return pipeline.Result{}, ErrNotOpen
	}
	return pipe.Fire(ctx, cell)
}

// Abort ends the session and refunds its stake. It is refused while a
// proof pipeline runs.
func (s *Service) Abort(ctx context.Context) (game.State, error) {
	sessions, err := s.store()
	if err != nil {
		return game.State{}, err
	}
	if !s.guard.TryAcquire() {
		return sessions.State(), game.Errorf(game.CodeValidation, "cannot abort while a proof is in flight")
	}
	defer s.guard.Release()

	cur := sessions.State()
	if err := game.Check(cur, game.Abort{}); err != nil {
		return cur, err
	}
	s.mu.RLock()
	mgr := s.recovery
	s.mu.RUnlock()
	refunded, err := mgr.Abort(ctx, cur)
	if err != nil {
		return cur, err
	}
	st, err := sessions.Dispatch(ctx, game.Abort{})
	if refunded {
		s.alerts.Alert(ctx, notify.Refund, cur.SessionID, "session aborted")
	}
	return st, err
}

// Reset clears a failed proof and gives the turn back to the player.
func (s *Service) Reset(ctx context.Context) (game.State, error) {
	sessions, err := s.store()
	if err != nil {
		return game.State{}, err
	}
	return sessions.Dispatch(ctx, game.ResetProof{})
}

// Reply is the outcome of one handled input.
type Reply struct {
	Command command.Kind     `json:"command"`
	State   game.State       `json:"-"`
	Fire    *pipeline.Result `json:"fire,omitempty"`
}

// Handle normalizes in against the current phase and runs it.
func (s *Service) Handle(ctx context.Context, in command.Input) (Reply, error) {
	cmd, err := command.Normalize(in, s.State().Phase)
	if err != nil {
		return Reply{State: s.State()}, err
	}
	r := Reply{Command: cmd.Kind()}
	switch c := cmd.(type) {
	case command.Fire:
		res, err := s.Fire(ctx, c.Cell)
		r.Fire, r.State = &res, s.State()
		return r, err
	case command.Place:
		r.State, err = s.Place(ctx, c.Cell)
	case command.Abort:
		r.State, err = s.Abort(ctx)
	case command.Reset:
		r.State, err = s.Reset(ctx)
	default:
		return Reply{State: s.State()}, game.Errorf(game.CodeValidation, "unhandled command %T", cmd)
	}
	return r, err
}
