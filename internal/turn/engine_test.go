package turn

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkbattle/internal/game"
	"zkbattle/internal/identity"
	"zkbattle/internal/ledger"
	"zkbattle/internal/notify"
	"zkbattle/internal/pipeline"
	"zkbattle/internal/prover"
	"zkbattle/internal/session"
)

type nopPersister struct{}

func (nopPersister) Save(context.Context, game.State) error { return nil }

// failingPersister starts failing every save once armed.
type failingPersister struct {
	mu    sync.Mutex
	armed bool
}

var errDiskFull = errors.New("disk full")

func (f *failingPersister) arm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = true
}

func (f *failingPersister) Save(context.Context, game.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armed {
		return errDiskFull
	}
	return nil
}

type fixedPicker []int

func (f fixedPicker) Pick(s game.State) (int, bool) {
	for _, c := range f {
		if !s.PlayerGrid.Resolved(c) {
			return c, true
		}
	}
	return 0, false
}

type alerts struct {
	mu  sync.Mutex
	got []notify.Type
}

func (a *alerts) Alert(_ context.Context, t notify.Type, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, t)
}

type rig struct {
	store  *session.Store
	book   *ledger.Book
	engine *Engine
	pipe   *pipeline.Orchestrator
	alerts *alerts
}

// newRig starts a staked battle with the player on playerCell and the
// opponent on opponentCell.
func newRig(t *testing.T, stake int64, playerCell, opponentCell int, picker Picker) rig {
	t.Helper()
	return newRigWith(t, nopPersister{}, stake, playerCell, opponentCell, picker)
}

func newRigWith(t *testing.T, p session.Persister, stake int64, playerCell, opponentCell int, picker Picker) rig {
	t.Helper()
	ctx := context.Background()
	book := ledger.NewBook(ledger.NewMemoryStore())
	_, err := book.Bootstrap(ctx, identity.Identity{Key: "p1"})
	require.NoError(t, err)

	st := session.NewStore(p, nil)
	st.Open(game.New())
	_, err = st.Dispatch(ctx, game.StartSession{SessionID: "s1", Stake: stake, Rules: game.Rules{RestoreTurnOnFailure: true}})
	require.NoError(t, err)
	_, _, err = book.Stake(ctx, "p1", "s1", stake)
	require.NoError(t, err)
	_, err = st.Dispatch(ctx, game.StakeEscrowed{})
	require.NoError(t, err)
	_, err = st.Dispatch(ctx, game.PlaceUnits{PlayerCell: playerCell, OpponentCell: opponentCell})
	require.NoError(t, err)

	al := &alerts{}
	eng := New(st, book, "p1", WithPicker(picker), WithAlerter(al), WithLowBalance(195))
	pipe := pipeline.New(st, prover.NewSimulated(0), &pipeline.Guard{}, pipeline.WithResolver(eng))
	return rig{store: st, book: book, engine: eng, pipe: pipe, alerts: al}
}

func (r rig) account(t *testing.T) ledger.Account {
	t.Helper()
	a, err := r.book.Account(context.Background(), "p1")
	require.NoError(t, err)
	require.NoError(t, a.Verify())
	return a
}

func TestHitOnUnitWinsTwiceStake(t *testing.T) {
	r := newRig(t, 10, 0, 5, fixedPicker{1})

	res, err := r.pipe.Fire(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, res.Hit)

	s := r.store.State()
	assert.Equal(t, game.PhaseEnded, s.Phase)
	assert.Equal(t, game.SidePlayer, s.Winner)
	assert.Equal(t, game.CellHit, s.OpponentGrid[5])

	a := r.account(t)
	assert.Equal(t, int64(210), a.Balance)
	win, ok := a.Find("s1", ledger.TxWin)
	require.True(t, ok)
	assert.Equal(t, int64(20), win.Amount)
	assert.Equal(t, []notify.Type{notify.Win}, r.alerts.got)
}

func TestMissPlaysOpponentReply(t *testing.T) {
	r := newRig(t, 10, 0, 5, fixedPicker{3})

	res, err := r.pipe.Fire(context.Background(), 4)
	require.NoError(t, err)
	assert.False(t, res.Hit)

	s := r.store.State()
	assert.Equal(t, game.PhaseBattle, s.Phase)
	assert.Equal(t, game.SidePlayer, s.Turn)
	assert.Equal(t, game.StageIdle, s.Proof.Stage)
	assert.Equal(t, game.CellMiss, s.OpponentGrid[4])
	assert.Equal(t, game.CellMiss, s.PlayerGrid[3])
	assert.Equal(t, 1, s.ShotsTaken)
	assert.Equal(t, []notify.Type{notify.EnemyAttack}, r.alerts.got, "no settlement, no balance alert")
	assert.Equal(t, int64(190), r.account(t).Balance)
}

func TestOpponentHitRecordsLoss(t *testing.T) {
	r := newRig(t, 10, 2, 5, fixedPicker{2})

	_, err := r.pipe.Fire(context.Background(), 4)
	require.NoError(t, err)

	s := r.store.State()
	assert.Equal(t, game.PhaseEnded, s.Phase)
	assert.Equal(t, game.SideOpponent, s.Winner)

	a := r.account(t)
	assert.Equal(t, int64(190), a.Balance)
	assert.Equal(t, 1, a.Losses)
	assert.Equal(t, []notify.Type{notify.EnemyAttack, notify.Loss, notify.LowBalance}, r.alerts.got)
}

func TestRecoverReplaysRecordedLoss(t *testing.T) {
	ctx := context.Background()
	// The picker would miss; the recorded loss wins.
	r := newRig(t, 10, 2, 5, fixedPicker{9})

	s := r.store.State()
	s = game.Reduce(s, game.BeginFire{Target: 4})
	s = game.Reduce(s, game.WitnessBuilt{Target: 4})
	s = game.Reduce(s, game.CircuitReady{Target: 4})
	s = game.Reduce(s, game.ProofGenerated{Target: 4})
	s = game.Reduce(s, game.VerificationSettled{Target: 4, Accepted: true})
	s = game.Reduce(s, game.ApplyShot{Target: 4})
	require.Equal(t, game.SideOpponent, s.Turn)
	r.store.Open(s)
	_, _, err := r.book.Loss(ctx, "p1", "s1")
	require.NoError(t, err)

	require.NoError(t, r.engine.Recover(ctx))
	got := r.store.State()
	assert.Equal(t, game.PhaseEnded, got.Phase)
	assert.Equal(t, game.CellHit, got.PlayerGrid[2])
	assert.Equal(t, 1, r.account(t).Losses)
}

func TestRecoverResolvesCreditedWin(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, 10, 0, 5, fixedPicker{1})

	s := r.store.State()
	for _, a := range []game.Action{
		game.BeginFire{Target: 5},
		game.WitnessBuilt{Target: 5},
		game.CircuitReady{Target: 5},
		game.ProofGenerated{Target: 5},
		game.VerificationSettled{Target: 5, Accepted: true, Hit: true},
	} {
		s = game.Reduce(s, a)
	}
	r.store.Open(s)
	_, _, err := r.book.Win(ctx, "p1", "s1")
	require.NoError(t, err)

	require.NoError(t, r.engine.Recover(ctx))
	assert.Equal(t, game.PhaseEnded, r.store.State().Phase)
	assert.Equal(t, int64(210), r.account(t).Balance, "credit is not repeated")
}

func TestRecoverFailsInterruptedStage(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, 10, 0, 5, fixedPicker{1})
	s := game.Reduce(r.store.State(), game.BeginFire{Target: 6})
	s = game.Reduce(s, game.WitnessBuilt{Target: 6})
	r.store.Open(s)

	require.NoError(t, r.engine.Recover(ctx))
	got := r.store.State()
	assert.Equal(t, game.StageVerificationFailure, got.Proof.Stage)
	assert.Contains(t, got.Proof.Error, "interrupted")
	assert.Equal(t, game.SidePlayer, got.Turn)
	assert.Equal(t, game.CellTargeted, got.OpponentGrid[6])
}

func TestResolveNeedsSuccess(t *testing.T) {
	r := newRig(t, 10, 0, 5, fixedPicker{1})
	err := r.engine.Resolve(context.Background())
	assert.ErrorIs(t, err, game.ErrPipelineOrder)
}

func TestRandomPickerOnlyUnresolved(t *testing.T) {
	p := NewRandomPicker(rand.New(rand.NewPCG(1, 2)))
	s := game.New()
	for i := range s.PlayerGrid {
		if i != 13 {
			s.PlayerGrid[i] = game.CellMiss
		}
	}
	for i := 0; i < 20; i++ {
		c, ok := p.Pick(s)
		require.True(t, ok)
		assert.Equal(t, 13, c)
	}
	s.PlayerGrid[13] = game.CellHit
	_, ok := p.Pick(s)
	assert.False(t, ok)
}

func TestLedgerReconcilesOverManyGames(t *testing.T) {
	ctx := context.Background()
	book := ledger.NewBook(ledger.NewMemoryStore())
	_, err := book.Bootstrap(ctx, identity.Identity{Key: "p1", Verified: true})
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(7, 7))

	for g := 0; g < 20; g++ {
		id := "g" + string(rune('a'+g))
		st := session.NewStore(nopPersister{}, nil)
		st.Open(game.New())
		_, err := st.Dispatch(ctx, game.StartSession{SessionID: id, Stake: 5, Rules: game.Rules{RestoreTurnOnFailure: true}})
		require.NoError(t, err)
		_, _, err = book.Stake(ctx, "p1", id, 5)
		require.NoError(t, err)
		_, err = st.Dispatch(ctx, game.StakeEscrowed{})
		require.NoError(t, err)
		_, err = st.Dispatch(ctx, game.PlaceUnits{PlayerCell: rng.IntN(game.GridCells), OpponentCell: rng.IntN(game.GridCells)})
		require.NoError(t, err)

		eng := New(st, book, "p1", WithPicker(NewRandomPicker(rng)), WithAlerter(notify.Fanout{}))
		pipe := pipeline.New(st, prover.NewSimulated(0), &pipeline.Guard{}, pipeline.WithResolver(eng))
		for st.State().Phase == game.PhaseBattle {
			cur := st.State()
			cells := cur.OpponentGrid.Unresolved()
			_, err := pipe.Fire(ctx, cells[rng.IntN(len(cells))])
			require.NoError(t, err)
		}
	}

	a, err := book.Account(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, a.Verify())
	assert.Equal(t, 20, a.Wins+a.Losses)
	assert.Equal(t, int64(100), a.TotalStaked)
	assert.Equal(t, int64(500)+int64(a.Wins)*5-int64(a.Losses)*5, a.Balance)
}

// verify walks the proof stages for target by hand, leaving the shot
// verified but unresolved.
func (r rig) verify(t *testing.T, target int, hit bool) {
	t.Helper()
	ctx := context.Background()
	for _, a := range []game.Action{
		game.BeginFire{Target: target},
		game.WitnessBuilt{Target: target, Witness: []byte("w")},
		game.CircuitReady{Target: target},
		game.ProofGenerated{Target: target, Proof: []byte("p")},
		game.VerificationSettled{Target: target, Accepted: true, Ref: "r", Hit: hit},
	} {
		_, err := r.store.Dispatch(ctx, a)
		require.NoError(t, err)
	}
	require.Equal(t, game.StageVerificationSuccess, r.store.State().Proof.Stage)
}

func TestResolveReportsSaveFailure(t *testing.T) {
	t.Run("miss and opponent reply", func(t *testing.T) {
		fp := &failingPersister{}
		r := newRigWith(t, fp, 10, 0, 5, fixedPicker{3})
		r.verify(t, 4, false)
		before := r.store.State().Seq
		fp.arm()

		err := r.engine.Resolve(context.Background())
		assert.ErrorIs(t, err, errDiskFull)

		s := r.store.State()
		assert.Equal(t, before+2, s.Seq, "shot and reply are applied in memory")
		assert.Equal(t, game.SidePlayer, s.Turn)
		assert.Equal(t, game.CellMiss, s.OpponentGrid[4])
		assert.Equal(t, game.CellMiss, s.PlayerGrid[3])
	})

	t.Run("win", func(t *testing.T) {
		fp := &failingPersister{}
		r := newRigWith(t, fp, 10, 0, 5, fixedPicker{3})
		r.verify(t, 5, true)
		fp.arm()

		err := r.engine.Resolve(context.Background())
		assert.ErrorIs(t, err, errDiskFull)
		assert.Equal(t, game.PhaseEnded, r.store.State().Phase)
		assert.Equal(t, int64(210), r.account(t).Balance)
	})

	t.Run("opponent hit", func(t *testing.T) {
		fp := &failingPersister{}
		r := newRigWith(t, fp, 10, 0, 5, fixedPicker{0})
		r.verify(t, 4, false)
		fp.arm()

		err := r.engine.Resolve(context.Background())
		assert.ErrorIs(t, err, errDiskFull)
		assert.Equal(t, game.PhaseEnded, r.store.State().Phase)
		_, ok := r.account(t).Find("s1", ledger.TxLoss)
		assert.True(t, ok)
	})
}
