package session

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkbattle/internal/game"
)

type recorder struct {
	mu    sync.Mutex
	saved []game.State
	err   error
}

func (r *recorder) Save(ctx context.Context, s game.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, s)
	return r.err
}

type watcher struct{ kinds []string }

func (w *watcher) Observe(ctx context.Context, s game.State, e game.LogEntry) {
	w.kinds = append(w.kinds, e.Kind)
}

func TestDispatchPersistsAppliedOnly(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	w := &watcher{}
	st := NewStore(rec, nil, w)
	st.Open(game.New())

	s, err := st.Dispatch(ctx, game.StartSession{SessionID: "s1", Stake: 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Seq)

	_, err = st.Dispatch(ctx, game.BeginFire{Target: 1})
	assert.True(t, Rejected(err))
	assert.ErrorIs(t, err, game.ErrValidation)

	assert.Len(t, rec.saved, 1)
	assert.Equal(t, []string{"session_started"}, w.kinds)
	assert.Equal(t, uint64(1), st.State().Seq)
}

func TestDispatchReportsPersistFailure(t *testing.T) {
	rec := &recorder{err: errors.New("disk full")}
	st := NewStore(rec, nil)
	st.Open(game.New())

	s, err := st.Dispatch(context.Background(), game.StartSession{SessionID: "s1", Stake: 5})
	require.Error(t, err)
	assert.False(t, Rejected(err))
	assert.Equal(t, "s1", s.SessionID, "memory state still advances")
}

func TestClosedStoreRefuses(t *testing.T) {
	rec := &recorder{}
	st := NewStore(rec, nil)
	st.Open(game.New())
	require.NoError(t, st.Close(context.Background()))
	require.NoError(t, st.Close(context.Background()))

	_, err := st.Dispatch(context.Background(), game.StartSession{SessionID: "s1", Stake: 5})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Len(t, rec.saved, 1)
}

func TestConcurrentDispatchSerialises(t *testing.T) {
	st := NewStore(&recorder{}, nil)
	st.Open(game.New())
	ctx := context.Background()
	_, err := st.Dispatch(ctx, game.StartSession{SessionID: "s1", Stake: 5})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = st.Dispatch(ctx, game.StakeEscrowed{})
		}()
	}
	wg.Wait()

	s := st.State()
	assert.Equal(t, uint64(2), s.Seq, "escrow applies exactly once")
	assert.True(t, s.StakeDeducted)
}

type seqWatcher struct {
	mu   sync.Mutex
	seqs []uint64
}

func (w *seqWatcher) Observe(ctx context.Context, s game.State, e game.LogEntry) {
	w.mu.Lock()
	w.seqs = append(w.seqs, s.Seq)
	w.mu.Unlock()
	runtime.Gosched()
}

func TestObserversSeeSeqOrder(t *testing.T) {
	ctx := context.Background()
	w := &seqWatcher{}
	st := NewStore(&recorder{}, nil, w)
	st.Open(game.New())
	for _, a := range []game.Action{
		game.StartSession{SessionID: "s1", Stake: 5, Rules: game.Rules{RestoreTurnOnFailure: true}},
		game.StakeEscrowed{},
		game.PlaceUnits{PlayerCell: 0, OpponentCell: 24},
	} {
		_, err := st.Dispatch(ctx, a)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for g := 1; g <= 8; g++ {
		wg.Add(1)
		go func(target int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				for _, a := range []game.Action{
					game.BeginFire{Target: target},
					game.WitnessBuilt{Target: target},
					game.CircuitReady{Target: target},
					game.ProofGenerated{Target: target},
					game.VerificationSettled{Target: target, Reason: "rejected"},
				} {
					_, _ = st.Dispatch(ctx, a)
				}
			}
		}(g)
	}
	wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.seqs, int(st.State().Seq))
	for i := 1; i < len(w.seqs); i++ {
		require.Less(t, w.seqs[i-1], w.seqs[i], "event %d out of order", i)
	}
}
