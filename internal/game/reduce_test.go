package game

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func battleState(t *testing.T, rules Rules) State {
	t.Helper()
	s := New()
	for _, a := range []Action{
		StartSession{SessionID: "s-1", Stake: 10, Rules: rules},
		StakeEscrowed{},
		PlaceUnits{PlayerCell: 0, OpponentCell: 5, Commitment: "0xabc", Salt: []byte{1, 2}},
	} {
		require.NoError(t, Check(s, a))
		s = Reduce(s, a)
	}
	require.Equal(t, PhaseBattle, s.Phase)
	require.Equal(t, SidePlayer, s.Turn)
	return s
}

func runStages(s State, target int, hit bool) State {
	s = Reduce(s, BeginFire{Target: target, At: t0})
	s = Reduce(s, WitnessBuilt{Target: target, Witness: []byte("w")})
	s = Reduce(s, CircuitReady{Target: target})
	s = Reduce(s, ProofGenerated{Target: target, Proof: []byte("p")})
	return Reduce(s, VerificationSettled{Target: target, Accepted: true, Ref: "ref-1", Hit: hit, At: t0})
}

func TestSessionSetupFlow(t *testing.T) {
	s := New()
	assert.Equal(t, NoUnit, s.PlayerUnit)

	s = Reduce(s, StartSession{SessionID: "s-1", Stake: 10})
	assert.Equal(t, PhaseSetup, s.Phase)
	assert.False(t, s.StakeDeducted)

	s = Reduce(s, StakeEscrowed{})
	assert.Equal(t, PhasePlacement, s.Phase)
	assert.True(t, s.StakeDeducted)

	again := Reduce(s, StakeEscrowed{})
	assert.Equal(t, s, again, "second escrow must be a no-op")

	s = Reduce(s, PlaceUnits{PlayerCell: 3, OpponentCell: 7})
	assert.Equal(t, PhaseBattle, s.Phase)
	assert.Equal(t, CellOccupied, s.PlayerGrid[3])
	assert.Equal(t, 7, s.OpponentUnit)

	replaced := Reduce(s, PlaceUnits{PlayerCell: 4, OpponentCell: 8})
	assert.Equal(t, s, replaced, "units are placed exactly once")
}

func TestStartSessionRejectsBadInput(t *testing.T) {
	s := New()
	assert.ErrorIs(t, Check(s, StartSession{SessionID: "", Stake: 10}), ErrValidation)
	assert.ErrorIs(t, Check(s, StartSession{SessionID: "x", Stake: 0}), ErrValidation)
	assert.ErrorIs(t, Check(s, Abort{}), ErrValidation)
}

func TestFireHitEndsSession(t *testing.T) {
	s := battleState(t, Rules{RestoreTurnOnFailure: true})
	s = runStages(s, 5, true)
	require.Equal(t, StageVerificationSuccess, s.Proof.Stage)
	assert.True(t, s.Proof.Hit)
	assert.Equal(t, "ref-1", s.Proof.VerificationRef)

	s = Reduce(s, ApplyShot{Target: 5})
	assert.Equal(t, PhaseEnded, s.Phase)
	assert.Equal(t, SidePlayer, s.Winner)
	assert.Equal(t, CellHit, s.OpponentGrid[5])
	assert.Equal(t, 1, s.ShotsFired)
	assert.Equal(t, 1, s.Hits)
}

func TestFireMissPassesTurnThenReturns(t *testing.T) {
	s := battleState(t, Rules{RestoreTurnOnFailure: true})
	s = runStages(s, 6, false)
	s = Reduce(s, ApplyShot{Target: 6})
	assert.Equal(t, CellMiss, s.OpponentGrid[6])
	assert.Equal(t, SideOpponent, s.Turn)
	assert.Equal(t, PhaseBattle, s.Phase)

	s = Reduce(s, OpponentShot{Target: 9})
	assert.Equal(t, CellMiss, s.PlayerGrid[9])
	assert.Equal(t, SidePlayer, s.Turn)
	assert.Equal(t, StageIdle, s.Proof.Stage)
	assert.Equal(t, 1, s.ShotsTaken)
}

func TestOpponentHitEndsSession(t *testing.T) {
	s := battleState(t, Rules{})
	s = runStages(s, 6, false)
	s = Reduce(s, ApplyShot{Target: 6})
	s = Reduce(s, OpponentShot{Target: 0})
	assert.Equal(t, PhaseEnded, s.Phase)
	assert.Equal(t, SideOpponent, s.Winner)
	assert.Equal(t, CellHit, s.PlayerGrid[0])
}

func TestApplyShotRequiresMatchingSuccess(t *testing.T) {
	s := battleState(t, Rules{})
	assert.ErrorIs(t, Check(s, ApplyShot{Target: 5}), ErrPipelineOrder)

	s = runStages(s, 5, true)
	assert.ErrorIs(t, Check(s, ApplyShot{Target: 4}), ErrPipelineOrder)
	unchanged := Reduce(s, ApplyShot{Target: 4})
	assert.Equal(t, s, unchanged)
}

func TestApplyShotOnlyOnce(t *testing.T) {
	s := battleState(t, Rules{})
	s = runStages(s, 6, false)
	s = Reduce(s, ApplyShot{Target: 6})
	again := Reduce(s, ApplyShot{Target: 6})
	assert.Equal(t, s, again)
	assert.Equal(t, 1, again.ShotsFired)
}

func TestOutOfOrderStageEventsAreDiscarded(t *testing.T) {
	s := battleState(t, Rules{})
	s = Reduce(s, BeginFire{Target: 2, At: t0})

	for _, a := range []Action{
		CircuitReady{Target: 2},
		ProofGenerated{Target: 2, Proof: []byte("p")},
		VerificationSettled{Target: 2, Accepted: true},
		WitnessBuilt{Target: 3, Witness: []byte("w")},
		StageFailed{Stage: StageProofGeneration, Target: 2},
	} {
		err := Check(s, a)
		require.Error(t, err, "%T", a)
		assert.True(t, errors.Is(err, ErrPipelineOrder), "%T: %v", a, err)
		assert.Equal(t, s, Reduce(s, a), "%T must leave state unchanged", a)
	}
}

func TestBeginFireRejectedWhileInFlight(t *testing.T) {
	s := battleState(t, Rules{})
	s = Reduce(s, BeginFire{Target: 2, At: t0})
	assert.ErrorIs(t, Check(s, BeginFire{Target: 3, At: t0}), ErrValidation)
	assert.ErrorIs(t, Check(s, Abort{}), ErrValidation)
	assert.Equal(t, CellTargeted, s.OpponentGrid[2])
	assert.Equal(t, SideNone, s.Turn)
}

func TestFailureRestoresTurnWhenConfigured(t *testing.T) {
	s := battleState(t, Rules{RestoreTurnOnFailure: true})
	s = Reduce(s, BeginFire{Target: 2, At: t0})
	s = Reduce(s, StageFailed{Stage: StageWitnessGeneration, Target: 2, Reason: "timeout", At: t0})
	assert.Equal(t, StageVerificationFailure, s.Proof.Stage)
	assert.Contains(t, s.Proof.Error, "timeout")
	assert.Equal(t, SidePlayer, s.Turn)
	assert.Equal(t, CellTargeted, s.OpponentGrid[2], "targeted cells never revert")

	s = Reduce(s, BeginFire{Target: 2, At: t0})
	assert.Equal(t, StageWitnessGeneration, s.Proof.Stage)
	assert.Empty(t, s.Proof.Error)
}

func TestFailureRequiresResetWhenNotRestored(t *testing.T) {
	s := battleState(t, Rules{RestoreTurnOnFailure: false})
	s = Reduce(s, BeginFire{Target: 2, At: t0})
	s = Reduce(s, WitnessBuilt{Target: 2})
	s = Reduce(s, CircuitReady{Target: 2})
	s = Reduce(s, ProofGenerated{Target: 2})
	s = Reduce(s, VerificationSettled{Target: 2, Accepted: false, Reason: "bad pairing", At: t0})
	assert.Equal(t, StageVerificationFailure, s.Proof.Stage)
	assert.Equal(t, SideNone, s.Turn)
	assert.ErrorIs(t, Check(s, BeginFire{Target: 2}), ErrValidation)

	s = Reduce(s, ResetProof{})
	assert.Equal(t, StageIdle, s.Proof.Stage)
	assert.Equal(t, SidePlayer, s.Turn)
}

func TestAbortBetweenPipelines(t *testing.T) {
	s := battleState(t, Rules{})
	s = Reduce(s, Abort{})
	assert.Equal(t, PhaseEnded, s.Phase)
	assert.True(t, s.Aborted)
	assert.Equal(t, SideNone, s.Winner)
	assert.Equal(t, s, Reduce(s, BeginFire{Target: 1}))
}

func TestLogIsBoundedAndOrdered(t *testing.T) {
	s := battleState(t, Rules{RestoreTurnOnFailure: true})
	for i := 0; i < LogCapacity; i++ {
		s = Reduce(s, BeginFire{Target: 1, At: t0})
		s = Reduce(s, StageFailed{Stage: StageWitnessGeneration, Target: 1, Reason: "x", At: t0})
	}
	recent := s.Log.Recent()
	require.Len(t, recent, LogCapacity)
	for i := 1; i < len(recent); i++ {
		assert.Equal(t, recent[i-1].Seq+1, recent[i].Seq)
	}
	assert.Equal(t, s.Seq, recent[len(recent)-1].Seq)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s := battleState(t, Rules{})
	before := s
	_ = Reduce(s, BeginFire{Target: 4, At: t0})
	assert.Equal(t, before, s)
}

func TestParseCell(t *testing.T) {
	for in, want := range map[string]int{"A1": 0, "c3": 12, "E5": 24, "7": 7, " b2 ": 6} {
		got, err := ParseCell(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		if in != "7" {
			assert.Equal(t, want, mustParse(t, CellName(got)))
		}
	}
	for _, in := range []string{"", "F1", "A6", "A0", "25", "-1", "Z"} {
		_, err := ParseCell(in)
		assert.Error(t, err, in)
	}
}

func mustParse(t *testing.T, s string) int {
	t.Helper()
	n, err := ParseCell(s)
	require.NoError(t, err)
	return n
}
