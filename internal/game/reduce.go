package game

import (
	"fmt"
	"time"
)

// Reduce applies a to s. It is total: an action that is not valid for the
// current state returns s unchanged. Every applied action bumps Seq and
// appends one log entry.
func Reduce(s State, a Action) State {
	if Check(s, a) != nil {
		return s
	}
	next := s
	kind, detail := apply(&next, a)
	next.Seq++
	next.Log.append(LogEntry{Seq: next.Seq, Kind: kind, Detail: detail})
	return next
}

// Check explains why Reduce would ignore a. A nil result means a applies.
func Check(s State, a Action) error {
	if s.Phase == PhaseEnded {
		return invalid("session has ended")
	}
	switch a := a.(type) {
	case StartSession:
		if s.Phase != PhaseSetup || s.SessionID != "" {
			return invalid("session already started")
		}
		if a.SessionID == "" {
			return invalid("session id required")
		}
		if a.Stake <= 0 {
			return invalid("stake must be positive, got %d", a.Stake)
		}
	case StakeEscrowed:
		if s.SessionID == "" {
			return invalid("no session started")
		}
		if s.StakeDeducted {
			return invalid("stake already escrowed")
		}
		if s.Phase != PhaseSetup {
			return invalid("stake escrow outside setup (%s)", s.Phase)
		}
	case PlaceUnits:
		if s.Phase != PhasePlacement {
			return invalid("cannot place during %s", s.Phase)
		}
		if s.PlayerUnit != NoUnit || s.OpponentUnit != NoUnit {
			return invalid("units already placed")
		}
		if !ValidCell(a.PlayerCell) || !ValidCell(a.OpponentCell) {
			return invalid("placement out of range")
		}
	case BeginFire:
		if s.Phase != PhaseBattle {
			return invalid("cannot fire during %s", s.Phase)
		}
		if s.Turn != SidePlayer {
			return invalid("not the player's turn")
		}
		if st := s.Proof.Stage; st != StageIdle && st != StageVerificationFailure {
			return invalid("proof pipeline busy (%s)", st)
		}
		if !ValidCell(a.Target) {
			return invalid("target out of range: %d", a.Target)
		}
		if s.OpponentGrid.Resolved(a.Target) {
			return invalid("cell %s already resolved", CellName(a.Target))
		}
	case WitnessBuilt:
		return expectStage(s, StageWitnessGeneration, a.Target)
	case CircuitReady:
		return expectStage(s, StageCircuitCompilation, a.Target)
	case ProofGenerated:
		return expectStage(s, StageProofGeneration, a.Target)
	case VerificationSettled:
		return expectStage(s, StageOnChainVerification, a.Target)
	case StageFailed:
		if !a.Stage.InFlight() {
			return outOfOrder("stage %s cannot fail", a.Stage)
		}
		return expectStage(s, a.Stage, a.Target)
	case ApplyShot:
		if s.Phase != PhaseBattle {
			return invalid("cannot apply a shot during %s", s.Phase)
		}
		if s.Proof.Stage != StageVerificationSuccess || s.Proof.Target != a.Target {
			return outOfOrder("shot at %s has no successful verification", CellName(a.Target))
		}
		if s.OpponentGrid.Resolved(a.Target) {
			return invalid("shot at %s already applied", CellName(a.Target))
		}
	case OpponentShot:
		if s.Phase != PhaseBattle {
			return invalid("cannot take a shot during %s", s.Phase)
		}
		if s.Turn != SideOpponent {
			return invalid("not the opponent's turn")
		}
		if !ValidCell(a.Target) || s.PlayerGrid.Resolved(a.Target) {
			return invalid("opponent target %d unavailable", a.Target)
		}
	case ResetProof:
		if s.Phase != PhaseBattle || s.Proof.Stage != StageVerificationFailure {
			return invalid("no failed proof to reset")
		}
	case Abort:
		if s.SessionID == "" {
			return invalid("no session to abort")
		}
		if s.Proof.Stage.InFlight() {
			return invalid("cannot abort while %s is in flight", s.Proof.Stage)
		}
	default:
		return invalid("unknown action %T", a)
	}
	return nil
}

func expectStage(s State, want Stage, target int) error {
	if s.Phase != PhaseBattle {
		return outOfOrder("stage event during %s", s.Phase)
	}
	if s.Proof.Stage != want {
		return outOfOrder("expected %s, pipeline at %s", want, s.Proof.Stage)
	}
	if s.Proof.Target != target {
		return outOfOrder("stale event for %s, active target %s", CellName(target), CellName(s.Proof.Target))
	}
	return nil
}

func apply(s *State, a Action) (kind, detail string) {
	switch a := a.(type) {
	case StartSession:
		s.SessionID = a.SessionID
		s.Stake = a.Stake
		s.Rules = a.Rules
		return "session_started", fmt.Sprintf("stake=%d", a.Stake)
	case StakeEscrowed:
		s.StakeDeducted = true
		s.Phase = PhasePlacement
		return "stake_escrowed", ""
	case PlaceUnits:
		s.PlayerUnit = a.PlayerCell
		s.OpponentUnit = a.OpponentCell
		s.PlayerGrid.advance(a.PlayerCell, CellOccupied)
		s.Commitment = a.Commitment
		s.OpponentSalt = append([]byte(nil), a.Salt...)
		s.Phase = PhaseBattle
		s.Turn = SidePlayer
		return "units_placed", "player=" + CellName(a.PlayerCell)
	case BeginFire:
		s.Proof = ProofContext{
			Stage:     StageWitnessGeneration,
			Target:    a.Target,
			StartedAt: a.At,
		}
		s.OpponentGrid.advance(a.Target, CellTargeted)
		s.Turn = SideNone
		return "fire", CellName(a.Target)
	case WitnessBuilt:
		s.Proof.Witness = a.Witness
		s.Proof.Stage = StageCircuitCompilation
		return "witness_built", CellName(a.Target)
	case CircuitReady:
		s.Proof.Stage = StageProofGeneration
		return "circuit_ready", CellName(a.Target)
	case ProofGenerated:
		s.Proof.Proof = a.Proof
		s.Proof.Stage = StageOnChainVerification
		return "proof_generated", CellName(a.Target)
	case VerificationSettled:
		s.Proof.VerificationRef = a.Ref
		if !a.Accepted {
			failProof(s, "verifier rejected proof: "+a.Reason, a.At)
			return "verification_failed", s.Proof.Error
		}
		s.Proof.Stage = StageVerificationSuccess
		s.Proof.Hit = a.Hit
		s.Proof.ResolvedAt = a.At
		return "verified", outcome(CellName(a.Target), a.Hit)
	case StageFailed:
		failProof(s, a.Stage.String()+": "+a.Reason, a.At)
		return "verification_failed", s.Proof.Error
	case ApplyShot:
		s.ShotsFired++
		if s.Proof.Hit {
			s.OpponentGrid.advance(a.Target, CellHit)
			s.Hits++
			s.Phase = PhaseEnded
			s.Winner = SidePlayer
			s.Turn = SideNone
		} else {
			s.OpponentGrid.advance(a.Target, CellMiss)
			s.Turn = SideOpponent
		}
		return "shot_applied", outcome(CellName(a.Target), s.Proof.Hit)
	case OpponentShot:
		s.ShotsTaken++
		hit := a.Target == s.PlayerUnit
		if hit {
			s.PlayerGrid.advance(a.Target, CellHit)
			s.HitsTaken++
			s.Phase = PhaseEnded
			s.Winner = SideOpponent
			s.Turn = SideNone
		} else {
			s.PlayerGrid.advance(a.Target, CellMiss)
			s.Turn = SidePlayer
			s.Proof = ProofContext{}
		}
		return "opponent_shot", outcome(CellName(a.Target), hit)
	case ResetProof:
		s.Proof = ProofContext{}
		if s.Turn == SideNone {
			s.Turn = SidePlayer
		}
		return "proof_reset", ""
	case Abort:
		s.Phase = PhaseEnded
		s.Aborted = true
		s.Turn = SideNone
		return "aborted", ""
	}
	return "noop", ""
}

func failProof(s *State, reason string, at time.Time) {
	s.Proof.Stage = StageVerificationFailure
	s.Proof.Error = reason
	s.Proof.ResolvedAt = at
	if s.Rules.RestoreTurnOnFailure {
		s.Turn = SidePlayer
	}
}

func outcome(cell string, hit bool) string {
	if hit {
		return cell + " hit"
	}
	return cell + " miss"
}
