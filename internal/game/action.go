package game

import "time"

// Action is the closed set of inputs to Reduce.
type Action interface {
	isAction()
}

// StartSession opens a session in the setup phase.
type StartSession struct {
	SessionID string
	Stake     int64
	Rules     Rules
}

// StakeEscrowed records that the ledger holds the stake. Moves to placement.
type StakeEscrowed struct{}

// PlaceUnits fixes both hidden units and starts the battle.
type PlaceUnits struct {
	PlayerCell   int
	OpponentCell int
	Commitment   string
	Salt         []byte
}

// BeginFire opens a fresh proof pipeline against Target.
type BeginFire struct {
	Target int
	At     time.Time
}

// WitnessBuilt completes WITNESS_GENERATION.
type WitnessBuilt struct {
	Target  int
	Witness []byte
}

// CircuitReady completes CIRCUIT_COMPILATION.
type CircuitReady struct {
	Target int
}

// ProofGenerated completes PROOF_GENERATION.
type ProofGenerated struct {
	Target int
	Proof  []byte
}

// VerificationSettled completes ON_CHAIN_VERIFICATION.
type VerificationSettled struct {
	Target   int
	Accepted bool
	Ref      string
	Hit      bool
	Reason   string
	At       time.Time
}

// StageFailed aborts the in-flight Stage into VERIFICATION_FAILURE.
type StageFailed struct {
	Stage  Stage
	Target int
	Reason string
	At     time.Time
}

// ApplyShot applies a verified outcome to the opponent grid.
type ApplyShot struct {
	Target int
}

// OpponentShot resolves the opponent's reply against the player grid.
type OpponentShot struct {
	Target int
}

// ResetProof clears a failed ProofContext.
type ResetProof struct{}

// Abort ends the session without a winner.
type Abort struct{}

func (StartSession) isAction()        {}
func (StakeEscrowed) isAction()       {}
func (PlaceUnits) isAction()          {}
func (BeginFire) isAction()           {}
func (WitnessBuilt) isAction()        {}
func (CircuitReady) isAction()        {}
func (ProofGenerated) isAction()      {}
func (VerificationSettled) isAction() {}
func (StageFailed) isAction()         {}
func (ApplyShot) isAction()           {}
func (OpponentShot) isAction()        {}
func (ResetProof) isAction()          {}
func (Abort) isAction()               {}
