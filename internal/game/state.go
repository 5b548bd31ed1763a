package game

import "time"

type Phase uint8

const (
	PhaseSetup Phase = iota
	PhasePlacement
	PhaseBattle
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhasePlacement:
		return "placement"
	case PhaseBattle:
		return "battle"
	case PhaseEnded:
		return "ended"
	}
	return "unknown"
}

// Side identifies a party of the duel. SideNone doubles as "nobody holds the
// turn" while a proof pipeline is in flight and as "no winner yet".
type Side uint8

const (
	SideNone Side = iota
	SidePlayer
	SideOpponent
)

func (s Side) String() string {
	switch s {
	case SidePlayer:
		return "player"
	case SideOpponent:
		return "opponent"
	}
	return "none"
}

// Stage is the position of a Fire action inside the verification pipeline.
type Stage uint8

const (
	StageIdle Stage = iota
	StageWitnessGeneration
	StageCircuitCompilation
	StageProofGeneration
	StageOnChainVerification
	StageVerificationSuccess
	StageVerificationFailure
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "IDLE"
	case StageWitnessGeneration:
		return "WITNESS_GENERATION"
	case StageCircuitCompilation:
		return "CIRCUIT_COMPILATION"
	case StageProofGeneration:
		return "PROOF_GENERATION"
	case StageOnChainVerification:
		return "ON_CHAIN_VERIFICATION"
	case StageVerificationSuccess:
		return "VERIFICATION_SUCCESS"
	case StageVerificationFailure:
		return "VERIFICATION_FAILURE"
	}
	return "UNKNOWN"
}

// InFlight reports whether an external call is outstanding for this stage.
func (s Stage) InFlight() bool {
	return s >= StageWitnessGeneration && s <= StageOnChainVerification
}

// Terminal reports whether the pipeline has settled.
func (s Stage) Terminal() bool {
	return s == StageVerificationSuccess || s == StageVerificationFailure
}

// ProofContext tracks the single active Fire verification of a session.
type ProofContext struct {
	Stage           Stage     `json:"stage"`
	Target          int       `json:"target"`
	Witness         []byte    `json:"witness,omitempty"`
	Proof           []byte    `json:"proof,omitempty"`
	VerificationRef string    `json:"verificationRef,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	ResolvedAt      time.Time `json:"resolvedAt"`
	Error           string    `json:"error,omitempty"`
	Hit             bool      `json:"hit"`
}

// Rules are per-session switches fixed at session start.
type Rules struct {
	// RestoreTurnOnFailure hands the turn back to the player as soon as a
	// verification fails. When false the player must reset the proof first.
	RestoreTurnOnFailure bool `json:"restoreTurnOnFailure"`
}

// State is the whole truth of one session. It is a value: Reduce returns a
// new State and never mutates its input.
type State struct {
	SessionID     string `json:"sessionId"`
	Phase         Phase  `json:"phase"`
	Stake         int64  `json:"stake"`
	StakeDeducted bool   `json:"stakeDeducted"`
	Rules         Rules  `json:"rules"`

	PlayerGrid   Grid `json:"playerGrid"`
	OpponentGrid Grid `json:"opponentGrid"`
	PlayerUnit   int  `json:"playerUnit"`
	OpponentUnit int  `json:"opponentUnit"`

	// Commitment hides OpponentUnit; OpponentSalt is the blinding handed to
	// the witness builder. Both are opaque to the state machine.
	Commitment   string `json:"commitment,omitempty"`
	OpponentSalt []byte `json:"opponentSalt,omitempty"`

	Turn       Side `json:"turn"`
	ShotsFired int  `json:"shotsFired"`
	Hits       int  `json:"hits"`
	ShotsTaken int  `json:"shotsTaken"`
	HitsTaken  int  `json:"hitsTaken"`
	Winner     Side `json:"winner"`
	Aborted    bool `json:"aborted"`

	Proof ProofContext `json:"proof"`

	Seq uint64 `json:"seq"`
	Log Log    `json:"log"`
}

// New returns a blank session in the setup phase.
func New() State {
	return State{
		Phase:        PhaseSetup,
		PlayerUnit:   NoUnit,
		OpponentUnit: NoUnit,
	}
}

// Active reports whether the session holds an escrow that still has to be
// settled one way or another.
func (s State) Active() bool {
	return s.SessionID != "" && s.Phase != PhaseEnded
}

// LogCapacity bounds the in-state transition log.
const LogCapacity = 64

type LogEntry struct {
	Seq    uint64 `json:"seq"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// Log is a fixed ring; it is an array so copying a State copies the log.
type Log struct {
	Entries [LogCapacity]LogEntry `json:"entries"`
	Total   uint64                `json:"total"`
}

func (l *Log) append(e LogEntry) {
	l.Entries[l.Total%LogCapacity] = e
	l.Total++
}

// Recent returns retained entries oldest first.
func (l Log) Recent() []LogEntry {
	n := l.Total
	if n > LogCapacity {
		n = LogCapacity
	}
	out := make([]LogEntry, 0, n)
	for i := l.Total - n; i < l.Total; i++ {
		out = append(out, l.Entries[i%LogCapacity])
	}
	return out
}
