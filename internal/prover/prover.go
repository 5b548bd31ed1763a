// Package prover defines the boundary to the external witness builder,
// circuit loader, prover and verifier. The session engine only ever talks to
// these four calls and treats every result as opaque.
package prover

import "context"

// WitnessRequest asks for a witness proving what sits at Target on the
// defender's grid, where the defender's unit is at Position.
type WitnessRequest struct {
	Position int
	Target   int
	Salt     []byte
}

// Public are the values a proof reveals.
type Public struct {
	Commitment string `json:"commitment"`
	Target     int    `json:"target"`
	Hit        bool   `json:"hit"`
}

type Witness struct {
	Blob   []byte `json:"blob"`
	Public Public `json:"public"`
}

type Proof struct {
	Blob   []byte `json:"blob"`
	Public Public `json:"public"`
}

// Verdict is the verifier's answer. A rejected proof is not an error.
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Ref      string `json:"ref"`
	Reason   string `json:"reason,omitempty"`
	Hit      bool   `json:"hit"`
}

//go:generate go tool mockgen -destination=mocks/mock_prover.go -package=mocks zkbattle/internal/prover Prover

// Prover is called strictly in declaration order for each Fire action.
type Prover interface {
	BuildWitness(ctx context.Context, req WitnessRequest) (Witness, error)
	CompileCircuit(ctx context.Context) error
	GenerateProof(ctx context.Context, w Witness) (Proof, error)
	VerifyOnChain(ctx context.Context, p Proof) (Verdict, error)
}

// Committer is implemented by provers able to produce the public commitment
// to a hidden unit position ahead of the battle.
type Committer interface {
	Commit(ctx context.Context, position int, salt []byte) (string, error)
}
