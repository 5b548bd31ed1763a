// Package zk implements the prover boundary with gnark: groth16 over BN254,
// proving single shots against a MiMC Merkle commitment of the defender grid.
package zk

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"zkbattle/internal/game"
	"zkbattle/internal/merkle"
	"zkbattle/internal/prover"
)

var errNotCompiled = errors.New("circuit not compiled")

// Prover keeps the compiled circuit and keys for the life of the process.
type Prover struct {
	keysDir string

	mu  sync.Mutex
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

func NewProver(keysDir string) *Prover {
	return &Prover{keysDir: keysDir}
}

var (
	_ prover.Prover    = (*Prover)(nil)
	_ prover.Committer = (*Prover)(nil)
)

func gridTree(position int) (*merkle.Tree, error) {
	if !game.ValidCell(position) {
		return nil, fmt.Errorf("position %d out of range", position)
	}
	return merkle.NewTree(game.Bits(position))
}

// Commit returns the salted root a verifier checks proofs against.
func (p *Prover) Commit(ctx context.Context, position int, salt []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tree, err := gridTree(position)
	if err != nil {
		return "", err
	}
	return merkle.Hex(merkle.Commit(tree.Root(), merkle.FieldElement(salt))), nil
}

// BuildWitness assigns the full shot circuit for req.Target.
func (p *Prover) BuildWitness(ctx context.Context, req prover.WitnessRequest) (prover.Witness, error) {
	if err := ctx.Err(); err != nil {
		return prover.Witness{}, err
	}
	if !game.ValidCell(req.Target) {
		return prover.Witness{}, fmt.Errorf("target %d out of range", req.Target)
	}
	tree, err := gridTree(req.Position)
	if err != nil {
		return prover.Witness{}, err
	}
	open, err := tree.Open(req.Target)
	if err != nil {
		return prover.Witness{}, err
	}
	salt := merkle.FieldElement(req.Salt)
	commitment := merkle.Commit(tree.Root(), salt)
	bit := game.Bits(req.Position)[req.Target]

	var assign ShotCircuit
	assign.Cell = bit
	for i := range open.Siblings {
		assign.Siblings[i] = open.Siblings[i]
	}
	assign.Salt = salt
	assign.Commitment = commitment
	assign.Target = req.Target
	assign.Hit = bit

	full, err := frontend.NewWitness(&assign, ecc.BN254.ScalarField())
	if err != nil {
		return prover.Witness{}, fmt.Errorf("new witness: %w", err)
	}
	blob, err := full.MarshalBinary()
	if err != nil {
		return prover.Witness{}, fmt.Errorf("encode witness: %w", err)
	}
	return prover.Witness{
		Blob: blob,
		Public: prover.Public{
			Commitment: merkle.Hex(commitment),
			Target:     req.Target,
			Hit:        bit == 1,
		},
	}, nil
}

// CompileCircuit compiles once and loads (or sets up) the keys.
func (p *Prover) CompileCircuit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ccs != nil {
		return nil
	}
	ccs, err := Compile()
	if err != nil {
		return err
	}
	pk, vk, err := EnsureKeys(p.keysDir, ccs)
	if err != nil {
		return err
	}
	p.ccs, p.pk, p.vk = ccs, pk, vk
	return nil
}

func (p *Prover) loaded() (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ccs == nil {
		return nil, nil, nil, errNotCompiled
	}
	return p.ccs, p.pk, p.vk, nil
}

func (p *Prover) GenerateProof(ctx context.Context, w prover.Witness) (prover.Proof, error) {
	if err := ctx.Err(); err != nil {
		return prover.Proof{}, err
	}
	ccs, pk, _, err := p.loaded()
	if err != nil {
		return prover.Proof{}, err
	}
	full, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return prover.Proof{}, err
	}
	if err := full.UnmarshalBinary(w.Blob); err != nil {
		return prover.Proof{}, fmt.Errorf("decode witness: %w", err)
	}
	proof, err := groth16.Prove(ccs, pk, full)
	if err != nil {
		return prover.Proof{}, fmt.Errorf("prove: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return prover.Proof{}, err
	}
	return prover.Proof{Blob: buf.Bytes(), Public: w.Public}, nil
}

// VerifyOnChain checks the proof against its public inputs. A failing
// pairing check is a rejected verdict, not an error.
func (p *Prover) VerifyOnChain(ctx context.Context, pr prover.Proof) (prover.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return prover.Verdict{}, err
	}
	_, _, vk, err := p.loaded()
	if err != nil {
		return prover.Verdict{}, err
	}
	commitment, err := merkle.ParseHex(pr.Public.Commitment)
	if err != nil {
		return prover.Verdict{Accepted: false, Reason: err.Error()}, nil
	}

	var pubAssign ShotCircuit
	pubAssign.Commitment = commitment
	pubAssign.Target = pr.Public.Target
	pubAssign.Hit = 0
	if pr.Public.Hit {
		pubAssign.Hit = 1
	}
	pub, err := frontend.NewWitness(&pubAssign, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return prover.Verdict{}, fmt.Errorf("public witness: %w", err)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(pr.Blob)); err != nil {
		return prover.Verdict{Accepted: false, Reason: "malformed proof: " + err.Error()}, nil
	}
	if err := groth16.Verify(proof, vk, pub); err != nil {
		return prover.Verdict{Accepted: false, Reason: err.Error()}, nil
	}
	// The leading bytes encode the compressed A point, unique per proof.
	ref := pr.Blob
	if len(ref) > 8 {
		ref = ref[:8]
	}
	return prover.Verdict{
		Accepted: true,
		Ref:      "groth16:" + hex.EncodeToString(ref),
		Hit:      pr.Public.Hit,
	}, nil
}
