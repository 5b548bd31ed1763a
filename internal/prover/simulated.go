package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"zkbattle/internal/game"
	"zkbattle/internal/merkle"
)

// Step names a Simulated call, used to inject failures.
type Step string

const (
	StepWitness Step = "witness"
	StepCompile Step = "compile"
	StepProve   Step = "prove"
	StepVerify  Step = "verify"
)

// ErrInjected is returned by Simulated for the step configured in FailAt.
var ErrInjected = errors.New("injected failure")

// Simulated stands in for a real prover with deterministic timing. Every
// call waits Latency through Sleep, so tests can block or skip the wait.
type Simulated struct {
	Latency time.Duration
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// FailAt makes the named step return ErrInjected.
	FailAt Step
	// Reject makes the verifier refuse every proof.
	Reject bool

	mu    sync.Mutex
	calls []Step
	refs  int
}

func NewSimulated(latency time.Duration) *Simulated {
	return &Simulated{Latency: latency}
}

// Calls returns the steps executed so far, in order.
func (s *Simulated) Calls() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Step(nil), s.calls...)
}

func (s *Simulated) step(ctx context.Context, st Step) error {
	s.mu.Lock()
	s.calls = append(s.calls, st)
	fail := s.FailAt == st
	s.mu.Unlock()

	sleep := s.Sleep
	if sleep == nil {
		sleep = timerSleep
	}
	if err := sleep(ctx, s.Latency); err != nil {
		return err
	}
	if fail {
		return fmt.Errorf("%s: %w", st, ErrInjected)
	}
	return nil
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Simulated) Commit(ctx context.Context, position int, salt []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return commitment(position, salt)
}

// commitment is the same salted MiMC root the gnark prover commits to, so a
// session placed under one prover verifies under the other.
func commitment(position int, salt []byte) (string, error) {
	if !game.ValidCell(position) {
		return "", fmt.Errorf("position %d out of range", position)
	}
	tree, err := merkle.NewTree(game.Bits(position))
	if err != nil {
		return "", err
	}
	return merkle.Hex(merkle.Commit(tree.Root(), merkle.FieldElement(salt))), nil
}

func (s *Simulated) BuildWitness(ctx context.Context, req WitnessRequest) (Witness, error) {
	if err := s.step(ctx, StepWitness); err != nil {
		return Witness{}, err
	}
	c, err := commitment(req.Position, req.Salt)
	if err != nil {
		return Witness{}, err
	}
	pub := Public{
		Commitment: c,
		Target:     req.Target,
		Hit:        req.Position == req.Target,
	}
	blob, err := json.Marshal(pub)
	if err != nil {
		return Witness{}, err
	}
	return Witness{Blob: blob, Public: pub}, nil
}

func (s *Simulated) CompileCircuit(ctx context.Context) error {
	return s.step(ctx, StepCompile)
}

func (s *Simulated) GenerateProof(ctx context.Context, w Witness) (Proof, error) {
	if err := s.step(ctx, StepProve); err != nil {
		return Proof{}, err
	}
	return Proof{Blob: bytes.Clone(w.Blob), Public: w.Public}, nil
}

func (s *Simulated) VerifyOnChain(ctx context.Context, p Proof) (Verdict, error) {
	if err := s.step(ctx, StepVerify); err != nil {
		return Verdict{}, err
	}
	if s.Reject {
		return Verdict{Accepted: false, Reason: "proof rejected"}, nil
	}
	var proved Public
	if err := json.Unmarshal(p.Blob, &proved); err != nil {
		return Verdict{Accepted: false, Reason: "malformed proof: " + err.Error()}, nil
	}
	if proved != p.Public {
		return Verdict{Accepted: false, Reason: "public inputs do not match the proof"}, nil
	}
	s.mu.Lock()
	s.refs++
	ref := fmt.Sprintf("sim-%d", s.refs)
	s.mu.Unlock()
	return Verdict{Accepted: true, Ref: ref, Hit: p.Public.Hit}, nil
}
