// Package pipeline drives a Fire action through witness generation, circuit
// compilation, proof generation and verification, feeding every stage
// result back through the session reducer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"zkbattle/internal/game"
	"zkbattle/internal/prover"
	"zkbattle/internal/session"
)

const DefaultStageTimeout = 30 * time.Second

// Dispatcher is the session store as seen by the pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, a game.Action) (game.State, error)
	State() game.State
}

// Resolver applies a VERIFICATION_SUCCESS outcome. It runs while the
// pipeline guard is still held.
type Resolver interface {
	Resolve(ctx context.Context) error
}

// Result is the outcome of one Fire call.
type Result struct {
	// Skipped is set when the call did not start a pipeline.
	Skipped bool       `json:"skipped"`
	Target  int        `json:"target"`
	Stage   game.Stage `json:"stage"`
	Hit     bool       `json:"hit"`
	Ref     string     `json:"ref,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

type Orchestrator struct {
	sessions Dispatcher
	prover   prover.Prover
	guard    *Guard
	resolver Resolver
	timeout  time.Duration
	now      func() time.Time
	tracer   trace.Tracer
	log      *slog.Logger
}

type Option func(*Orchestrator)

func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithResolver(r Resolver) Option { return func(o *Orchestrator) { o.resolver = r } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

func WithTracer(t trace.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

func New(sessions Dispatcher, p prover.Prover, guard *Guard, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		prover:   p,
		guard:    guard,
		timeout:  DefaultStageTimeout,
		now:      time.Now,
		tracer:   otel.Tracer("zkbattle/internal/pipeline"),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Busy reports whether a pipeline currently holds the guard.
func (o *Orchestrator) Busy() bool { return o.guard.Held() }

// Fire runs the full pipeline against target. A call made while another
// pipeline runs returns Result{Skipped: true} and no error. A Fire the
// reducer rejects returns the coded rejection. A failed or rejected proof
// returns game.ErrVerificationFailure after the state reached
// VERIFICATION_FAILURE. Snapshot save failures do not stop the pipeline but
// are joined into the returned error.
//
// Once started the pipeline is not cancelled by ctx; each stage has its own
// timeout instead.
func (o *Orchestrator) Fire(ctx context.Context, target int) (Result, error) {
	if !o.guard.TryAcquire() {
		o.log.DebugContext(ctx, "fire ignored, pipeline busy", "target", target)
		return Result{Skipped: true, Target: target}, nil
	}
	defer o.guard.Release()

	ctx = context.WithoutCancel(ctx)
	ctx, span := o.tracer.Start(ctx, "pipeline.fire", trace.WithAttributes(attribute.Int("target", target)))
	defer span.End()

	rec := &recorder{Dispatcher: o.sessions}
	s, err := rec.Dispatch(ctx, game.BeginFire{Target: target, At: o.now()})
	if session.Rejected(err) {
		return Result{Skipped: true, Target: target, Stage: s.Proof.Stage, Reason: err.Error()}, err
	}
	if s.Proof.Stage != game.StageWitnessGeneration || s.Proof.Target != target {
		err = game.Errorf(game.CodePipelineOrder, "fire at %s did not open a pipeline", game.CellName(target))
		return Result{Skipped: true, Target: target, Stage: s.Proof.Stage}, rec.join(fmt.Errorf("begin fire: %w", err))
	}
	span.SetAttributes(attribute.String("session_id", s.SessionID))
	log := o.log.With("session_id", s.SessionID, "target", game.CellName(target))
	log.InfoContext(ctx, "pipeline started")

	res, err := o.run(ctx, rec, s, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WarnContext(ctx, "pipeline failed", "stage", res.Stage, "err", err)
		return res, rec.join(err)
	}
	log.InfoContext(ctx, "proof verified", "hit", res.Hit, "ref", res.Ref)

	if o.resolver != nil {
		if err := o.resolver.Resolve(ctx); err != nil {
			span.RecordError(err)
			return res, rec.join(fmt.Errorf("resolve shot: %w", err))
		}
	}
	if err := rec.join(nil); err != nil {
		span.RecordError(err)
		return res, err
	}
	return res, nil
}

// recorder keeps snapshot save failures aside so the in-memory pipeline can
// still reach a resting stage. Reducer rejections pass through.
type recorder struct {
	Dispatcher
	saves []error
}

func (r *recorder) Dispatch(ctx context.Context, a game.Action) (game.State, error) {
	s, err := r.Dispatcher.Dispatch(ctx, a)
	if err != nil && !session.Rejected(err) {
		r.saves = append(r.saves, err)
		return s, nil
	}
	return s, err
}

// join adds the recorded save failures to err.
func (r *recorder) join(err error) error {
	if len(r.saves) == 0 {
		return err
	}
	return errors.Join(append([]error{err}, r.saves...)...)
}

func (o *Orchestrator) run(ctx context.Context, d Dispatcher, s game.State, target int) (Result, error) {
	res := Result{Target: target}

	w, err := call(ctx, o, game.StageWitnessGeneration, func(ctx context.Context) (prover.Witness, error) {
		return o.prover.BuildWitness(ctx, prover.WitnessRequest{
			Position: s.OpponentUnit,
			Target:   target,
			Salt:     s.OpponentSalt,
		})
	})
	if err != nil {
		return o.fail(ctx, d, res, game.StageWitnessGeneration, err)
	}
	if err := o.advance(ctx, d, game.WitnessBuilt{Target: target, Witness: w.Blob}, game.StageCircuitCompilation); err != nil {
		return o.order(d, res, err)
	}

	if _, err := call(ctx, o, game.StageCircuitCompilation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.prover.CompileCircuit(ctx)
	}); err != nil {
		return o.fail(ctx, d, res, game.StageCircuitCompilation, err)
	}
	if err := o.advance(ctx, d, game.CircuitReady{Target: target}, game.StageProofGeneration); err != nil {
		return o.order(d, res, err)
	}

	p, err := call(ctx, o, game.StageProofGeneration, func(ctx context.Context) (prover.Proof, error) {
		return o.prover.GenerateProof(ctx, w)
	})
	if err != nil {
		return o.fail(ctx, d, res, game.StageProofGeneration, err)
	}
	if err := o.advance(ctx, d, game.ProofGenerated{Target: target, Proof: p.Blob}, game.StageOnChainVerification); err != nil {
		return o.order(d, res, err)
	}

	// The proof is only worth verifying against what the session committed to.
	if s.Commitment != "" && p.Public.Commitment != s.Commitment {
		return o.fail(ctx, d, res, game.StageOnChainVerification, errCommitmentMismatch)
	}
	v, err := call(ctx, o, game.StageOnChainVerification, func(ctx context.Context) (prover.Verdict, error) {
		return o.prover.VerifyOnChain(ctx, p)
	})
	if err != nil {
		return o.fail(ctx, d, res, game.StageOnChainVerification, err)
	}
	settled := game.VerificationSettled{
		Target:   target,
		Accepted: v.Accepted,
		Ref:      v.Ref,
		Hit:      v.Hit,
		Reason:   v.Reason,
		At:       o.now(),
	}
	want := game.StageVerificationSuccess
	if !v.Accepted {
		want = game.StageVerificationFailure
	}
	if err := o.advance(ctx, d, settled, want); err != nil {
		return o.order(d, res, err)
	}
	res.Stage, res.Ref = want, v.Ref
	if !v.Accepted {
		res.Reason = v.Reason
		return res, game.Errorf(game.CodeVerificationFailure, "proof for %s rejected: %s", game.CellName(target), v.Reason)
	}
	res.Hit = v.Hit
	return res, nil
}

var errCommitmentMismatch = errors.New("proof commitment does not match the session commitment")

// advance dispatches a and checks the reducer reached want.
func (o *Orchestrator) advance(ctx context.Context, d Dispatcher, a game.Action, want game.Stage) error {
	s, err := d.Dispatch(ctx, a)
	if err != nil {
		return err
	}
	if s.Proof.Stage != want {
		return game.Errorf(game.CodePipelineOrder, "expected %s after %T, at %s", want, a, s.Proof.Stage)
	}
	return nil
}

// fail moves the session to VERIFICATION_FAILURE for a stage error.
func (o *Orchestrator) fail(ctx context.Context, d Dispatcher, res Result, stage game.Stage, cause error) (Result, error) {
	s, err := d.Dispatch(ctx, game.StageFailed{
		Stage:  stage,
		Target: res.Target,
		Reason: cause.Error(),
		At:     o.now(),
	})
	if err != nil {
		return o.order(d, res, err)
	}
	res.Stage = s.Proof.Stage
	res.Reason = s.Proof.Error
	return res, game.Wrap(game.CodeVerificationFailure, stage.String()+" failed", cause)
}

func (o *Orchestrator) order(d Dispatcher, res Result, err error) (Result, error) {
	res.Stage = d.State().Proof.Stage
	return res, err
}

type outcome[T any] struct {
	v   T
	err error
}

// call runs one external stage under the stage timeout. A panic or a call
// that outlives the timeout is reported as an error; a late result is
// dropped.
func call[T any](ctx context.Context, o *Orchestrator, stage game.Stage, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "pipeline."+strings.ToLower(stage.String()))
	defer span.End()

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("%s panicked: %v", stage, r)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome[T]{v: v, err: err}
	}()

	var out outcome[T]
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = fmt.Errorf("%s: %w", stage, ctx.Err())
	}
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		var zero T
		return zero, out.err
	}
	return out.v, nil
}
