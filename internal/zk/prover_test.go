package zk

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkbattle/internal/prover"
)

func TestShotProofRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}
	ctx := context.Background()
	p := NewProver(t.TempDir())
	salt := []byte("opponent-salt")

	commitment, err := p.Commit(ctx, 5, salt)
	require.NoError(t, err)

	for _, tc := range []struct {
		target int
		hit    bool
	}{{5, true}, {6, false}} {
		w, err := p.BuildWitness(ctx, prover.WitnessRequest{Position: 5, Target: tc.target, Salt: salt})
		require.NoError(t, err)
		assert.Equal(t, commitment, w.Public.Commitment)
		assert.Equal(t, tc.hit, w.Public.Hit)

		require.NoError(t, p.CompileCircuit(ctx))
		proof, err := p.GenerateProof(ctx, w)
		require.NoError(t, err)

		v, err := p.VerifyOnChain(ctx, proof)
		require.NoError(t, err)
		assert.True(t, v.Accepted, v.Reason)
		assert.Equal(t, tc.hit, v.Hit)
		assert.Equal(t, "groth16:"+hex.EncodeToString(proof.Blob[:8]), v.Ref)

		other, err := p.Commit(ctx, 6, salt)
		require.NoError(t, err)
		moved := proof
		moved.Public.Commitment = other
		v, err = p.VerifyOnChain(ctx, moved)
		require.NoError(t, err)
		assert.False(t, v.Accepted, "proof must not verify against another commitment")

		forged := proof
		forged.Public.Hit = !tc.hit
		v, err = p.VerifyOnChain(ctx, forged)
		require.NoError(t, err)
		assert.False(t, v.Accepted, "flipped hit bit must not verify")
	}
}

func TestSimulatedCommitmentMatches(t *testing.T) {
	ctx := context.Background()
	salt := []byte("opponent-salt")
	for _, cell := range []int{0, 5, 24} {
		want, err := NewProver(t.TempDir()).Commit(ctx, cell, salt)
		require.NoError(t, err)
		got, err := prover.NewSimulated(0).Commit(ctx, cell, salt)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestGenerateProofNeedsCompiledCircuit(t *testing.T) {
	p := NewProver(t.TempDir())
	_, err := p.GenerateProof(context.Background(), prover.Witness{})
	assert.ErrorIs(t, err, errNotCompiled)
}

func TestBuildWitnessRejectsBadTarget(t *testing.T) {
	p := NewProver(t.TempDir())
	_, err := p.BuildWitness(context.Background(), prover.WitnessRequest{Position: 1, Target: 30})
	assert.Error(t, err)
}
