package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkbattle/internal/game"
	"zkbattle/internal/identity"
)

func newTestBook(t *testing.T, verified bool) (*Book, string) {
	t.Helper()
	b := NewBook(NewMemoryStore())
	a, err := b.Bootstrap(context.Background(), identity.Identity{Key: "alice", Verified: verified})
	require.NoError(t, err)
	return b, a.Key
}

func TestBootstrapSeedsOnce(t *testing.T) {
	ctx := context.Background()
	b := NewBook(NewMemoryStore())

	a, err := b.Bootstrap(ctx, identity.Identity{Key: "v", Verified: true})
	require.NoError(t, err)
	assert.Equal(t, int64(500), a.Balance)

	u, err := b.Bootstrap(ctx, identity.Identity{Key: "u"})
	require.NoError(t, err)
	assert.Equal(t, int64(200), u.Balance)

	again, err := b.Bootstrap(ctx, identity.Identity{Key: "v", Verified: true})
	require.NoError(t, err)
	assert.Len(t, again.Transactions, 1)
	assert.Equal(t, int64(500), again.Balance)
}

func TestWinCreditsTwiceStakeOnce(t *testing.T) {
	ctx := context.Background()
	b, key := newTestBook(t, true)

	_, applied, err := b.Stake(ctx, key, "s1", 10)
	require.NoError(t, err)
	require.True(t, applied)

	_, applied, err = b.Stake(ctx, key, "s1", 10)
	require.NoError(t, err)
	assert.False(t, applied, "stake is idempotent per session")

	tx, applied, err := b.Win(ctx, key, "s1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(20), tx.Amount)

	_, applied, err = b.Win(ctx, key, "s1")
	require.NoError(t, err)
	assert.False(t, applied)

	_, _, err = b.Refund(ctx, key, "s1")
	assert.ErrorIs(t, err, ErrAlreadySettled)
	assert.ErrorIs(t, err, game.ErrLedgerInvariant)

	a, err := b.Account(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(510), a.Balance)
	assert.Equal(t, 1, a.Wins)
	assert.Equal(t, int64(10), a.TotalStaked)
	require.NoError(t, a.Verify())
}

func TestLossForfeitsStake(t *testing.T) {
	ctx := context.Background()
	b, key := newTestBook(t, false)
	_, _, err := b.Stake(ctx, key, "s1", 50)
	require.NoError(t, err)
	_, applied, err := b.Loss(ctx, key, "s1")
	require.NoError(t, err)
	assert.True(t, applied)

	_, _, err = b.Win(ctx, key, "s1")
	assert.ErrorIs(t, err, ErrAlreadySettled)

	a, err := b.Account(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(150), a.Balance)
	assert.Equal(t, 1, a.Losses)
	require.NoError(t, a.Verify())
}

func TestRefundRestoresBalance(t *testing.T) {
	ctx := context.Background()
	b, key := newTestBook(t, false)
	_, _, err := b.Stake(ctx, key, "s1", 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err = b.Refund(ctx, key, "s1")
		require.NoError(t, err)
	}
	a, err := b.Account(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(200), a.Balance)
	require.NoError(t, a.Verify())

	settled, ok := a.Settlement("s1")
	require.True(t, ok)
	assert.Equal(t, TxRefund, settled.Type)
}

func TestRefundWithoutStake(t *testing.T) {
	b, key := newTestBook(t, false)
	_, _, err := b.Refund(context.Background(), key, "nope")
	assert.ErrorIs(t, err, ErrNoStake)
}

func TestStakeNeedsFunds(t *testing.T) {
	b, key := newTestBook(t, false)
	_, _, err := b.Stake(context.Background(), key, "s1", 201)
	assert.ErrorIs(t, err, ErrInsufficient)
}

func TestVerifyCatchesDoubleSettlement(t *testing.T) {
	a := Account{
		Key:     "x",
		Balance: 30,
		Transactions: []Transaction{
			{Type: TxDeposit, Amount: 10},
			{Type: TxStake, Amount: 10, SessionID: "s"},
			{Type: TxWin, Amount: 20, SessionID: "s"},
			{Type: TxRefund, Amount: 10, SessionID: "s"},
		},
	}
	assert.ErrorIs(t, a.Verify(), game.ErrLedgerInvariant)
}
