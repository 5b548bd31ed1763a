package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"zkbattle/internal/identity"
)

// Book applies ledger events on top of a Store. It is the only writer of
// balances; its mutex serialises read-modify-write cycles in-process and the
// store's uniqueness rule backs it across restarts.
type Book struct {
	store Store
	now   func() time.Time
	log   *slog.Logger

	mu sync.Mutex
}

type Option func(*Book)

func WithClock(now func() time.Time) Option { return func(b *Book) { b.now = now } }

func WithLogger(l *slog.Logger) Option { return func(b *Book) { b.log = l } }

func NewBook(store Store, opts ...Option) *Book {
	b := &Book{store: store, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Book) newTx(t TxType, amount int64, sessionID string) Transaction {
	return Transaction{
		ID:        uuid.NewString(),
		Type:      t,
		Amount:    amount,
		Status:    StatusSettled,
		Timestamp: b.now().UTC(),
		SessionID: sessionID,
	}
}

// Bootstrap returns the identity's account, creating it with the starting
// deposit on first use.
func (b *Book) Bootstrap(ctx context.Context, id identity.Identity) (Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, err := b.store.GetAccount(ctx, id.Key)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, fmt.Errorf("load account: %w", err)
	}
	deposit := b.newTx(TxDeposit, id.StartingBalance(), "")
	a = Account{Key: id.Key, Balance: deposit.Amount, Transactions: []Transaction{deposit}}
	if err := b.store.CreateAccount(ctx, a); err != nil {
		return Account{}, fmt.Errorf("create account: %w", err)
	}
	b.log.InfoContext(ctx, "account bootstrapped", "account", id.Key, "verified", id.Verified, "balance", a.Balance)
	return a, nil
}

func (b *Book) Account(ctx context.Context, key string) (Account, error) {
	return b.store.GetAccount(ctx, key)
}

// Stake escrows amount for sessionID. Repeating it is a no-op: applied is
// false and the original transaction is returned.
func (b *Book) Stake(ctx context.Context, key, sessionID string, amount int64) (tx Transaction, applied bool, err error) {
	if amount <= 0 {
		return Transaction{}, false, fmt.Errorf("stake must be positive")
	}
	return b.record(ctx, key, sessionID, TxStake, func(a Account, _ Transaction) (int64, error) {
		if a.Balance < amount {
			return 0, fmt.Errorf("%w: balance %d, stake %d", ErrInsufficient, a.Balance, amount)
		}
		return amount, nil
	})
}

// Win credits twice the stake.
func (b *Book) Win(ctx context.Context, key, sessionID string) (Transaction, bool, error) {
	return b.record(ctx, key, sessionID, TxWin, func(_ Account, stake Transaction) (int64, error) {
		return 2 * stake.Amount, nil
	})
}

// Loss records the forfeited stake. It moves no funds.
func (b *Book) Loss(ctx context.Context, key, sessionID string) (Transaction, bool, error) {
	return b.record(ctx, key, sessionID, TxLoss, func(Account, Transaction) (int64, error) {
		return 0, nil
	})
}

// Refund returns the stake of an abandoned or aborted session.
func (b *Book) Refund(ctx context.Context, key, sessionID string) (Transaction, bool, error) {
	return b.record(ctx, key, sessionID, TxRefund, func(_ Account, stake Transaction) (int64, error) {
		return stake.Amount, nil
	})
}

func (b *Book) record(ctx context.Context, key, sessionID string, t TxType, amount func(Account, Transaction) (int64, error)) (Transaction, bool, error) {
	if sessionID == "" {
		return Transaction{}, false, fmt.Errorf("%s: session id required", t)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	a, err := b.store.GetAccount(ctx, key)
	if err != nil {
		return Transaction{}, false, fmt.Errorf("load account: %w", err)
	}
	if prev, ok := a.Find(sessionID, t); ok {
		return prev, false, nil
	}

	var stake Transaction
	if t != TxStake {
		var ok bool
		if stake, ok = a.Find(sessionID, TxStake); !ok {
			return Transaction{}, false, fmt.Errorf("%s %s: %w", t, sessionID, ErrNoStake)
		}
		if prev, ok := a.Settlement(sessionID); ok {
			return Transaction{}, false, fmt.Errorf("%s after %s for %s: %w", t, prev.Type, sessionID, ErrAlreadySettled)
		}
	}

	amt, err := amount(a, stake)
	if err != nil {
		return Transaction{}, false, err
	}
	tx := b.newTx(t, amt, sessionID)
	a.Balance += tx.Signed()
	switch t {
	case TxStake:
		a.TotalStaked += amt
	case TxWin:
		a.Wins++
	case TxLoss:
		a.Losses++
	}
	a.Transactions = append(a.Transactions, tx)

	if err := b.store.Append(ctx, a, tx); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			if cur, gerr := b.store.GetAccount(ctx, key); gerr == nil {
				if prev, ok := cur.Find(sessionID, t); ok {
					return prev, false, nil
				}
			}
		}
		return Transaction{}, false, fmt.Errorf("append %s: %w", t, err)
	}
	b.log.InfoContext(ctx, "ledger event", "account", key, "session_id", sessionID, "type", t, "amount", amt, "balance", a.Balance)
	return tx, true, nil
}
