// Package ledger keeps per-identity balances and the append-only transaction
// history. Each session contributes at most one transaction of each type,
// and a stake settles exactly once: win, loss or refund.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zkbattle/internal/game"
)

type TxType string

const (
	TxDeposit TxType = "deposit"
	TxStake   TxType = "stake"
	TxWin     TxType = "win"
	TxLoss    TxType = "loss"
	TxRefund  TxType = "refund"
)

// settlement reports whether t closes a stake.
func (t TxType) settlement() bool {
	return t == TxWin || t == TxLoss || t == TxRefund
}

type Status string

const StatusSettled Status = "settled"

type Transaction struct {
	ID        string    `json:"id"`
	Type      TxType    `json:"type"`
	Amount    int64     `json:"amount"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId,omitempty"`
}

// Signed is the balance effect of the transaction.
func (t Transaction) Signed() int64 {
	if t.Type == TxStake {
		return -t.Amount
	}
	return t.Amount
}

type Account struct {
	Key          string        `json:"key"`
	Balance      int64         `json:"balance"`
	Wins         int           `json:"wins"`
	Losses       int           `json:"losses"`
	TotalStaked  int64         `json:"totalStaked"`
	Transactions []Transaction `json:"transactions"`
}

// Find returns the session's transaction of type t.
func (a Account) Find(sessionID string, t TxType) (Transaction, bool) {
	for _, tx := range a.Transactions {
		if tx.SessionID == sessionID && tx.Type == t {
			return tx, true
		}
	}
	return Transaction{}, false
}

// Settlement returns how the session's stake was closed, if it was.
func (a Account) Settlement(sessionID string) (Transaction, bool) {
	for _, tx := range a.Transactions {
		if tx.SessionID == sessionID && tx.Type.settlement() {
			return tx, true
		}
	}
	return Transaction{}, false
}

// Verify checks the balance against the history and the settle-once rule.
func (a Account) Verify() error {
	var sum int64
	seen := map[string]TxType{}
	for _, tx := range a.Transactions {
		sum += tx.Signed()
		if !tx.Type.settlement() {
			continue
		}
		if prev, ok := seen[tx.SessionID]; ok {
			return game.Errorf(game.CodeLedgerInvariant, "session %s settled twice (%s, %s)", tx.SessionID, prev, tx.Type)
		}
		seen[tx.SessionID] = tx.Type
	}
	if sum != a.Balance {
		return game.Errorf(game.CodeLedgerInvariant, "balance %d does not match history %d", a.Balance, sum)
	}
	return nil
}

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	// ErrDuplicateEvent is returned by stores when (account, session, type)
	// already has a transaction.
	ErrDuplicateEvent = fmt.Errorf("duplicate ledger event: %w", game.ErrLedgerInvariant)
	// ErrAlreadySettled: a different settlement closed the stake first.
	ErrAlreadySettled = fmt.Errorf("stake already settled: %w", game.ErrLedgerInvariant)
	ErrNoStake        = errors.New("no stake recorded for session")
	ErrInsufficient   = errors.New("insufficient balance")
)

// Store persists accounts. Append must write the transaction and the
// account totals atomically.
type Store interface {
	GetAccount(ctx context.Context, key string) (Account, error)
	CreateAccount(ctx context.Context, a Account) error
	Append(ctx context.Context, a Account, tx Transaction) error
}
