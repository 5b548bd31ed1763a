package ledger

import (
	"context"
	"sync"
)

// MemoryStore keeps accounts in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

func clone(a Account) Account {
	a.Transactions = append([]Transaction(nil), a.Transactions...)
	return a
}

func (m *MemoryStore) GetAccount(ctx context.Context, key string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[key]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return clone(a), nil
}

func (m *MemoryStore) CreateAccount(ctx context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.Key]; ok {
		return ErrAccountExists
	}
	m.accounts[a.Key] = clone(a)
	return nil
}

func (m *MemoryStore) Append(ctx context.Context, a Account, tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.accounts[a.Key]
	if !ok {
		return ErrAccountNotFound
	}
	if tx.SessionID != "" {
		if _, dup := cur.Find(tx.SessionID, tx.Type); dup {
			return ErrDuplicateEvent
		}
	}
	m.accounts[a.Key] = clone(a)
	return nil
}
