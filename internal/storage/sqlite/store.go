// Package sqlite persists the session snapshot slot and the ledger in a
// single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"zkbattle/internal/ledger"
	"zkbattle/internal/recovery"
	"zkbattle/internal/storage/sqlite/migrations"
)

type Store struct {
	db *sql.DB
}

var (
	_ ledger.Store           = (*Store)(nil)
	_ recovery.SnapshotStore = (*Store)(nil)
)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put upserts the single snapshot slot.
func (s *Store) Put(ctx context.Context, snap recovery.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (slot, session_id, phase, payload, updated_at)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT (slot) DO UPDATE SET
    session_id = excluded.session_id,
    phase = excluded.phase,
    payload = excluded.payload,
    updated_at = excluded.updated_at`,
		snap.SessionID, snap.Phase, snap.Payload, toMillis(snap.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context) (recovery.Snapshot, error) {
	var (
		snap    recovery.Snapshot
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, phase, payload, updated_at FROM sessions WHERE slot = 1`,
	).Scan(&snap.SessionID, &snap.Phase, &snap.Payload, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return recovery.Snapshot{}, recovery.ErrNoSnapshot
	}
	if err != nil {
		return recovery.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	snap.UpdatedAt = fromMillis(updated)
	return snap, nil
}

func (s *Store) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE slot = 1`); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, key string) (ledger.Account, error) {
	a := ledger.Account{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT balance, wins, losses, total_staked FROM accounts WHERE key = ?`, key,
	).Scan(&a.Balance, &a.Wins, &a.Losses, &a.TotalStaked)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("get account: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, type, amount, status, session_id, created_at
FROM transactions WHERE account_key = ? ORDER BY rowid`, key)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tx ledger.Transaction
			at int64
		)
		if err := rows.Scan(&tx.ID, &tx.Type, &tx.Amount, &tx.Status, &tx.SessionID, &at); err != nil {
			return ledger.Account{}, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Timestamp = fromMillis(at)
		a.Transactions = append(a.Transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return ledger.Account{}, fmt.Errorf("list transactions: %w", err)
	}
	return a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	if len(a.Transactions) > 0 {
		now = a.Transactions[0].Timestamp
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO accounts (key, balance, wins, losses, total_staked, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		a.Key, a.Balance, a.Wins, a.Losses, a.TotalStaked, toMillis(now),
	); err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	for _, t := range a.Transactions {
		if err := insertTx(ctx, tx, a.Key, t); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Append writes t and the account totals in one transaction. The partial
// unique index on (account_key, session_id, type) rejects repeats.
func (s *Store) Append(ctx context.Context, a ledger.Account, t ledger.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE accounts SET balance = ?, wins = ?, losses = ?, total_staked = ?
WHERE key = ?`,
		a.Balance, a.Wins, a.Losses, a.TotalStaked, a.Key,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrAccountNotFound
	}
	if err := insertTx(ctx, tx, a.Key, t); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTx(ctx context.Context, tx *sql.Tx, key string, t ledger.Transaction) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO transactions (id, account_key, type, amount, status, session_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, key, string(t.Type), t.Amount, string(t.Status), t.SessionID, toMillis(t.Timestamp),
	)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s %s: %w", t.Type, t.SessionID, ledger.ErrDuplicateEvent)
	}
	return fmt.Errorf("insert transaction: %w", err)
}

func isUniqueViolation(err error) bool {
	var serr *msqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
