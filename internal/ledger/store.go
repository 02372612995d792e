package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for wallets and ledger entries. All
// mutations run inside a transaction holding a row lock on the wallet, so
// concurrent debits against the same user serialize instead of interleaving.
type Store struct {
	pool           *pgxpool.Pool
	defaultBalance float64
}

// NewStore creates a wallet store backed by the given connection pool.
// Wallets referenced for the first time are provisioned with defaultBalance.
func NewStore(pool *pgxpool.Pool, defaultBalance float64) *Store {
	return &Store{pool: pool, defaultBalance: defaultBalance}
}

// GetOrCreate returns the wallet for userID, provisioning it with the default
// balance on first reference. Provisioning is idempotent under concurrency:
// the ON CONFLICT no-op update returns the existing row.
func (s *Store) GetOrCreate(ctx context.Context, userID int64) (*Wallet, error) {
	w := &Wallet{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO wallets (user_id, balance)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance
		 RETURNING user_id, balance, updated_at`,
		userID, s.defaultBalance,
	).Scan(&w.UserID, &w.Balance, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("provisioning wallet: %w", err)
	}
	return w, nil
}

// ApplyDebit atomically subtracts amount from the user's wallet, provisioning
// the wallet first if it does not exist. It returns the resulting balance and
// whether the mutation was applied; a replay of an already-recorded
// (transaction_id, debit) pair applies nothing and reports the current
// balance. An underfunded debit returns ErrInsufficientFunds and leaves the
// balance unchanged.
func (s *Store) ApplyDebit(ctx context.Context, userID int64, amount float64, transactionID string) (balance float64, applied bool, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, false, fmt.Errorf("beginning debit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, err = s.lockWallet(ctx, tx, userID, true)
	if err != nil {
		return 0, false, err
	}

	dup, err := entryExists(ctx, tx, transactionID, OpDebit)
	if err != nil {
		return 0, false, err
	}
	if dup {
		// Replayed debit: the charge already landed, report current state.
		if err := tx.Commit(ctx); err != nil {
			return 0, false, fmt.Errorf("committing debit replay: %w", err)
		}
		return balance, false, nil
	}

	if balance < amount {
		return balance, false, ErrInsufficientFunds
	}

	err = tx.QueryRow(ctx,
		`UPDATE wallets SET balance = balance - $1, updated_at = now()
		 WHERE user_id = $2
		 RETURNING balance`,
		amount, userID,
	).Scan(&balance)
	if err != nil {
		return 0, false, fmt.Errorf("debiting wallet: %w", err)
	}

	if err := recordEntry(ctx, tx, transactionID, OpDebit, userID, amount); err != nil {
		return 0, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("committing debit: %w", err)
	}
	return balance, true, nil
}

// ApplyCredit atomically adds amount back to the user's wallet. A credit
// against a wallet that was never provisioned returns ErrWalletNotFound. A
// replay of an already-recorded (transaction_id, credit) pair applies
// nothing, so retried compensations never double-credit.
func (s *Store) ApplyCredit(ctx context.Context, userID int64, amount float64, transactionID string) (balance float64, applied bool, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, false, fmt.Errorf("beginning credit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, err = s.lockWallet(ctx, tx, userID, false)
	if err != nil {
		return 0, false, err
	}

	dup, err := entryExists(ctx, tx, transactionID, OpCredit)
	if err != nil {
		return 0, false, err
	}
	if dup {
		if err := tx.Commit(ctx); err != nil {
			return 0, false, fmt.Errorf("committing credit replay: %w", err)
		}
		return balance, false, nil
	}

	err = tx.QueryRow(ctx,
		`UPDATE wallets SET balance = balance + $1, updated_at = now()
		 WHERE user_id = $2
		 RETURNING balance`,
		amount, userID,
	).Scan(&balance)
	if err != nil {
		return 0, false, fmt.Errorf("crediting wallet: %w", err)
	}

	if err := recordEntry(ctx, tx, transactionID, OpCredit, userID, amount); err != nil {
		return 0, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("committing credit: %w", err)
	}
	return balance, true, nil
}

// lockWallet acquires a row lock on the user's wallet and returns its balance.
// When provision is true a missing wallet is created with the default balance
// (the insert's no-op conflict update also takes the row lock); otherwise a
// missing wallet is ErrWalletNotFound.
func (s *Store) lockWallet(ctx context.Context, tx pgx.Tx, userID int64, provision bool) (float64, error) {
	var balance float64
	err := tx.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		if !provision {
			return 0, ErrWalletNotFound
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO wallets (user_id, balance)
			 VALUES ($1, $2)
			 ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance
			 RETURNING balance`,
			userID, s.defaultBalance,
		).Scan(&balance)
		if err != nil {
			return 0, fmt.Errorf("provisioning wallet: %w", err)
		}
		return balance, nil
	}
	if err != nil {
		return 0, fmt.Errorf("locking wallet row: %w", err)
	}
	return balance, nil
}

func entryExists(ctx context.Context, tx pgx.Tx, transactionID, op string) (bool, error) {
	var one int
	err := tx.QueryRow(ctx,
		`SELECT 1 FROM ledger_entries WHERE transaction_id = $1 AND op = $2`,
		transactionID, op,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking ledger entry: %w", err)
	}
	return true, nil
}

func recordEntry(ctx context.Context, tx pgx.Tx, transactionID, op string, userID int64, amount float64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (transaction_id, op, user_id, amount)
		 VALUES ($1, $2, $3, $4)`,
		transactionID, op, userID, amount,
	)
	if err != nil {
		return fmt.Errorf("recording ledger entry: %w", err)
	}
	return nil
}
