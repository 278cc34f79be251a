package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"telegram_ledger/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TransactionRepository struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, account_slug, amount, currency, description, source,
	actor_id, actor_name, balance_after, created_at,
	linked_transaction_id, transfer_type,
	cancelled_transaction_id, cancelled_at, cancelled_by_txn_id`

// GetByID returns a single transaction
func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)

	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return t, nil
}

// GetByAccountWithTx returns every transaction of an account in creation
// order, read inside an existing transaction
func (r *TransactionRepository) GetByAccountWithTx(ctx context.Context, tx pgx.Tx, slug string) ([]*domain.Transaction, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE account_slug = $1
		 ORDER BY created_at, id`,
		slug,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetCancellable returns the actor's transactions that can still be reversed.
// Incoming transfer legs are left out so each transfer shows up once.
func (r *TransactionRepository) GetCancellable(ctx context.Context, actorID int64, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE actor_id = $1
		   AND source <> 'cancellation'
		   AND cancelled_at IS NULL
		   AND (transfer_type IS NULL OR transfer_type <> 'incoming')
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		actorID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// CreateWithTx inserts a transaction using an existing database transaction
func (r *TransactionRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	var transferType *string
	if t.TransferType != domain.TransferNone {
		v := string(t.TransferType)
		transferType = &v
	}

	return tx.QueryRow(ctx,
		`INSERT INTO transactions (account_slug, amount, currency, description, source,
			actor_id, actor_name, balance_after, linked_transaction_id, transfer_type, cancelled_transaction_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at`,
		t.AccountSlug, t.Amount, t.Currency, t.Description, string(t.Source),
		t.ActorID, t.ActorName, t.BalanceAfter, t.LinkedTransactionID, transferType, t.CancelledTransactionID,
	).Scan(&t.ID, &t.CreatedAt)
}

// LockByIDsWithTx loads transactions with FOR UPDATE, lowest id first
func (r *TransactionRepository) LockByIDsWithTx(ctx context.Context, tx pgx.Tx, ids ...int64) (map[int64]*domain.Transaction, error) {
	ordered := append([]int64(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	result := make(map[int64]*domain.Transaction, len(ordered))
	for _, id := range ordered {
		if _, ok := result[id]; ok {
			continue
		}
		row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
		t, err := scanTransaction(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: %d", domain.ErrTransactionNotFound, id)
			}
			return nil, err
		}
		result[id] = t
	}
	return result, nil
}

// LinkWithTx makes two transactions reference each other
func (r *TransactionRepository) LinkWithTx(ctx context.Context, tx pgx.Tx, a, b int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE transactions
		SET linked_transaction_id = CASE WHEN id = $1 THEN $2::bigint ELSE $1::bigint END
		WHERE id IN ($1, $2)
	`, a, b)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 2 {
		return fmt.Errorf("%w: link %d <-> %d", domain.ErrTransactionNotFound, a, b)
	}
	return nil
}

// MarkCancelledWithTx records the reversal on the original. The
// cancelled_at IS NULL guard keeps the forward pointer write-once.
func (r *TransactionRepository) MarkCancelledWithTx(ctx context.Context, tx pgx.Tx, originalID, reversalID int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE transactions
		SET cancelled_at = clock_timestamp(), cancelled_by_txn_id = $2
		WHERE id = $1 AND cancelled_at IS NULL
	`, originalID, reversalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyCancelled
	}
	return nil
}

// Helper to scan rows into Transaction slice
func (r *TransactionRepository) scanRows(rows pgx.Rows) ([]*domain.Transaction, error) {
	var result []*domain.Transaction

	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}

	return result, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t            domain.Transaction
		source       string
		transferType *string
	)

	if err := row.Scan(
		&t.ID, &t.AccountSlug, &t.Amount, &t.Currency, &t.Description, &source,
		&t.ActorID, &t.ActorName, &t.BalanceAfter, &t.CreatedAt,
		&t.LinkedTransactionID, &transferType,
		&t.CancelledTransactionID, &t.CancelledAt, &t.CancelledByTxnID,
	); err != nil {
		return nil, err
	}

	s, err := domain.ParseSource(source)
	if err != nil {
		return nil, err
	}
	t.Source = s
	if transferType != nil {
		t.TransferType = domain.TransferType(*transferType)
	}

	return &t, nil
}
