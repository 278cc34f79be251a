package repository

import (
	"context"
	"errors"
	"fmt"

	"telegram_ledger/internal/domain"
	"telegram_ledger/internal/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the Postgres-backed ledger.Store
type PgStore struct {
	db       *pgxpool.Pool
	accounts *AccountRepository
	txns     *TransactionRepository
}

// NewPgStore creates a ledger store over the pool
func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{
		db:       db,
		accounts: NewAccountRepository(db),
		txns:     NewTransactionRepository(db),
	}
}

// RunInTx runs fn inside one database transaction. Rows read through the Tx
// are locked FOR UPDATE until commit or rollback.
func (s *PgStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx, accounts: s.accounts, txns: s.txns}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PgStore) AccountBySlug(ctx context.Context, slug string) (*domain.Account, error) {
	return s.accounts.GetBySlug(ctx, slug)
}

func (s *PgStore) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	return s.accounts.List(ctx)
}

func (s *PgStore) TransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	return s.txns.GetByID(ctx, id)
}

// AccountHistory reads the account and its transactions in one read-only
// REPEATABLE READ transaction so a concurrent commit cannot land between them.
func (s *PgStore) AccountHistory(ctx context.Context, slug string) (*domain.Account, []*domain.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acc, err := s.accounts.GetBySlugWithTx(ctx, tx, slug)
	if err != nil {
		return nil, nil, err
	}
	txns, err := s.txns.GetByAccountWithTx(ctx, tx, slug)
	if err != nil {
		return nil, nil, fmt.Errorf("list transactions: %w", err)
	}
	return acc, txns, tx.Commit(ctx)
}

func (s *PgStore) ListCancellable(ctx context.Context, actorID int64, limit int) ([]*domain.Transaction, error) {
	return s.txns.GetCancellable(ctx, actorID, limit)
}

type pgTx struct {
	tx       pgx.Tx
	accounts *AccountRepository
	txns     *TransactionRepository
}

func (t *pgTx) LockAccounts(ctx context.Context, slugs ...string) (map[string]*domain.Account, error) {
	return t.accounts.LockBySlugsWithTx(ctx, t.tx, slugs...)
}

func (t *pgTx) LockTransactions(ctx context.Context, ids ...int64) (map[int64]*domain.Transaction, error) {
	return t.txns.LockByIDsWithTx(ctx, t.tx, ids...)
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	err := t.txns.CreateWithTx(ctx, t.tx, txn)

	// the partial unique index on cancelled_transaction_id backs up the
	// cancelled_at check done by the engine
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && txn.CancelledTransactionID != nil {
		return fmt.Errorf("%w: %d", domain.ErrAlreadyCancelled, *txn.CancelledTransactionID)
	}
	return err
}

func (t *pgTx) LinkTransactions(ctx context.Context, a, b int64) error {
	return t.txns.LinkWithTx(ctx, t.tx, a, b)
}

func (t *pgTx) MarkCancelled(ctx context.Context, originalID, reversalID int64) error {
	return t.txns.MarkCancelledWithTx(ctx, t.tx, originalID, reversalID)
}

func (t *pgTx) SetBalance(ctx context.Context, slug string, balance int64) error {
	return t.accounts.SetBalanceWithTx(ctx, t.tx, slug, balance)
}
