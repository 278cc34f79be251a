package ledger

import (
	"context"

	"telegram_ledger/internal/domain"
)

// Store is the backing store the engine runs against. RunInTx must apply every
// write made through the Tx together or not at all, and keep rows locked by the
// Tx isolated from other units until it returns.
type Store interface {
	Reader
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Reader holds the non-locking reads used by the flows and by integrity checks.
type Reader interface {
	AccountBySlug(ctx context.Context, slug string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
	TransactionByID(ctx context.Context, id int64) (*domain.Transaction, error)
	// AccountHistory returns the account and every one of its transactions in
	// creation order, both read from one consistent snapshot.
	AccountHistory(ctx context.Context, slug string) (*domain.Account, []*domain.Transaction, error)
	// ListCancellable returns the actor's reversible transactions, newest first.
	ListCancellable(ctx context.Context, actorID int64, limit int) ([]*domain.Transaction, error)
}

// Tx is one atomic unit of work.
type Tx interface {
	// LockAccounts loads and locks the accounts. Missing slugs fail with
	// domain.ErrAccountNotFound.
	LockAccounts(ctx context.Context, slugs ...string) (map[string]*domain.Account, error)
	// LockTransactions loads and locks the transactions. Missing ids fail with
	// domain.ErrTransactionNotFound.
	LockTransactions(ctx context.Context, ids ...int64) (map[int64]*domain.Transaction, error)
	// InsertTransaction stores t and fills in its ID and CreatedAt.
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	// LinkTransactions points the two transactions at each other.
	LinkTransactions(ctx context.Context, a, b int64) error
	// MarkCancelled sets cancelled_at and cancelled_by_txn_id on the original.
	MarkCancelled(ctx context.Context, originalID, reversalID int64) error
	SetBalance(ctx context.Context, slug string, balance int64) error
}
