package ledger

import (
	"context"
	"fmt"

	"telegram_ledger/internal/domain"
	"telegram_ledger/internal/logger"
	"telegram_ledger/internal/metrics"
)

// Entry describes a single-account movement
type Entry struct {
	AccountSlug string
	Amount      int64
	Currency    string // empty means the account's currency
	Description string
	Source      domain.Source
	Actor       domain.Actor
}

// Transfer describes a movement between two accounts. Amounts are magnitudes;
// they differ when the accounts hold different currencies.
type Transfer struct {
	FromSlug     string
	ToSlug       string
	FromAmount   int64
	ToAmount     int64
	FromCurrency string
	ToCurrency   string
	Description  string
	Actor        domain.Actor
}

// TransferResult holds the ids of the two legs written by a transfer or by its
// cancellation.
type TransferResult struct {
	OutgoingID int64
	IncomingID int64
}

// SyncResult is the outcome of a balance resynchronization
type SyncResult struct {
	TransactionID int64
	Delta         int64
	NoOp          bool
}

// Engine is the only writer of balances and transactions.
type Engine struct {
	store Store
}

// NewEngine creates a ledger engine over the given store
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// RecordTransaction writes a manual or sync movement and updates the balance.
func (e *Engine) RecordTransaction(ctx context.Context, entry Entry) (id int64, err error) {
	defer func() { e.observe(ctx, "record", err, "account", entry.AccountSlug, "amount", entry.Amount, "id", id) }()

	switch entry.Source {
	case domain.SourceManual, domain.SourceSync:
	case domain.SourceTransfer, domain.SourceCancellation:
		return 0, fmt.Errorf("%w: %s is written by its own operation", domain.ErrInvalidSource, entry.Source)
	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidSource, entry.Source)
	}
	if entry.Amount == 0 {
		return 0, domain.ErrInvalidAmount
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		accounts, err := tx.LockAccounts(ctx, entry.AccountSlug)
		if err != nil {
			return err
		}
		t, err := post(ctx, tx, accounts[entry.AccountSlug], &domain.Transaction{
			Amount:      entry.Amount,
			Currency:    entry.Currency,
			Description: entry.Description,
			Source:      entry.Source,
		}, entry.Actor)
		if err != nil {
			return err
		}
		id = t.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SyncBalance brings the account balance to target by writing the difference
// as a sync transaction. The difference is computed from the balance read in
// the same unit; a zero difference writes nothing.
func (e *Engine) SyncBalance(ctx context.Context, slug string, target int64, actor domain.Actor) (res SyncResult, err error) {
	defer func() {
		e.observe(ctx, "sync", err, "account", slug, "target", target, "delta", res.Delta, "noop", res.NoOp)
	}()

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		accounts, err := tx.LockAccounts(ctx, slug)
		if err != nil {
			return err
		}
		acc := accounts[slug]

		delta := target - acc.Balance
		if delta == 0 {
			res = SyncResult{NoOp: true}
			return nil
		}

		t, err := post(ctx, tx, acc, &domain.Transaction{
			Amount: delta,
			Source: domain.SourceSync,
		}, actor)
		if err != nil {
			return err
		}
		res = SyncResult{TransactionID: t.ID, Delta: delta}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	return res, nil
}

// RecordTransfer writes both legs of a transfer and updates both balances.
func (e *Engine) RecordTransfer(ctx context.Context, tr Transfer) (res TransferResult, err error) {
	defer func() {
		e.observe(ctx, "transfer", err, "from", tr.FromSlug, "to", tr.ToSlug, "outgoing_id", res.OutgoingID, "incoming_id", res.IncomingID)
	}()

	if tr.FromSlug == tr.ToSlug {
		return TransferResult{}, domain.ErrSameAccount
	}
	fromAmount, toAmount := abs(tr.FromAmount), abs(tr.ToAmount)
	if fromAmount == 0 || toAmount == 0 {
		return TransferResult{}, domain.ErrInvalidAmount
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		accounts, err := tx.LockAccounts(ctx, tr.FromSlug, tr.ToSlug)
		if err != nil {
			return err
		}

		out, err := post(ctx, tx, accounts[tr.FromSlug], &domain.Transaction{
			Amount:       -fromAmount,
			Currency:     tr.FromCurrency,
			Description:  tr.Description,
			Source:       domain.SourceTransfer,
			TransferType: domain.TransferOutgoing,
		}, tr.Actor)
		if err != nil {
			return err
		}
		in, err := post(ctx, tx, accounts[tr.ToSlug], &domain.Transaction{
			Amount:       toAmount,
			Currency:     tr.ToCurrency,
			Description:  tr.Description,
			Source:       domain.SourceTransfer,
			TransferType: domain.TransferIncoming,
		}, tr.Actor)
		if err != nil {
			return err
		}
		if err := tx.LinkTransactions(ctx, out.ID, in.ID); err != nil {
			return err
		}

		res = TransferResult{OutgoingID: out.ID, IncomingID: in.ID}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	return res, nil
}

// CancelTransaction writes a reversal of a manual or sync transaction and
// marks the original as cancelled. Transfer legs go through CancelTransfer.
func (e *Engine) CancelTransaction(ctx context.Context, originalID int64, actor domain.Actor) (id int64, err error) {
	defer func() { e.observe(ctx, "cancel", err, "original_id", originalID, "reversal_id", id) }()

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		txns, err := tx.LockTransactions(ctx, originalID)
		if err != nil {
			return err
		}
		original := txns[originalID]

		if original.IsCancelled() {
			return domain.ErrAlreadyCancelled
		}
		switch original.Source {
		case domain.SourceManual, domain.SourceSync:
		case domain.SourceCancellation:
			return domain.ErrInvalidCancellationTarget
		case domain.SourceTransfer:
			return fmt.Errorf("%w: transfer legs are cancelled as a pair", domain.ErrInvalidCancellationTarget)
		default:
			return fmt.Errorf("%w: %q", domain.ErrInvalidSource, original.Source)
		}

		accounts, err := tx.LockAccounts(ctx, original.AccountSlug)
		if err != nil {
			return err
		}
		reversal, err := reverse(ctx, tx, accounts[original.AccountSlug], original, actor)
		if err != nil {
			return err
		}
		id = reversal.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CancelTransfer reverses both legs of the transfer that anyLegID belongs to.
func (e *Engine) CancelTransfer(ctx context.Context, anyLegID int64, actor domain.Actor) (res TransferResult, err error) {
	defer func() {
		e.observe(ctx, "cancel_transfer", err, "leg_id", anyLegID, "outgoing_id", res.OutgoingID, "incoming_id", res.IncomingID)
	}()

	// Links are written once with the transfer, so the pair can be resolved
	// before locking. Both legs are then locked in one call, lowest id first.
	leg, err := e.store.TransactionByID(ctx, anyLegID)
	if err != nil {
		return TransferResult{}, err
	}
	if !leg.IsTransferLeg() {
		return TransferResult{}, domain.ErrNotATransfer
	}
	pairID := *leg.LinkedTransactionID

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		txns, err := tx.LockTransactions(ctx, anyLegID, pairID)
		if err != nil {
			return err
		}
		leg := txns[anyLegID]
		if !leg.IsTransferLeg() || *leg.LinkedTransactionID != pairID {
			return domain.ErrNotATransfer
		}

		out, in := leg, txns[pairID]
		if out.TransferType == domain.TransferIncoming {
			out, in = in, out
		}
		if out.TransferType != domain.TransferOutgoing || in.TransferType != domain.TransferIncoming {
			return fmt.Errorf("%w: legs %d and %d are not an outgoing/incoming pair", domain.ErrNotATransfer, out.ID, in.ID)
		}
		if out.IsCancelled() || in.IsCancelled() {
			return domain.ErrAlreadyCancelled
		}

		accounts, err := tx.LockAccounts(ctx, out.AccountSlug, in.AccountSlug)
		if err != nil {
			return err
		}
		revOut, err := reverse(ctx, tx, accounts[out.AccountSlug], out, actor)
		if err != nil {
			return err
		}
		revIn, err := reverse(ctx, tx, accounts[in.AccountSlug], in, actor)
		if err != nil {
			return err
		}
		if err := tx.LinkTransactions(ctx, revOut.ID, revIn.ID); err != nil {
			return err
		}

		res = TransferResult{OutgoingID: revOut.ID, IncomingID: revIn.ID}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	return res, nil
}

// Account returns the account with the given slug
func (e *Engine) Account(ctx context.Context, slug string) (*domain.Account, error) {
	return e.store.AccountBySlug(ctx, slug)
}

// Accounts returns every account
func (e *Engine) Accounts(ctx context.Context) ([]*domain.Account, error) {
	return e.store.ListAccounts(ctx)
}

// Transaction returns a transaction by id
func (e *Engine) Transaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	return e.store.TransactionByID(ctx, id)
}

// Cancellable lists what the actor may still cancel, newest first
func (e *Engine) Cancellable(ctx context.Context, actorID int64, limit int) ([]*domain.Transaction, error) {
	return e.store.ListCancellable(ctx, actorID, limit)
}

// post applies t to acc: it fills the derived fields, inserts t and stores the
// new balance. acc must have been locked by tx.
func post(ctx context.Context, tx Tx, acc *domain.Account, t *domain.Transaction, actor domain.Actor) (*domain.Transaction, error) {
	if t.Currency == "" {
		t.Currency = acc.Currency
	}
	if t.Currency != acc.Currency {
		return nil, fmt.Errorf("%w: %s is held in %s, got %s", domain.ErrCurrencyMismatch, acc.Slug, acc.Currency, t.Currency)
	}

	t.AccountSlug = acc.Slug
	t.ActorID = actor.ID
	t.ActorName = actor.Name
	t.BalanceAfter = acc.Balance + t.Amount

	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	if err := tx.SetBalance(ctx, acc.Slug, t.BalanceAfter); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	acc.Balance = t.BalanceAfter
	return t, nil
}

// reverse posts the negation of original and links the two.
func reverse(ctx context.Context, tx Tx, acc *domain.Account, original *domain.Transaction, actor domain.Actor) (*domain.Transaction, error) {
	originalID := original.ID
	reversal, err := post(ctx, tx, acc, &domain.Transaction{
		Amount:                 -original.Amount,
		Currency:               original.Currency,
		Description:            original.Description,
		Source:                 domain.SourceCancellation,
		TransferType:           original.TransferType,
		CancelledTransactionID: &originalID,
	}, actor)
	if err != nil {
		return nil, err
	}
	if err := tx.MarkCancelled(ctx, original.ID, reversal.ID); err != nil {
		return nil, err
	}
	return reversal, nil
}

func (e *Engine) observe(ctx context.Context, op string, err error, args ...any) {
	metrics.LedgerOperations.WithLabelValues(op, metrics.Result(err)).Inc()

	log := logger.WithContext(ctx).With("component", "ledger", "operation", op)
	if err != nil {
		log.Warn("ledger operation failed", append(args, "error", err)...)
		return
	}
	log.Info("ledger operation committed", args...)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
