package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"telegram_ledger/internal/domain"
	"telegram_ledger/internal/ledger"
)

// MemoryStore is a ledger.Store kept in process memory. Units run one at a
// time against a staged copy that replaces the live state only when the unit
// succeeds. Used by tests and by STORE_BACKEND=memory local runs.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time
}

type memState struct {
	accounts  map[string]*domain.Account
	txns      map[int64]*domain.Transaction
	nextAccID int64
	nextTxnID int64
	lastStamp time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memState{
			accounts:  make(map[string]*domain.Account),
			txns:      make(map[int64]*domain.Transaction),
			nextAccID: 1,
			nextTxnID: 1,
		},
		now: time.Now,
	}
}

// CreateAccount adds an account; the slug must be unused
func (s *MemoryStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.accounts[a.Slug]; ok {
		return fmt.Errorf("account %q already exists", a.Slug)
	}
	a.ID = s.state.nextAccID
	s.state.nextAccID++
	a.CreatedAt = s.stamp(&s.state)

	cp := *a
	s.state.accounts[a.Slug] = &cp
	return nil
}

func (s *MemoryStore) AccountBySlug(ctx context.Context, slug string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.state.accounts[slug]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.Account, 0, len(s.state.accounts))
	for _, a := range s.state.accounts {
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *MemoryStore) TransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.state.txns[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return copyTxn(t), nil
}

func (s *MemoryStore) AccountHistory(ctx context.Context, slug string) (*domain.Account, []*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.state.accounts[slug]
	if !ok {
		return nil, nil, domain.ErrAccountNotFound
	}
	acc := *a

	var result []*domain.Transaction
	for _, t := range s.state.txns {
		if t.AccountSlug == slug {
			result = append(result, copyTxn(t))
		}
	}
	sort.Slice(result, func(i, j int) bool { return creationLess(result[i], result[j]) })
	return &acc, result, nil
}

func (s *MemoryStore) ListCancellable(ctx context.Context, actorID int64, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.Transaction
	for _, t := range s.state.txns {
		if t.ActorID != actorID || t.Source == domain.SourceCancellation || t.IsCancelled() {
			continue
		}
		if t.TransferType == domain.TransferIncoming {
			continue
		}
		result = append(result, copyTxn(t))
	}
	sort.Slice(result, func(i, j int) bool { return creationLess(result[j], result[i]) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// RunInTx runs fn against a staged copy of the store and commits the copy when
// fn returns nil.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(ctx, &memTx{store: s, state: &staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// stamp returns a strictly increasing timestamp, like clock_timestamp() on a
// single server.
func (s *MemoryStore) stamp(st *memState) time.Time {
	now := s.now().UTC()
	if !now.After(st.lastStamp) {
		now = st.lastStamp.Add(time.Microsecond)
	}
	st.lastStamp = now
	return now
}

type memTx struct {
	store *MemoryStore
	state *memState
}

func (tx *memTx) LockAccounts(ctx context.Context, slugs ...string) (map[string]*domain.Account, error) {
	result := make(map[string]*domain.Account, len(slugs))
	for _, slug := range slugs {
		a, ok := tx.state.accounts[slug]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, slug)
		}
		cp := *a
		result[slug] = &cp
	}
	return result, nil
}

func (tx *memTx) LockTransactions(ctx context.Context, ids ...int64) (map[int64]*domain.Transaction, error) {
	result := make(map[int64]*domain.Transaction, len(ids))
	for _, id := range ids {
		t, ok := tx.state.txns[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", domain.ErrTransactionNotFound, id)
		}
		result[id] = copyTxn(t)
	}
	return result, nil
}

func (tx *memTx) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	if _, ok := tx.state.accounts[t.AccountSlug]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, t.AccountSlug)
	}
	if t.CancelledTransactionID != nil {
		for _, existing := range tx.state.txns {
			if existing.CancelledTransactionID != nil && *existing.CancelledTransactionID == *t.CancelledTransactionID {
				return fmt.Errorf("%w: %d", domain.ErrAlreadyCancelled, *t.CancelledTransactionID)
			}
		}
	}

	t.ID = tx.state.nextTxnID
	tx.state.nextTxnID++
	t.CreatedAt = tx.store.stamp(tx.state)
	tx.state.txns[t.ID] = copyTxn(t)
	return nil
}

func (tx *memTx) LinkTransactions(ctx context.Context, a, b int64) error {
	ta, ok := tx.state.txns[a]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrTransactionNotFound, a)
	}
	tb, ok := tx.state.txns[b]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrTransactionNotFound, b)
	}
	ta.LinkedTransactionID = &b
	tb.LinkedTransactionID = &a
	return nil
}

func (tx *memTx) MarkCancelled(ctx context.Context, originalID, reversalID int64) error {
	t, ok := tx.state.txns[originalID]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrTransactionNotFound, originalID)
	}
	if t.CancelledAt != nil {
		return domain.ErrAlreadyCancelled
	}
	at := tx.store.stamp(tx.state)
	t.CancelledAt = &at
	t.CancelledByTxnID = &reversalID
	return nil
}

func (tx *memTx) SetBalance(ctx context.Context, slug string, balance int64) error {
	a, ok := tx.state.accounts[slug]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, slug)
	}
	a.Balance = balance
	return nil
}

func (st memState) clone() memState {
	cp := st
	cp.accounts = make(map[string]*domain.Account, len(st.accounts))
	for k, a := range st.accounts {
		ac := *a
		cp.accounts[k] = &ac
	}
	cp.txns = make(map[int64]*domain.Transaction, len(st.txns))
	for k, t := range st.txns {
		cp.txns[k] = copyTxn(t)
	}
	return cp
}

func copyTxn(t *domain.Transaction) *domain.Transaction {
	cp := *t
	cp.LinkedTransactionID = copyID(t.LinkedTransactionID)
	cp.CancelledTransactionID = copyID(t.CancelledTransactionID)
	cp.CancelledByTxnID = copyID(t.CancelledByTxnID)
	if t.CancelledAt != nil {
		at := *t.CancelledAt
		cp.CancelledAt = &at
	}
	return &cp
}

func copyID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func creationLess(a, b *domain.Transaction) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
