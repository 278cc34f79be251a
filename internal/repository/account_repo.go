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

type AccountRepository struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, name, slug, currency, balance, created_at`

// GetBySlug retrieves an account by its slug
func (r *AccountRepository) GetBySlug(ctx context.Context, slug string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE slug = $1`, slug)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetBySlugWithTx retrieves an account inside an existing transaction
func (r *AccountRepository) GetBySlugWithTx(ctx context.Context, tx pgx.Tx, slug string) (*domain.Account, error) {
	a, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, slug)
	}
	return a, err
}

// List returns all accounts ordered by name
func (r *AccountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY name, slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Create inserts a new account with a zero balance
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO accounts (name, slug, currency, balance)
		VALUES ($1, $2, $3, 0)
		RETURNING id, balance, created_at
	`, a.Name, a.Slug, a.Currency).Scan(&a.ID, &a.Balance, &a.CreatedAt)
}

// LockBySlugsWithTx loads accounts with FOR UPDATE. Rows are locked in slug
// order so two units touching the same pair cannot deadlock.
func (r *AccountRepository) LockBySlugsWithTx(ctx context.Context, tx pgx.Tx, slugs ...string) (map[string]*domain.Account, error) {
	ordered := uniqueSorted(slugs)
	result := make(map[string]*domain.Account, len(ordered))

	for _, slug := range ordered {
		row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE slug = $1 FOR UPDATE`, slug)
		a, err := scanAccount(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, slug)
			}
			return nil, err
		}
		result[slug] = a
	}
	return result, nil
}

// SetBalanceWithTx stores a new balance inside an existing transaction
func (r *AccountRepository) SetBalanceWithTx(ctx context.Context, tx pgx.Tx, slug string, balance int64) error {
	tag, err := tx.Exec(ctx, `UPDATE accounts SET balance = $2 WHERE slug = $1`, slug, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, slug)
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Name, &a.Slug, &a.Currency, &a.Balance, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func uniqueSorted(slugs []string) []string {
	seen := make(map[string]struct{}, len(slugs))
	out := make([]string, 0, len(slugs))
	for _, s := range slugs {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
