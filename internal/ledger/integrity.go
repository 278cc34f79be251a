package ledger

import (
	"context"
	"fmt"

	"telegram_ledger/internal/logger"
	"telegram_ledger/internal/metrics"
)

// Mismatch describes the first point where replay and stored state disagree.
// TransactionID is 0 when the final stored balance is the one that is off.
type Mismatch struct {
	TransactionID int64 `json:"transaction_id,omitempty"`
	Expected      int64 `json:"expected"`
	Actual        int64 `json:"actual"`
}

func (m *Mismatch) String() string {
	if m.TransactionID == 0 {
		return fmt.Sprintf("stored balance %d, replay gives %d", m.Actual, m.Expected)
	}
	return fmt.Sprintf("transaction %d: balance_after %d, replay gives %d", m.TransactionID, m.Actual, m.Expected)
}

// IntegrityReport is the result of replaying one account
type IntegrityReport struct {
	AccountSlug  string    `json:"account_slug"`
	OK           bool      `json:"ok"`
	Transactions int       `json:"transactions"`
	Balance      int64     `json:"balance"`
	Replayed     int64     `json:"replayed"`
	Mismatch     *Mismatch `json:"mismatch,omitempty"`
}

// VerifyIntegrity replays every transaction of the account in creation order
// and checks each balance_after and the final balance against the running sum.
// It only reports; nothing is corrected.
func (e *Engine) VerifyIntegrity(ctx context.Context, slug string) (*IntegrityReport, error) {
	acc, txns, err := e.store.AccountHistory(ctx, slug)
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{
		AccountSlug:  slug,
		Transactions: len(txns),
		Balance:      acc.Balance,
	}

	var sum int64
	for _, t := range txns {
		sum += t.Amount
		if report.Mismatch == nil && t.BalanceAfter != sum {
			report.Mismatch = &Mismatch{TransactionID: t.ID, Expected: sum, Actual: t.BalanceAfter}
		}
	}
	report.Replayed = sum
	if report.Mismatch == nil && acc.Balance != sum {
		report.Mismatch = &Mismatch{Expected: sum, Actual: acc.Balance}
	}
	report.OK = report.Mismatch == nil

	result := "pass"
	if !report.OK {
		result = "fail"
		logger.WithContext(ctx).Warn("integrity check failed", "account", slug, "mismatch", report.Mismatch.String())
	}
	metrics.IntegrityChecks.WithLabelValues(result).Inc()

	return report, nil
}

// VerifyAll runs VerifyIntegrity over every account
func (e *Engine) VerifyAll(ctx context.Context) ([]*IntegrityReport, error) {
	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]*IntegrityReport, 0, len(accounts))
	for _, acc := range accounts {
		r, err := e.VerifyIntegrity(ctx, acc.Slug)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", acc.Slug, err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}
