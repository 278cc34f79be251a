package flow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"telegram_ledger/internal/domain"
	"telegram_ledger/internal/ledger"
	"telegram_ledger/internal/money"
	"telegram_ledger/internal/rates"
	"telegram_ledger/internal/session"

	"github.com/shopspring/decimal"
)

// startWithAccounts positions an add, sync or transfer session at its account
// selection step.
func (m *Machine) startWithAccounts(ctx context.Context, key session.Key, s session.Session) (Result, error) {
	accounts, err := m.ledger.Accounts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list accounts: %w", err)
	}
	return m.advance(ctx, key, s, &Prompt{Accounts: accounts})
}

func (m *Machine) startCancel(ctx context.Context, key session.Key, actor domain.Actor, s *session.CancelSession) (Result, error) {
	txns, err := m.ledger.Cancellable(ctx, actor.ID, m.limits.CancelListLimit)
	if err != nil {
		return Result{}, fmt.Errorf("list cancellable: %w", err)
	}
	if len(txns) == 0 {
		return Result{Outcome: OutcomeDone, Flow: s.Flow(), FlowID: s.FlowID, Step: s.Step, NoOp: true, Problem: ProblemNothingToCancel}, nil
	}

	s.Candidates = make([]int64, 0, len(txns))
	for _, t := range txns {
		s.Candidates = append(s.Candidates, t.ID)
	}
	return m.advance(ctx, key, s, &Prompt{Transactions: txns})
}

// add: account -> amount -> description
func (m *Machine) handleAdd(ctx context.Context, key session.Key, actor domain.Actor, s *session.AddSession, text string) (Result, error) {
	switch s.Step {
	case session.StepAddAccount:
		acc, err := m.resolveAccount(ctx, text)
		if err != nil {
			return m.fail(ctx, key, s, err)
		}
		s.Account = ref(acc)
		s.Step = session.StepAddAmount
		return m.advance(ctx, key, s, &Prompt{Account: acc, Currency: acc.Currency})

	case session.StepAddAmount:
		amount, err := money.Parse(text, money.Rules{AllowNegative: true, Max: m.limits.MaxAmount})
		if err != nil {
			return reprompt(s, amountProblem(err)), nil
		}
		s.Amount = amount
		s.Step = session.StepAddDescription
		return m.advance(ctx, key, s, &Prompt{Amount: amount, Currency: s.Account.Currency})

	case session.StepAddDescription:
		desc, ok := m.description(text)
		if !ok {
			return reprompt(s, ProblemDescriptionTooLong), nil
		}
		id, err := m.ledger.RecordTransaction(ctx, ledger.Entry{
			AccountSlug: s.Account.Slug,
			Amount:      s.Amount,
			Currency:    s.Account.Currency,
			Description: desc,
			Source:      domain.SourceManual,
			Actor:       actor,
		})
		if err != nil {
			return m.fail(ctx, key, s, err)
		}
		return m.done(ctx, key, s, false, id)
	}
	return Result{}, fmt.Errorf("add session at unknown step %q", s.Step)
}

// sync: account -> target balance
func (m *Machine) handleSync(ctx context.Context, key session.Key, actor domain.Actor, s *session.SyncSession, text string) (Result, error) {
	switch s.Step {
	case session.StepSyncAccount:
		acc, err := m.resolveAccount(ctx, text)
		if err != nil {
			return m.fail(ctx, key, s, err)
		}
		s.Account = ref(acc)
		s.Step = session.StepSyncAmount
		return m.advance(ctx, key, s, &Prompt{Account: acc, Currency: acc.Currency})

	case session.StepSyncAmount:
		target, err := money.Parse(text, money.Rules{AllowZero: true, Max: m.limits.MaxAmount})
		if err != nil {
			return reprompt(s, amountProblem(err)), nil
		}
		res, err := m.ledger.SyncBalance(ctx, s.Account.Slug, target, actor)
		if err != nil {
			return m.fail(ctx, key, s, err)
		}
		if res.NoOp {
			return m.done(ctx, key, s, true)
		}
		return m.done(ctx, key, s, false, res.TransactionID)
	}
	return Result{}, fmt.Errorf("sync session at unknown step %q", s.Step)
}

// transfer: from -> to -> amount -> [rate -> received] -> description
func (m *Machine) handleTransfer(ctx context.Context, key session.Key, actor domain.Actor, s *session.TransferSession, text string) (Result, error) {
	amountRules := money.Rules{Max: m.limits.MaxAmount}

	switch s.Step {
	case session.StepTransferFrom:
		acc, err := m.resolveAccount(ctx, text)
		if err != nil {
			return m.fail(ctx, key, s, err)
		}
		s.From = ref(acc)
		s.Step = session.StepTransferTo

		accounts, err := m.ledger.Accounts(ctx)
		if err != nil {
			return m.fail(ctx, key, s, err)
		}
		accounts = slices.DeleteFunc(accounts, func(a *domain.Account) bool { return a.Slug == acc.Slug })
		return m.advance(ctx, key, s, &Prompt{Accounts: accounts, Account: acc})

	case session.StepTransferTo:
		if normalizeSlug(text) == s.From.Slug {
			return reprompt(s, ProblemSameAccount), nil
		}
		acc, err := m.resolveAccount(ctx, text)
		if err != nil {
			return m.fail(ctx, key, s, err)
		}
		s.To = ref(acc)
		s.Step = session.StepTransferAmount
		return m.advance(ctx, key, s, &Prompt{Currency: s.From.Currency})

	case session.StepTransferAmount:
		amount, err := money.Parse(text, amountRules)
		if err != nil {
			return reprompt(s, amountProblem(err)), nil
		}
		s.Amount = amount

		if !s.CrossCurrency() {
			s.Received = amount
			s.Rate = decimal.NewFromInt(1)
			s.Step = session.StepTransferDescription
			return m.advance(ctx, key, s, &Prompt{Amount: amount, Currency: s.From.Currency})
		}

		q := m.quote(ctx, amount, s.From.Currency, s.To.Currency)
		if !q.Available || q.Amount <= 0 || (m.limits.MaxAmount > 0 && q.Amount > m.limits.MaxAmount) {
			s.Step = session.StepTransferReceived
			return m.advance(ctx, key, s, &Prompt{Amount: amount, Currency: s.To.Currency, RateUnavailable: true})
		}
		s.Proposed = q.Amount
		s.Rate = q.Rate
		s.Step = session.StepTransferRate
		return m.advance(ctx, key, s, &Prompt{Amount: amount, Currency: s.To.Currency, Proposed: q.Amount, Rate: q.Rate})

	case session.StepTransferRate:
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "accept":
			s.Received = s.Proposed
			s.Step = session.StepTransferDescription
			return m.advance(ctx, key, s, &Prompt{Amount: s.Received, Currency: s.To.Currency})
		case "custom":
			s.Step = session.StepTransferReceived
			return m.advance(ctx, key, s, &Prompt{Amount: s.Amount, Currency: s.To.Currency})
		}

		// a typed amount overrides the proposal directly
		received, err := money.Parse(text, amountRules)
		if errors.Is(err, money.ErrNotANumber) {
			return reprompt(s, ProblemInvalidChoice), nil
		}
		if err != nil {
			return reprompt(s, amountProblem(err)), nil
		}
		s.Received = received
		s.Rate = rates.ImpliedRate(s.Amount, received)
		s.Step = session.StepTransferDescription
		return m.advance(ctx, key, s, &Prompt{Amount: received, Currency: s.To.Currency})

	case session.StepTransferReceived:
		received, err := money.Parse(text, amountRules)
		if err != nil {
			return reprompt(s, amountProblem(err)), nil
		}
		s.Received = received
		s.Rate = rates.ImpliedRate(s.Amount, received)
		s.Step = session.StepTransferDescription
		return m.advance(ctx, key, s, &Prompt{Amount: received, Currency: s.To.Currency})

	case session.StepTransferDescription:
		desc, ok := m.description(text)
		if !ok {
			return reprompt(s, ProblemDescriptionTooLong), nil
		}
		res, err := m.ledger.RecordTransfer(ctx, ledger.Transfer{
			FromSlug:     s.From.Slug,
			ToSlug:       s.To.Slug,
			FromAmount:   s.Amount,
			ToAmount:     s.Received,
			FromCurrency: s.From.Currency,
			ToCurrency:   s.To.Currency,
			Description:  desc,
			Actor:        actor,
		})
		if err != nil {
			return m.fail(ctx, key, s, err)
		}
		return m.done(ctx, key, s, false, res.OutgoingID, res.IncomingID)
	}
	return Result{}, fmt.Errorf("transfer session at unknown step %q", s.Step)
}

// cancel: select -> confirm
func (m *Machine) handleCancel(ctx context.Context, key session.Key, actor domain.Actor, s *session.CancelSession, text string) (Result, error) {
	switch s.Step {
	case session.StepCancelSelect:
		id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(text), "#"), 10, 64)
		if err != nil || !slices.Contains(s.Candidates, id) {
			return reprompt(s, ProblemInvalidChoice), nil
		}
		t, err := m.ledger.Transaction(ctx, id)
		if err != nil {
			return m.fail(ctx, key, s, err)
		}
		s.Selected = id
		s.Step = session.StepCancelConfirm
		return m.advance(ctx, key, s, &Prompt{Transaction: t})

	case session.StepCancelConfirm:
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "yes", "y":
		case "no", "n":
			return m.abort(ctx, key, s, ProblemNone)
		default:
			return reprompt(s, ProblemInvalidChoice), nil
		}

		t, err := m.ledger.Transaction(ctx, s.Selected)
		if err != nil {
			return m.fail(ctx, key, s, err)
		}

		switch t.Source {
		case domain.SourceTransfer:
			res, err := m.ledger.CancelTransfer(ctx, t.ID, actor)
			if err != nil {
				return m.fail(ctx, key, s, err)
			}
			return m.done(ctx, key, s, false, res.OutgoingID, res.IncomingID)
		default:
			id, err := m.ledger.CancelTransaction(ctx, t.ID, actor)
			if err != nil {
				return m.fail(ctx, key, s, err)
			}
			return m.done(ctx, key, s, false, id)
		}
	}
	return Result{}, fmt.Errorf("cancel session at unknown step %q", s.Step)
}

func (m *Machine) resolveAccount(ctx context.Context, text string) (*domain.Account, error) {
	slug := normalizeSlug(text)
	if slug == "" {
		return nil, domain.ErrAccountNotFound
	}
	return m.ledger.Account(ctx, slug)
}

func (m *Machine) quote(ctx context.Context, amount int64, from, to string) rates.Quote {
	if m.rates == nil {
		return rates.Quote{}
	}
	return m.rates.Convert(ctx, amount, from, to)
}

// description returns the entered description, or false when it is too long.
// "-" and "skip" leave it empty.
func (m *Machine) description(text string) (string, bool) {
	desc := strings.TrimSpace(text)
	if desc == "-" || strings.EqualFold(desc, "skip") {
		return "", true
	}
	if m.limits.DescriptionMaxLen > 0 && utf8.RuneCountInString(desc) > m.limits.DescriptionMaxLen {
		return "", false
	}
	return desc, true
}

func normalizeSlug(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func ref(acc *domain.Account) *session.AccountRef {
	return &session.AccountRef{Slug: acc.Slug, Name: acc.Name, Currency: acc.Currency}
}

func amountProblem(err error) Problem {
	switch {
	case errors.Is(err, money.ErrTooManyDecimals):
		return ProblemTooManyDecimals
	case errors.Is(err, money.ErrNegative):
		return ProblemNegative
	case errors.Is(err, money.ErrZero):
		return ProblemZero
	case errors.Is(err, money.ErrTooLarge):
		return ProblemTooLarge
	default:
		return ProblemNotANumber
	}
}
