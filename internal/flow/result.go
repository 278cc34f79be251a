package flow

import (
	"telegram_ledger/internal/domain"
	"telegram_ledger/internal/session"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome is what a single event did to the session
type Outcome string

const (
	// OutcomeIdle means the key had no session to act on
	OutcomeIdle     Outcome = "idle"
	OutcomeReprompt Outcome = "reprompt"
	OutcomeAdvance  Outcome = "advance"
	OutcomeDone     Outcome = "done"
	OutcomeAborted  Outcome = "aborted"
)

// Problem tells the presentation layer why a step was re-prompted or aborted
type Problem string

const (
	ProblemNone                Problem = ""
	ProblemNotANumber          Problem = "not_a_number"
	ProblemZero                Problem = "zero"
	ProblemNegative            Problem = "negative"
	ProblemTooManyDecimals     Problem = "too_many_decimals"
	ProblemTooLarge            Problem = "too_large"
	ProblemInvalidChoice       Problem = "invalid_choice"
	ProblemSameAccount         Problem = "same_account"
	ProblemDescriptionTooLong  Problem = "description_too_long"
	ProblemStale               Problem = "stale"
	ProblemAccountNotFound     Problem = "account_not_found"
	ProblemTransactionNotFound Problem = "transaction_not_found"
	ProblemFailure             Problem = "failure"
	ProblemNothingToCancel     Problem = "nothing_to_cancel"
)

// Prompt carries what the presentation layer needs to ask for the next input.
// Only the fields relevant to the step are set.
type Prompt struct {
	Accounts []*domain.Account
	Account  *domain.Account
	// Currency of the amount being asked for
	Currency string

	Transactions []*domain.Transaction
	Transaction  *domain.Transaction

	// rate step
	Amount          int64
	Proposed        int64
	Rate            decimal.Decimal
	RateUnavailable bool
}

// Result is returned for every event handled by the machine
type Result struct {
	Outcome        Outcome
	Flow           session.Flow
	FlowID         uuid.UUID
	Step           session.Step
	Problem        Problem
	Prompt         *Prompt
	TransactionIDs []int64
	NoOp           bool
}

// Input is one actor event. FlowID is set when the event comes from a button
// rendered for a specific flow; free text leaves it nil.
type Input struct {
	Text   string
	FlowID uuid.UUID
}
