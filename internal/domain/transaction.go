package domain

import (
	"fmt"
	"time"
)

// Source tells which operation produced a transaction
type Source string

const (
	SourceManual       Source = "manual"
	SourceSync         Source = "sync"
	SourceTransfer     Source = "transfer"
	SourceCancellation Source = "cancellation"
)

// Valid reports whether s is one of the known sources
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceSync, SourceTransfer, SourceCancellation:
		return true
	}
	return false
}

// ParseSource converts a stored value into a Source
func ParseSource(v string) (Source, error) {
	s := Source(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown transaction source %q", v)
	}
	return s, nil
}

// TransferType marks which leg of a transfer a transaction is
type TransferType string

const (
	TransferNone     TransferType = ""
	TransferOutgoing TransferType = "outgoing"
	TransferIncoming TransferType = "incoming"
)

// Transaction is a signed movement on one account.
// BalanceAfter is the account balance right after this write.
type Transaction struct {
	ID           int64     `db:"id" json:"id"`
	AccountSlug  string    `db:"account_slug" json:"account_slug"`
	Amount       int64     `db:"amount" json:"amount"`
	Currency     string    `db:"currency" json:"currency"`
	Description  string    `db:"description" json:"description,omitempty"`
	Source       Source    `db:"source" json:"source"`
	ActorID      int64     `db:"actor_id" json:"actor_id"`
	ActorName    string    `db:"actor_name" json:"actor_name"`
	BalanceAfter int64     `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`

	// Transfer legs point at each other
	LinkedTransactionID *int64       `db:"linked_transaction_id" json:"linked_transaction_id,omitempty"`
	TransferType        TransferType `db:"transfer_type" json:"transfer_type,omitempty"`

	// Set on a reversal: the transaction it negates
	CancelledTransactionID *int64 `db:"cancelled_transaction_id" json:"cancelled_transaction_id,omitempty"`
	// Set on the original once it has been reversed
	CancelledAt      *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledByTxnID *int64     `db:"cancelled_by_txn_id" json:"cancelled_by_txn_id,omitempty"`
}

// IsCancelled reports whether a reversal has already been written for t
func (t *Transaction) IsCancelled() bool {
	return t.CancelledAt != nil
}

// IsTransferLeg reports whether t is one side of a transfer pair
func (t *Transaction) IsTransferLeg() bool {
	return t.Source == SourceTransfer && t.LinkedTransactionID != nil
}

// Actor returns who recorded the transaction
func (t *Transaction) Actor() Actor {
	return Actor{ID: t.ActorID, Name: t.ActorName}
}
