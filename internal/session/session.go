// Package session holds the in-progress multi-step flows, one per
// (chat, actor) key.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Key addresses a session. Two actors in one chat have different keys.
type Key struct {
	ChatID  int64
	ActorID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.ChatID, k.ActorID)
}

// Flow names a kind of multi-step interaction
type Flow string

const (
	FlowAdd      Flow = "add"
	FlowSync     Flow = "sync"
	FlowTransfer Flow = "transfer"
	FlowCancel   Flow = "cancel"
)

// Valid reports whether f is a known flow
func (f Flow) Valid() bool {
	switch f {
	case FlowAdd, FlowSync, FlowTransfer, FlowCancel:
		return true
	}
	return false
}

// Step is the point a session is waiting at
type Step string

const (
	// add
	StepAddAccount     Step = "add.account"
	StepAddAmount      Step = "add.amount"
	StepAddDescription Step = "add.description"

	// sync
	StepSyncAccount Step = "sync.account"
	StepSyncAmount  Step = "sync.amount"

	// transfer
	StepTransferFrom        Step = "transfer.from"
	StepTransferTo          Step = "transfer.to"
	StepTransferAmount      Step = "transfer.amount"
	StepTransferRate        Step = "transfer.rate"
	StepTransferReceived    Step = "transfer.received"
	StepTransferDescription Step = "transfer.description"

	// cancel
	StepCancelSelect  Step = "cancel.select"
	StepCancelConfirm Step = "cancel.confirm"
)

// AccountRef is the part of an account a session keeps between steps
type AccountRef struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// Header is shared by every session kind
type Header struct {
	FlowID    uuid.UUID `json:"flow_id"`
	ActorID   int64     `json:"actor_id"`
	Step      Step      `json:"step"`
	CreatedAt time.Time `json:"created_at"`
	// Artifacts are transport message ids to clean up when the flow ends
	Artifacts []int `json:"artifacts,omitempty"`
}

// Session is one of *AddSession, *SyncSession, *TransferSession or
// *CancelSession.
type Session interface {
	Flow() Flow
	Head() *Header
}

// AddSession records a manual entry
type AddSession struct {
	Header
	Account *AccountRef `json:"account,omitempty"`
	Amount  int64       `json:"amount,omitempty"`
}

func (s *AddSession) Flow() Flow    { return FlowAdd }
func (s *AddSession) Head() *Header { return &s.Header }

// SyncSession resynchronizes an account balance
type SyncSession struct {
	Header
	Account *AccountRef `json:"account,omitempty"`
}

func (s *SyncSession) Flow() Flow    { return FlowSync }
func (s *SyncSession) Head() *Header { return &s.Header }

// TransferSession moves money between two accounts
type TransferSession struct {
	Header
	From     *AccountRef     `json:"from,omitempty"`
	To       *AccountRef     `json:"to,omitempty"`
	Amount   int64           `json:"amount,omitempty"`
	Received int64           `json:"received,omitempty"`
	Rate     decimal.Decimal `json:"rate"`
	// Proposed is the provider-converted amount offered at the rate step
	Proposed int64 `json:"proposed,omitempty"`
}

func (s *TransferSession) Flow() Flow    { return FlowTransfer }
func (s *TransferSession) Head() *Header { return &s.Header }

// CrossCurrency reports whether both accounts are chosen and differ in currency
func (s *TransferSession) CrossCurrency() bool {
	return s.From != nil && s.To != nil && s.From.Currency != s.To.Currency
}

// CancelSession reverses one of the actor's transactions
type CancelSession struct {
	Header
	// Candidates are the ids offered for selection
	Candidates []int64 `json:"candidates"`
	Selected   int64   `json:"selected,omitempty"`
}

func (s *CancelSession) Flow() Flow    { return FlowCancel }
func (s *CancelSession) Head() *Header { return &s.Header }

// New creates an empty session of the given flow positioned at its first step
func New(flow Flow, actorID int64, now time.Time) (Session, error) {
	h := Header{
		FlowID:    uuid.New(),
		ActorID:   actorID,
		CreatedAt: now.UTC(),
	}

	switch flow {
	case FlowAdd:
		h.Step = StepAddAccount
		return &AddSession{Header: h}, nil
	case FlowSync:
		h.Step = StepSyncAccount
		return &SyncSession{Header: h}, nil
	case FlowTransfer:
		h.Step = StepTransferFrom
		return &TransferSession{Header: h}, nil
	case FlowCancel:
		h.Step = StepCancelSelect
		return &CancelSession{Header: h}, nil
	default:
		return nil, fmt.Errorf("unknown flow %q", flow)
	}
}
