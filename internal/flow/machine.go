// Package flow drives the multi-step add, sync, transfer and cancel
// interactions and turns completed ones into ledger operations.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"telegram_ledger/internal/domain"
	"telegram_ledger/internal/ledger"
	"telegram_ledger/internal/logger"
	"telegram_ledger/internal/metrics"
	"telegram_ledger/internal/rates"
	"telegram_ledger/internal/session"

	"github.com/google/uuid"
)

// ErrForeignActor is returned when an event's actor is not the owner of the key
var ErrForeignActor = errors.New("actor does not own this session key")

// Ledger is the part of the ledger engine the flows use
type Ledger interface {
	Account(ctx context.Context, slug string) (*domain.Account, error)
	Accounts(ctx context.Context) ([]*domain.Account, error)
	Transaction(ctx context.Context, id int64) (*domain.Transaction, error)
	Cancellable(ctx context.Context, actorID int64, limit int) ([]*domain.Transaction, error)

	RecordTransaction(ctx context.Context, entry ledger.Entry) (int64, error)
	SyncBalance(ctx context.Context, slug string, target int64, actor domain.Actor) (ledger.SyncResult, error)
	RecordTransfer(ctx context.Context, tr ledger.Transfer) (ledger.TransferResult, error)
	CancelTransaction(ctx context.Context, originalID int64, actor domain.Actor) (int64, error)
	CancelTransfer(ctx context.Context, anyLegID int64, actor domain.Actor) (ledger.TransferResult, error)
}

// Converter quotes cross-currency amounts
type Converter interface {
	Convert(ctx context.Context, minor int64, from, to string) rates.Quote
}

// CleanupOutcome reports what happened to one artifact
type CleanupOutcome struct {
	ArtifactID int
	Err        error
}

// Cleaner removes UI artifacts left by a flow
type Cleaner interface {
	Cleanup(ctx context.Context, chatID int64, artifacts []int) []CleanupOutcome
}

// Limits bound user input
type Limits struct {
	MaxAmount         int64
	CancelListLimit   int
	DescriptionMaxLen int
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{
		MaxAmount:         100_000_000_000,
		CancelListLimit:   10,
		DescriptionMaxLen: 200,
	}
}

// Machine routes actor events to the step their session is waiting at.
// It keeps no state of its own; everything lives in the session store.
type Machine struct {
	sessions session.Store
	ledger   Ledger
	rates    Converter
	cleaner  Cleaner
	limits   Limits
	now      func() time.Time
}

// NewMachine creates a flow machine. conv and cleaner may be nil.
func NewMachine(sessions session.Store, l Ledger, conv Converter, cleaner Cleaner, limits Limits) *Machine {
	return &Machine{
		sessions: sessions,
		ledger:   l,
		rates:    conv,
		cleaner:  cleaner,
		limits:   limits,
		now:      time.Now,
	}
}

// Start begins a new flow for key, abandoning whatever flow the key had.
func (m *Machine) Start(ctx context.Context, key session.Key, actor domain.Actor, f session.Flow) (Result, error) {
	if actor.ID != key.ActorID {
		return Result{}, ErrForeignActor
	}

	if err := m.supersede(ctx, key); err != nil {
		return Result{}, err
	}

	s, err := session.New(f, actor.ID, m.now())
	if err != nil {
		return Result{}, err
	}
	ctx = logger.IntoContext(ctx, "chat_id", key.ChatID, "actor_id", key.ActorID, "flow", f, "flow_id", s.Head().FlowID)

	var res Result
	switch s := s.(type) {
	case *session.AddSession, *session.SyncSession, *session.TransferSession:
		res, err = m.startWithAccounts(ctx, key, s)
	case *session.CancelSession:
		res, err = m.startCancel(ctx, key, actor, s)
	default:
		err = fmt.Errorf("unhandled flow %q", f)
	}
	if err != nil {
		return Result{}, err
	}

	m.log(ctx).Info("flow started", "step", res.Step, "outcome", res.Outcome)
	return m.record(res), nil
}

// Handle applies one input to the key's active session
func (m *Machine) Handle(ctx context.Context, key session.Key, actor domain.Actor, in Input) (Result, error) {
	if actor.ID != key.ActorID {
		return Result{}, ErrForeignActor
	}

	s, err := m.sessions.Get(ctx, key)
	if errors.Is(err, session.ErrNoSession) {
		return Result{Outcome: OutcomeIdle}, nil
	}
	if err != nil {
		return Result{}, err
	}

	h := s.Head()
	ctx = logger.IntoContext(ctx, "chat_id", key.ChatID, "actor_id", key.ActorID, "flow", s.Flow(), "flow_id", h.FlowID)

	if in.FlowID != uuid.Nil && in.FlowID != h.FlowID {
		m.log(ctx).Debug("stale input ignored", "input_flow_id", in.FlowID)
		return m.record(reprompt(s, ProblemStale)), nil
	}

	var res Result
	switch s := s.(type) {
	case *session.AddSession:
		res, err = m.handleAdd(ctx, key, actor, s, in.Text)
	case *session.SyncSession:
		res, err = m.handleSync(ctx, key, actor, s, in.Text)
	case *session.TransferSession:
		res, err = m.handleTransfer(ctx, key, actor, s, in.Text)
	case *session.CancelSession:
		res, err = m.handleCancel(ctx, key, actor, s, in.Text)
	default:
		err = fmt.Errorf("unhandled session type %T", s)
	}
	if err != nil {
		return Result{}, err
	}

	m.log(ctx).Debug("flow input handled", "step", res.Step, "outcome", res.Outcome, "problem", res.Problem)
	return m.record(res), nil
}

// Abandon discards the key's active session
func (m *Machine) Abandon(ctx context.Context, key session.Key) (Result, error) {
	s, err := m.sessions.Get(ctx, key)
	if errors.Is(err, session.ErrNoSession) {
		return Result{Outcome: OutcomeIdle}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if err := m.discard(ctx, key, s); err != nil {
		return Result{}, err
	}
	logger.With("chat_id", key.ChatID, "actor_id", key.ActorID, "flow_id", s.Head().FlowID).Info("flow abandoned")
	return m.record(Result{Outcome: OutcomeAborted, Flow: s.Flow(), FlowID: s.Head().FlowID, Step: s.Head().Step}), nil
}

// AttachArtifacts records message ids produced for the flow so they are
// cleaned up when it ends. Ids for a flow that is no longer active are
// cleaned up right away.
func (m *Machine) AttachArtifacts(ctx context.Context, key session.Key, flowID uuid.UUID, ids ...int) error {
	if len(ids) == 0 {
		return nil
	}

	s, err := m.sessions.Get(ctx, key)
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		return err
	}
	if s == nil || s.Head().FlowID != flowID {
		m.cleanup(ctx, key, ids)
		return nil
	}

	h := s.Head()
	h.Artifacts = append(h.Artifacts, ids...)
	return m.sessions.Put(ctx, key, s)
}

// supersede drops the key's current session, if any, before a new flow starts
func (m *Machine) supersede(ctx context.Context, key session.Key) error {
	old, err := m.sessions.Get(ctx, key)
	switch {
	case errors.Is(err, session.ErrNoSession):
		return nil
	case err != nil:
		logger.Warn("unreadable session dropped", "chat_id", key.ChatID, "actor_id", key.ActorID, "error", err)
		return m.sessions.Delete(ctx, key)
	}

	logger.Info("flow superseded",
		"chat_id", key.ChatID, "actor_id", key.ActorID, "flow", old.Flow(), "flow_id", old.Head().FlowID, "step", old.Head().Step)
	return m.discard(ctx, key, old)
}

func (m *Machine) discard(ctx context.Context, key session.Key, s session.Session) error {
	m.cleanup(ctx, key, s.Head().Artifacts)
	return m.sessions.Delete(ctx, key)
}

func (m *Machine) cleanup(ctx context.Context, key session.Key, artifacts []int) {
	if m.cleaner == nil || len(artifacts) == 0 {
		return
	}
	for _, o := range m.cleaner.Cleanup(ctx, key.ChatID, artifacts) {
		if o.Err != nil {
			logger.Debug("artifact cleanup failed", "chat_id", key.ChatID, "artifact", o.ArtifactID, "error", o.Err)
		}
	}
}

// advance stores s, now positioned at its next step
func (m *Machine) advance(ctx context.Context, key session.Key, s session.Session, p *Prompt) (Result, error) {
	if err := m.sessions.Put(ctx, key, s); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeAdvance, Flow: s.Flow(), FlowID: s.Head().FlowID, Step: s.Head().Step, Prompt: p}, nil
}

func (m *Machine) done(ctx context.Context, key session.Key, s session.Session, noop bool, ids ...int64) (Result, error) {
	if err := m.discard(ctx, key, s); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeDone, Flow: s.Flow(), FlowID: s.Head().FlowID, Step: s.Head().Step, NoOp: noop, TransactionIDs: ids}, nil
}

func (m *Machine) abort(ctx context.Context, key session.Key, s session.Session, p Problem) (Result, error) {
	if err := m.discard(ctx, key, s); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeAborted, Flow: s.Flow(), FlowID: s.Head().FlowID, Step: s.Head().Step, Problem: p}, nil
}

// fail ends the flow after a lookup or ledger error. The session is never kept
// so a failed commit cannot be resubmitted with the same captured amounts.
func (m *Machine) fail(ctx context.Context, key session.Key, s session.Session, err error) (Result, error) {
	p := ProblemFailure
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		p = ProblemAccountNotFound
	case errors.Is(err, domain.ErrTransactionNotFound):
		p = ProblemTransactionNotFound
	}
	m.log(ctx).Warn("flow failed", "step", s.Head().Step, "problem", p, "error", err)
	return m.abort(ctx, key, s, p)
}

func reprompt(s session.Session, p Problem) Result {
	return Result{Outcome: OutcomeReprompt, Flow: s.Flow(), FlowID: s.Head().FlowID, Step: s.Head().Step, Problem: p}
}

func (m *Machine) record(res Result) Result {
	if res.Flow != "" {
		metrics.FlowEvents.WithLabelValues(string(res.Flow), string(res.Outcome)).Inc()
	}
	return res
}

func (m *Machine) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx).With("component", "flow")
}
