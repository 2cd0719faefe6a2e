package journals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	appshared "github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// PostingGuard admits a posting into a period unless a close is in flight.
type PostingGuard interface {
	BeginPosting(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (func(), error)
}

// BalanceSink reserves the balance series a posting will update.
type BalanceSink interface {
	Reserve(ctx context.Context, keys []balances.SeriesKey) (*balances.Reservation, error)
}

// AuditPort records ledger events.
type AuditPort interface {
	Record(ctx context.Context, log appshared.AuditLog) error
}

// Metrics counts posting outcomes.
type Metrics interface {
	PostingAccepted(module string, duplicate bool)
	PostingRejected(module, reason string)
}

// Store is the append-only ledger. It validates, persists each group atomically
// and then feeds the balance aggregator.
type Store struct {
	repo      Repository
	validator *Validator
	guard     PostingGuard
	sink      BalanceSink
	audit     AuditPort
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
	newID     func() uuid.UUID
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithAudit records posting and reversal events.
func WithAudit(a AuditPort) StoreOption {
	return func(s *Store) { s.audit = a }
}

// WithMetrics attaches outcome counters.
func WithMetrics(m Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore constructs the ledger store. guard may be nil when no close workflow runs.
func NewStore(repo Repository, validator *Validator, guard PostingGuard, sink BalanceSink, opts ...StoreOption) *Store {
	s := &Store{
		repo:      repo,
		validator: validator,
		guard:     guard,
		sink:      sink,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append validates and posts a journal entry group. Re-submitting the same
// idempotency key with the same content returns the original group as a duplicate.
// A posting touching a halted balance series is rejected before anything is written.
// When the ledger commits but applying a delta violates consistency, the result is
// returned together with the violation.
func (s *Store) Append(ctx context.Context, req PostingRequest) (PostingResult, error) {
	res, err := s.append(ctx, req)
	s.observe(ctx, req.Module, res, err)
	return res, err
}

func (s *Store) append(ctx context.Context, req PostingRequest) (PostingResult, error) {
	checked, err := s.validator.Validate(ctx, req)
	if err != nil {
		return PostingResult{}, err
	}
	key := req.IdempotencyKey()
	fingerprint := req.Fingerprint()
	if existing, ok, err := s.repo.FindByKey(ctx, key); err != nil {
		return PostingResult{}, fmt.Errorf("journals: idempotency lookup: %w", err)
	} else if ok {
		return s.duplicate(existing, fingerprint)
	}

	group := s.buildGroup(checked, key, fingerprint)
	var reversal *uuid.UUID
	if req.reverses != nil {
		reversal = req.reverses
		group.ReversesGroupID = reversal
	}
	deltas := Deltas(group.Entries)

	release, err := s.admit(ctx, req.CompanyID, req.Module, checked.Period)
	if err != nil {
		return PostingResult{}, err
	}
	defer release()

	reservation, err := s.sink.Reserve(ctx, balances.SeriesKeys(deltas))
	if err != nil {
		return PostingResult{}, err
	}
	defer reservation.Release()

	duplicate := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		closed, err := tx.PeriodClosed(ctx, req.CompanyID, req.Module, checked.Period)
		if err != nil {
			return err
		}
		if closed {
			return shared.Reject(shared.ReasonPeriodClosed,
				fmt.Sprintf("period %s is closed for %s in company %d", checked.Period, req.Module, req.CompanyID))
		}
		if reversal != nil {
			original, err := tx.GetGroupForUpdate(ctx, *reversal)
			if err != nil {
				return err
			}
			if !original.Status.CanTransition(StatusVoided) {
				return fmt.Errorf("%w: group %s is %s", ErrInvalidTransition, original.ID, original.Status)
			}
		}
		if err := tx.InsertGroup(ctx, group); err != nil {
			if errors.Is(err, ErrDuplicateKey) {
				duplicate = true
			}
			return err
		}
		if reversal != nil {
			return tx.MarkVoided(ctx, *reversal, group.ID, req.ActorID, group.PostedAt)
		}
		return nil
	})
	if duplicate {
		existing, ok, lookupErr := s.repo.FindByKey(ctx, key)
		if lookupErr != nil || !ok {
			return PostingResult{}, fmt.Errorf("journals: concurrent claim of %s: %w", key, err)
		}
		return s.duplicate(existing, fingerprint)
	}
	if err != nil {
		return PostingResult{}, err
	}

	result := resultOf(group, false)
	if err := reservation.Apply(ctx, deltas); err != nil {
		s.logger.Error("ledger committed but balances not applied",
			slog.String("group_id", group.ID.String()),
			slog.String("idempotency_key", key),
			slog.Any("error", err))
		return result, err
	}
	return result, nil
}

func (s *Store) admit(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (func(), error) {
	if s.guard == nil {
		return func() {}, nil
	}
	return s.guard.BeginPosting(ctx, companyID, module, period)
}

func (s *Store) duplicate(existing Group, fingerprint string) (PostingResult, error) {
	if existing.Fingerprint != fingerprint {
		return PostingResult{}, shared.Reject(shared.ReasonIdempotencyMismatch,
			fmt.Sprintf("key %s was posted as group %s with different content", existing.IdempotencyKey, existing.ID))
	}
	return resultOf(existing, true), nil
}

func (s *Store) buildGroup(checked Checked, key, fingerprint string) Group {
	req := checked.Request
	now := s.now()
	date := shared.DateOnly(req.PostingDate)
	g := Group{
		ID:              s.newID(),
		CompanyID:       req.CompanyID,
		Module:          req.Module,
		DocumentID:      req.DocumentID,
		DocumentVersion: req.DocumentVersion,
		Reference:       req.Reference,
		IdempotencyKey:  key,
		Fingerprint:     fingerprint,
		PostingDate:     date,
		Period:          checked.Period,
		Memo:            req.Memo,
		IsAdjusting:     req.IsAdjusting,
		Status:          StatusPosted,
		PostedBy:        req.ActorID,
		PostedAt:        now,
	}
	g.Entries = make([]Entry, 0, len(checked.Lines))
	for i, l := range checked.Lines {
		g.Entries = append(g.Entries, Entry{
			ID:          s.newID(),
			GroupID:     g.ID,
			LineNo:      i + 1,
			CompanyID:   req.CompanyID,
			Module:      req.Module,
			AccountID:   l.Account.ID,
			AccountCode: l.Account.Code,
			Normal:      l.Account.Normal,
			Sub:         shared.KeyOf(l.SubAccount),
			SubName:     l.SubName,
			Debit:       l.Debit.Round(shared.Scale),
			Credit:      l.Credit.Round(shared.Scale),
			PostingDate: date,
			Period:      checked.Period,
			Adjusting:   req.IsAdjusting,
			Memo:        l.Memo,
			CreatedAt:   now,
		})
	}
	return g
}

// Reverse appends a mirrored group referencing the original and voids the original
// in the same transaction. The reversal posts on the given date or the original date.
func (s *Store) Reverse(ctx context.Context, in ReverseInput) (PostingResult, error) {
	original, err := s.repo.GetGroup(ctx, in.GroupID)
	if err != nil {
		return PostingResult{}, err
	}
	if original.Status == StatusVoided && original.ReversedByID != nil {
		reversal, err := s.repo.GetGroup(ctx, *original.ReversedByID)
		if err != nil {
			return PostingResult{}, err
		}
		return resultOf(reversal, true), nil
	}
	if !original.Status.CanTransition(StatusVoided) {
		return PostingResult{}, fmt.Errorf("%w: group %s is %s", ErrInvalidTransition, original.ID, original.Status)
	}
	date := original.PostingDate
	if in.PostingDate != nil {
		date = *in.PostingDate
	}
	memo := in.Memo
	if memo == "" {
		memo = fmt.Sprintf("Reversal of %s", original.IdempotencyKey)
	}
	req := PostingRequest{
		CompanyID:       original.CompanyID,
		Module:          original.Module,
		DocumentID:      original.DocumentID + ":REVERSAL",
		DocumentVersion: original.DocumentVersion,
		Reference:       original.Reference,
		PostingDate:     date,
		Memo:            memo,
		IsAdjusting:     original.IsAdjusting,
		ActorID:         in.ActorID,
		reverses:        &original.ID,
	}
	for _, e := range original.Entries {
		var sub shared.SubAccount
		if !e.Sub.IsZero() {
			sub, err = shared.NewSubAccount(e.Sub.Kind, e.Sub.ID, e.SubName)
			if err != nil {
				return PostingResult{}, err
			}
		}
		req.Lines = append(req.Lines, LineInput{
			AccountCode: e.AccountCode,
			SubAccount:  sub,
			Debit:       e.Credit,
			Credit:      e.Debit,
			Memo:        e.Memo,
		})
	}
	res, err := s.Append(ctx, req)
	if err != nil && res.GroupID == uuid.Nil {
		return res, err
	}
	s.record(ctx, in.ActorID, "journal.reverse", original.ID, map[string]any{
		"reversal_group_id": res.GroupID.String(),
		"duplicate":         res.Duplicate,
	})
	return res, err
}

// Get returns a posted group.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Group, error) {
	return s.repo.GetGroup(ctx, id)
}

// Groups lists the groups of a company in a period.
func (s *Store) Groups(ctx context.Context, companyID int64, period shared.FiscalPeriod) ([]Group, error) {
	return s.repo.ListGroups(ctx, companyID, period)
}

// Deltas returns the balance deltas of every posted line of the company.
func (s *Store) Deltas(ctx context.Context, companyID int64) ([]balances.Delta, error) {
	entries, err := s.repo.ListEntries(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return Deltas(entries), nil
}

// AccountsWithPostings lists the accounts that carry ledger history.
func (s *Store) AccountsWithPostings(ctx context.Context, companyID int64) (map[int64]struct{}, error) {
	return s.repo.AccountsWithPostings(ctx, companyID)
}

// Deltas maps ledger lines to aggregator deltas.
func Deltas(entries []Entry) []balances.Delta {
	out := make([]balances.Delta, 0, len(entries))
	for _, e := range entries {
		out = append(out, balances.Delta{
			CompanyID:   e.CompanyID,
			AccountID:   e.AccountID,
			AccountCode: e.AccountCode,
			Normal:      e.Normal,
			Sub:         e.Sub,
			Period:      e.Period,
			Debit:       e.Debit,
			Credit:      e.Credit,
			Adjusting:   e.Adjusting,
		})
	}
	return out
}

func (s *Store) observe(ctx context.Context, module shared.Module, res PostingResult, err error) {
	if res.GroupID != uuid.Nil && !res.Duplicate {
		s.record(context.WithoutCancel(ctx), res.Group.PostedBy, "journal.post", res.GroupID, map[string]any{
			"idempotency_key": res.Group.IdempotencyKey,
			"period":          res.Group.Period.String(),
			"lines":           len(res.Group.Entries),
		})
	}
	if err == nil {
		if s.metrics != nil {
			s.metrics.PostingAccepted(string(module), res.Duplicate)
		}
		return
	}
	reason, ok := shared.ReasonOf(err)
	if !ok {
		reason = "ERROR"
		if shared.IsRetryable(err) {
			reason = "RETRYABLE"
		}
	}
	if s.metrics != nil {
		s.metrics.PostingRejected(string(module), string(reason))
	}
	if IsRejection(err) {
		s.logger.Debug("posting rejected", slog.String("module", string(module)), slog.String("reason", string(reason)), slog.Any("error", err))
	}
}

func (s *Store) record(ctx context.Context, actorID int64, action string, groupID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, appshared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_group",
		EntityID: groupID.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit ledger event", slog.String("action", action), slog.Any("error", err))
	}
}

// LedgerSource replays a repository without a Store, for out-of-process verification.
type LedgerSource struct {
	Repo Repository
}

// Deltas returns the balance deltas of every posted line of the company.
func (l LedgerSource) Deltas(ctx context.Context, companyID int64) ([]balances.Delta, error) {
	entries, err := l.Repo.ListEntries(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return Deltas(entries), nil
}
