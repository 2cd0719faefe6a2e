package recordlocks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	appshared "github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// AuditPort records lock events.
type AuditPort interface {
	Record(ctx context.Context, log appshared.AuditLog) error
}

// Queue freezes costing snapshots of sales and purchase documents.
type Queue struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewQueue constructs a Queue. audit may be nil.
func NewQueue(repo Repository, audit AuditPort, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// Lock freezes quantity and price of a document as of a date. Locking the same
// figures again returns the stored snapshot; different figures are rejected.
func (q *Queue) Lock(ctx context.Context, in LockInput) (Snapshot, error) {
	if err := in.Document.validate(); err != nil {
		return Snapshot{}, err
	}
	if in.AsOf.IsZero() {
		return Snapshot{}, fmt.Errorf("%w: as-of date is required", ErrInvalidReference)
	}
	for _, v := range []struct {
		name string
		ok   bool
	}{
		{"quantity", !in.Quantity.IsNegative() && shared.HasValidScale(in.Quantity)},
		{"price", !in.Price.IsNegative() && shared.HasValidScale(in.Price)},
	} {
		if !v.ok {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrInvalidFigures, v.name)
		}
	}
	if in.ActorID <= 0 {
		return Snapshot{}, appshared.ErrActorMissing
	}
	snap := Snapshot{
		Document: in.Document,
		AsOf:     shared.DateOnly(in.AsOf),
		Quantity: in.Quantity,
		Price:    in.Price,
		LockedBy: in.ActorID,
		LockedAt: q.now(),
	}
	stored, inserted, err := q.repo.Insert(ctx, snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("recordlocks: insert %s: %w", in.Document, err)
	}
	if !inserted {
		if !stored.sameFigures(snap) {
			return Snapshot{}, fmt.Errorf("%w: %s as of %s", ErrSnapshotConflict, in.Document, snap.AsOf.Format(time.DateOnly))
		}
		return stored, nil
	}
	if q.audit != nil {
		if err := q.audit.Record(context.WithoutCancel(ctx), appshared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "record_lock.lock",
			Entity:   "locked_record_snapshot",
			EntityID: in.Document.String() + "@" + snap.AsOf.Format(time.DateOnly),
			Meta:     map[string]any{"quantity": snap.Quantity.String(), "price": snap.Price.String()},
			At:       snap.LockedAt,
		}); err != nil {
			q.logger.Warn("audit record lock", slog.Any("error", err))
		}
	}
	return stored, nil
}

// Lookup returns the snapshot taken exactly as of asOf.
func (q *Queue) Lookup(ctx context.Context, ref DocumentRef, asOf time.Time) (Snapshot, error) {
	if err := ref.validate(); err != nil {
		return Snapshot{}, err
	}
	return q.repo.Get(ctx, ref, shared.DateOnly(asOf))
}

// LookupLatest returns the most recent snapshot on or before asOf.
func (q *Queue) LookupLatest(ctx context.Context, ref DocumentRef, asOf time.Time) (Snapshot, error) {
	if err := ref.validate(); err != nil {
		return Snapshot{}, err
	}
	return q.repo.Latest(ctx, ref, shared.DateOnly(asOf))
}

// History lists every snapshot of a document by date.
func (q *Queue) History(ctx context.Context, ref DocumentRef) ([]Snapshot, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	return q.repo.List(ctx, ref)
}
