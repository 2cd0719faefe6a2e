package journals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// MemoryRepository keeps the ledger in process. Transactions are serialised and
// staged writes become visible only on commit.
type MemoryRepository struct {
	txMu   sync.Mutex
	mu     sync.RWMutex
	groups map[uuid.UUID]Group
	byKey  map[string]uuid.UUID
	order  []uuid.UUID
	locks  LockChecker
}

// NewMemoryRepository constructs an empty ledger. locks re-checks period status inside
// transactions and may be nil.
func NewMemoryRepository(locks LockChecker) *MemoryRepository {
	return &MemoryRepository{
		groups: make(map[uuid.UUID]Group),
		byKey:  make(map[string]uuid.UUID),
		locks:  locks,
	}
}

type memTx struct {
	repo    *MemoryRepository
	staged  []Group
	updates map[uuid.UUID]Group
}

// WithTx runs fn and commits its staged writes unless fn or the context fails.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	tx := &memTx{repo: r, updates: make(map[uuid.UUID]Group)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range tx.staged {
		r.groups[g.ID] = g
		r.byKey[g.IdempotencyKey] = g.ID
		r.order = append(r.order, g.ID)
	}
	for id, g := range tx.updates {
		r.groups[id] = g
	}
	return nil
}

func (t *memTx) PeriodClosed(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (bool, error) {
	if t.repo.locks == nil {
		return false, nil
	}
	return t.repo.locks.IsClosed(ctx, companyID, module, period)
}

func (t *memTx) InsertGroup(ctx context.Context, g Group) error {
	t.repo.mu.RLock()
	_, dup := t.repo.byKey[g.IdempotencyKey]
	t.repo.mu.RUnlock()
	if dup {
		return ErrDuplicateKey
	}
	for _, s := range t.staged {
		if s.IdempotencyKey == g.IdempotencyKey {
			return ErrDuplicateKey
		}
	}
	g.Entries = append([]Entry(nil), g.Entries...)
	t.staged = append(t.staged, g)
	return nil
}

func (t *memTx) GetGroupForUpdate(ctx context.Context, id uuid.UUID) (Group, error) {
	if g, ok := t.updates[id]; ok {
		return g, nil
	}
	for _, g := range t.staged {
		if g.ID == id {
			return g, nil
		}
	}
	return t.repo.GetGroup(ctx, id)
}

func (t *memTx) MarkVoided(ctx context.Context, id, reversalID uuid.UUID, actorID int64, at time.Time) error {
	g, err := t.GetGroupForUpdate(ctx, id)
	if err != nil {
		return err
	}
	next, err := g.Status.Transition(StatusVoided)
	if err != nil {
		return err
	}
	g.Status = next
	g.ReversedByID = &reversalID
	g.VoidedBy = &actorID
	g.VoidedAt = &at
	t.updates[id] = g
	return nil
}

// GetGroup returns a copy of the group.
func (r *MemoryRepository) GetGroup(ctx context.Context, id uuid.UUID) (Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return Group{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	g.Entries = append([]Entry(nil), g.Entries...)
	return g, nil
}

// FindByKey returns the group claimed by an idempotency key.
func (r *MemoryRepository) FindByKey(ctx context.Context, key string) (Group, bool, error) {
	r.mu.RLock()
	id, ok := r.byKey[key]
	r.mu.RUnlock()
	if !ok {
		return Group{}, false, nil
	}
	g, err := r.GetGroup(ctx, id)
	return g, err == nil, err
}

// ListEntries returns every line of the company in posting order.
func (r *MemoryRepository) ListEntries(ctx context.Context, companyID int64) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, id := range r.order {
		g := r.groups[id]
		if g.CompanyID != companyID {
			continue
		}
		out = append(out, g.Entries...)
	}
	return out, nil
}

// ListGroups returns the groups of a company posted into period.
func (r *MemoryRepository) ListGroups(ctx context.Context, companyID int64, period shared.FiscalPeriod) ([]Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Group
	for _, id := range r.order {
		g := r.groups[id]
		if g.CompanyID == companyID && g.Period == period {
			out = append(out, g)
		}
	}
	return out, nil
}

// AccountsWithPostings lists accounts referenced by at least one ledger line.
func (r *MemoryRepository) AccountsWithPostings(ctx context.Context, companyID int64) (map[int64]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]struct{})
	for _, g := range r.groups {
		if g.CompanyID != companyID {
			continue
		}
		for _, e := range g.Entries {
			out[e.AccountID] = struct{}{}
		}
	}
	return out, nil
}
