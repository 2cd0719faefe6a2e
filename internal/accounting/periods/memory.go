package periods

import (
	"context"
	"sort"
	"sync"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

type recordKey struct {
	companyID int64
	module    shared.Module
	period    shared.FiscalPeriod
}

// MemoryRepository keeps posted period rows in process.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[recordKey]PostedPeriod
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[recordKey]PostedPeriod)}
}

// ListPosted returns the closed periods of a module ordered by period.
func (r *MemoryRepository) ListPosted(ctx context.Context, companyID int64, module shared.Module) ([]PostedPeriod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []PostedPeriod
	for k, p := range r.records {
		if k.companyID == companyID && k.module == module && p.IsPosted {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	return out, nil
}

func (r *MemoryRepository) Get(ctx context.Context, companyID int64, module shared.Module, period shared.FiscalPeriod) (PostedPeriod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.records[recordKey{companyID, module, period}]
	if !ok {
		return PostedPeriod{}, ErrRecordNotFound
	}
	return p, nil
}

func (r *MemoryRepository) Save(ctx context.Context, p PostedPeriod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[recordKey{p.CompanyID, p.Module, p.Period}] = p
	return nil
}
