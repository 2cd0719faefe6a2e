package accounts

import (
	"fmt"
	"sync"
)

// Registry holds the chart of accounts for every loaded company.
type Registry struct {
	mu     sync.RWMutex
	charts map[int64]*Chart
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{charts: make(map[int64]*Chart)}
}

// Chart returns the chart of companyID.
func (r *Registry) Chart(companyID int64) (*Chart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.charts[companyID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrChartNotLoaded, companyID)
	}
	return c, nil
}

// Ensure returns the chart of companyID, creating an empty one when missing.
func (r *Registry) Ensure(companyID int64) *Chart {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.charts[companyID]
	if !ok {
		c = NewChart(companyID)
		r.charts[companyID] = c
	}
	return c
}

// Put registers or replaces a company chart.
func (r *Registry) Put(c *Chart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.charts[c.CompanyID()] = c
}

// Resolve returns the account with code in companyID's chart.
func (r *Registry) Resolve(companyID int64, code string) (Account, error) {
	c, err := r.Chart(companyID)
	if err != nil {
		return Account{}, err
	}
	return c.Resolve(code)
}

// ResolveID returns the account with id in companyID's chart.
func (r *Registry) ResolveID(companyID, id int64) (Account, error) {
	c, err := r.Chart(companyID)
	if err != nil {
		return Account{}, err
	}
	return c.ResolveID(id)
}

// Companies lists the loaded company ids.
func (r *Registry) Companies() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, len(r.charts))
	for id := range r.charts {
		out = append(out, id)
	}
	return out
}
