package recordlocks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps snapshots in process, ordered by date per document.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[DocumentRef][]Snapshot
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[DocumentRef][]Snapshot)}
}

func (r *MemoryRepository) Insert(ctx context.Context, s Snapshot) (Snapshot, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.docs[s.Document]
	i := sort.Search(len(list), func(i int) bool { return !list[i].AsOf.Before(s.AsOf) })
	if i < len(list) && list[i].AsOf.Equal(s.AsOf) {
		return list[i], false, nil
	}
	list = append(list, Snapshot{})
	copy(list[i+1:], list[i:])
	list[i] = s
	r.docs[s.Document] = list
	return s, true, nil
}

func (r *MemoryRepository) Get(ctx context.Context, ref DocumentRef, asOf time.Time) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.docs[ref] {
		if s.AsOf.Equal(asOf) {
			return s, nil
		}
	}
	return Snapshot{}, ErrSnapshotNotFound
}

func (r *MemoryRepository) Latest(ctx context.Context, ref DocumentRef, asOf time.Time) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.docs[ref]
	i := sort.Search(len(list), func(i int) bool { return list[i].AsOf.After(asOf) })
	if i == 0 {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return list[i-1], nil
}

func (r *MemoryRepository) List(ctx context.Context, ref DocumentRef) ([]Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Snapshot(nil), r.docs[ref]...), nil
}
