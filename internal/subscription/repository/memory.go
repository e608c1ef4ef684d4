package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"subgate/internal/subscription"
)

// InMemoryRepository keeps subscription records in a map. It is meant for
// tests and single-process deployments without a database.
type InMemoryRepository struct {
	mu      sync.Mutex
	records map[int64]*subscription.Record
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[int64]*subscription.Record),
	}
}

// Get returns a copy of the user's record, or a default one.
func (r *InMemoryRepository) Get(ctx context.Context, userID int64) (*subscription.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok {
		return subscription.NewRecord(userID), nil
	}
	return rec.Clone(), nil
}

// Update applies fn to a copy of the record and stores the copy only when fn
// succeeds.
func (r *InMemoryRepository) Update(ctx context.Context, userID int64, fn func(*subscription.Record) error) (*subscription.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok {
		rec = subscription.NewRecord(userID)
	}
	next := rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	r.records[userID] = next
	return next.Clone(), nil
}

// ListPending returns the ids of users holding a pending transaction.
func (r *InMemoryRepository) ListPending(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id, rec := range r.records {
		if rec.Pending != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
