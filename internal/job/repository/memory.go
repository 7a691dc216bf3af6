package repository

import (
	"context"
	"sync"
	"time"

	"speech-to-text/backend/internal/job/domain"
)

// MemoryRepository keeps jobs in process memory. Safe for concurrent use.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*domain.Job
	byUser map[string][]string // job ids in creation order
}

// NewMemoryRepository returns an empty in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*domain.Job),
		byUser: make(map[string][]string),
	}
}

func (r *MemoryRepository) CreateIfSlotFree(ctx context.Context, j *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.byUser[j.UserID] {
		if r.byID[id].Status.Active() {
			return ErrSlotOccupied
		}
	}
	r.byID[j.ID] = j.Clone()
	r.byUser[j.UserID] = append(r.byUser[j.UserID], j.ID)
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) Current(ctx context.Context, userID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byUser[userID]
	if len(ids) == 0 {
		return nil, nil
	}
	return r.byID[ids[len(ids)-1]].Clone(), nil
}

func (r *MemoryRepository) Transition(ctx context.Context, id string, t domain.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.byID[id]
	if !ok || j.Status != t.From || !t.From.CanTransition(t.To) {
		return ErrStaleTransition
	}
	apply(j, t)
	return nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byUser[userID]
	var out []*domain.Job
	for i := len(ids) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.byID[ids[i]].Clone())
	}
	return out, nil
}

func (r *MemoryRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]), nil
}

func (r *MemoryRepository) FailStale(ctx context.Context, cutoff time.Time, reason string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.byID {
		if j.Status.Active() && j.CreatedAt.Before(cutoff) {
			apply(j, domain.Transition{From: j.Status, To: domain.StatusFailed, Error: reason, At: at})
			n++
		}
	}
	return n, nil
}
