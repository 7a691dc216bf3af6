package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"speech-to-text/backend/internal/job/domain"
)

func newJob(id, userID string) *domain.Job {
	now := time.Now().UTC()
	return &domain.Job{ID: id, UserID: userID, AudioURL: "https://example.com/a.mp3", Status: domain.StatusQueued, CreatedAt: now, UpdatedAt: now}
}

func TestMemoryRepository_SlotAndTransitions(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	if got, _ := r.Current(ctx, "u1"); got != nil {
		t.Fatalf("Current on empty repo = %+v, want nil", got)
	}
	if err := r.CreateIfSlotFree(ctx, newJob("j1", "u1")); err != nil {
		t.Fatalf("CreateIfSlotFree: %v", err)
	}
	if err := r.CreateIfSlotFree(ctx, newJob("j2", "u1")); !errors.Is(err, ErrSlotOccupied) {
		t.Fatalf("second create err = %v, want ErrSlotOccupied", err)
	}
	if err := r.CreateIfSlotFree(ctx, newJob("other", "u2")); err != nil {
		t.Fatalf("other user's slot should be independent: %v", err)
	}

	at := time.Now().UTC()
	if err := r.Transition(ctx, "j1", domain.Transition{From: domain.StatusInProgress, To: domain.StatusCompleted, At: at}); !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("stale transition err = %v", err)
	}
	if err := r.Transition(ctx, "j1", domain.Transition{From: domain.StatusQueued, To: domain.StatusInProgress, At: at}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.CreateIfSlotFree(ctx, newJob("j2", "u1")); !errors.Is(err, ErrSlotOccupied) {
		t.Fatalf("in-progress job should still hold slot, err = %v", err)
	}
	if err := r.Transition(ctx, "j1", domain.Transition{From: domain.StatusInProgress, To: domain.StatusCompleted, Result: "text", At: at}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := r.Transition(ctx, "j1", domain.Transition{From: domain.StatusCompleted, To: domain.StatusFailed, At: at}); !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("terminal job must not change, err = %v", err)
	}

	j, _ := r.GetByID(ctx, "j1")
	if j.Status != domain.StatusCompleted || j.Result != "text" || j.StartedAt == nil || j.FinishedAt == nil {
		t.Fatalf("job = %+v", j)
	}

	if err := r.CreateIfSlotFree(ctx, newJob("j2", "u1")); err != nil {
		t.Fatalf("slot should be free after terminal state: %v", err)
	}
	cur, _ := r.Current(ctx, "u1")
	if cur.ID != "j2" {
		t.Errorf("Current = %s, want j2", cur.ID)
	}
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	j := newJob("j1", "u1")
	_ = r.CreateIfSlotFree(ctx, j)
	j.Status = domain.StatusFailed

	got, _ := r.GetByID(ctx, "j1")
	if got.Status != domain.StatusQueued {
		t.Fatal("caller mutation leaked into the store")
	}
	got.Status = domain.StatusCompleted
	again, _ := r.GetByID(ctx, "j1")
	if again.Status != domain.StatusQueued {
		t.Fatal("snapshot mutation leaked into the store")
	}
}

func TestMemoryRepository_ListByUser(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	at := time.Now().UTC()
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("j%d", i)
		if err := r.CreateIfSlotFree(ctx, newJob(id, "u1")); err != nil {
			t.Fatal(err)
		}
		_ = r.Transition(ctx, id, domain.Transition{From: domain.StatusQueued, To: domain.StatusFailed, At: at})
	}

	page, _ := r.ListByUser(ctx, "u1", 2, 0)
	if len(page) != 2 || page[0].ID != "j5" || page[1].ID != "j4" {
		t.Fatalf("first page = %v", ids(page))
	}
	page, _ = r.ListByUser(ctx, "u1", 2, 4)
	if len(page) != 1 || page[0].ID != "j1" {
		t.Fatalf("last page = %v", ids(page))
	}
	page, _ = r.ListByUser(ctx, "u1", 2, 10)
	if len(page) != 0 {
		t.Fatalf("past end = %v", ids(page))
	}
	if n, _ := r.CountByUser(ctx, "u1"); n != 5 {
		t.Errorf("CountByUser = %d, want 5", n)
	}
}

func TestMemoryRepository_FailStale(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	cutoff := time.Now().UTC()

	old := newJob("stuck", "u1")
	old.CreatedAt = cutoff.Add(-time.Hour)
	queued := newJob("queued", "u2")
	queued.CreatedAt = cutoff.Add(-time.Minute)
	done := newJob("done", "u3")
	done.CreatedAt = cutoff.Add(-time.Hour)
	fresh := newJob("fresh", "u4")
	fresh.CreatedAt = cutoff.Add(time.Second)
	for _, j := range []*domain.Job{old, queued, done, fresh} {
		if err := r.CreateIfSlotFree(ctx, j); err != nil {
			t.Fatalf("create %s: %v", j.ID, err)
		}
	}
	at := cutoff.Add(-30 * time.Minute)
	if err := r.Transition(ctx, "stuck", domain.Transition{From: domain.StatusQueued, To: domain.StatusInProgress, At: at}); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = r.Transition(ctx, "done", domain.Transition{From: domain.StatusQueued, To: domain.StatusInProgress, At: at})
	_ = r.Transition(ctx, "done", domain.Transition{From: domain.StatusInProgress, To: domain.StatusCompleted, Result: "text", At: at})

	n, err := r.FailStale(ctx, cutoff, "interrupted by restart", cutoff)
	if err != nil || n != 2 {
		t.Fatalf("FailStale = %d, %v; want 2", n, err)
	}
	for _, id := range []string{"stuck", "queued"} {
		j, _ := r.GetByID(ctx, id)
		if j.Status != domain.StatusFailed || j.Error != "interrupted by restart" || j.FinishedAt == nil {
			t.Errorf("%s = %+v, want failed", id, j)
		}
	}
	if j, _ := r.GetByID(ctx, "done"); j.Status != domain.StatusCompleted || j.Result != "text" {
		t.Errorf("terminal job changed: %+v", j)
	}
	if j, _ := r.GetByID(ctx, "fresh"); j.Status != domain.StatusQueued {
		t.Errorf("job created after cutoff changed: %+v", j)
	}
	if err := r.CreateIfSlotFree(ctx, newJob("next", "u1")); err != nil {
		t.Errorf("slot should be free after sweep: %v", err)
	}
}

func TestMemoryRepository_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := r.CreateIfSlotFree(ctx, newJob(fmt.Sprintf("j%d", i), "u1")); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("created = %d, want exactly 1", created)
	}
}

func ids(jobs []*domain.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
