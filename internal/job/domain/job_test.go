package domain

import (
	"testing"
	"time"
)

func TestStatus_CanTransition(t *testing.T) {
	all := []Status{StatusQueued, StatusInProgress, StatusCompleted, StatusFailed}
	allowed := map[[2]Status]bool{
		{StatusQueued, StatusInProgress}:    true,
		{StatusQueued, StatusFailed}:        true,
		{StatusInProgress, StatusCompleted}: true,
		{StatusInProgress, StatusFailed}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatus_Predicates(t *testing.T) {
	testCases := []struct {
		status   Status
		valid    bool
		terminal bool
		active   bool
		public   string
	}{
		{StatusQueued, true, false, true, PublicInProgress},
		{StatusInProgress, true, false, true, PublicInProgress},
		{StatusCompleted, true, true, false, PublicCompleted},
		{StatusFailed, true, true, false, PublicFailed},
		{Status("bogus"), false, false, false, PublicInProgress},
	}
	for _, tc := range testCases {
		if tc.status.Valid() != tc.valid {
			t.Errorf("%q.Valid() = %v", tc.status, !tc.valid)
		}
		if tc.status.Terminal() != tc.terminal {
			t.Errorf("%q.Terminal() = %v", tc.status, !tc.terminal)
		}
		if tc.status.Active() != tc.active {
			t.Errorf("%q.Active() = %v", tc.status, !tc.active)
		}
		if got := tc.status.Public(); got != tc.public {
			t.Errorf("%q.Public() = %q, want %q", tc.status, got, tc.public)
		}
	}
}

func TestJob_Clone(t *testing.T) {
	started := time.Now()
	j := &Job{ID: "j1", StartedAt: &started}
	c := j.Clone()
	if c == j || c.StartedAt == j.StartedAt {
		t.Fatal("Clone should not share pointers")
	}
	c.Status = StatusFailed
	*c.StartedAt = started.Add(time.Hour)
	if j.Status != "" || !j.StartedAt.Equal(started) {
		t.Error("mutating clone changed original")
	}
	var nilJob *Job
	if nilJob.Clone() != nil {
		t.Error("nil Clone should be nil")
	}
}
