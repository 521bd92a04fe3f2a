package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-fleet/internal/model"
)

func TestNewRejectsInvalidSchedule(t *testing.T) {
	if _, err := New(model.NewMemoryJobStorage(), "not a schedule", time.Hour); err == nil {
		t.Fatal("expected invalid schedule to be rejected")
	}
	if _, err := New(model.NewMemoryJobStorage(), "@daily", -time.Hour); err == nil {
		t.Fatal("expected negative retention to be rejected")
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	storage := model.NewMemoryJobStorage()
	now := time.Unix(1_700_000_000, 0)
	jobs := []model.Job{
		{Id: "old", Worker: "srv1", Duration: 60, StartedAt: now.Add(-48 * time.Hour), Stopped: true},
		{Id: "expired", Worker: "srv1", Duration: 60, StartedAt: now.Add(-48 * time.Hour)},
		{Id: "recent", Worker: "srv1", Duration: 60, StartedAt: now.Add(-time.Hour)},
		{Id: "running", Worker: "srv1", Duration: 3600, StartedAt: now},
	}
	for _, job := range jobs {
		if err := storage.CreateJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	skd, err := New(storage, "@hourly", 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	skd.now = func() time.Time { return now }

	if purged := skd.Purge(ctx); purged != 2 {
		t.Fatalf("expected 2 purged jobs, got %d", purged)
	}
	for _, id := range []model.JobId{"recent", "running"} {
		if _, err = storage.GetJob(ctx, id); err != nil {
			t.Errorf("expected %s to be kept: %v", id, err)
		}
	}
	if _, err = storage.GetJob(ctx, "old"); !errors.Is(err, model.ErrorNotFound) {
		t.Errorf("expected old job to be purged, got %v", err)
	}
}

func TestStartStopsWithContext(t *testing.T) {
	skd, err := New(model.NewMemoryJobStorage(), "@hourly", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		skd.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
