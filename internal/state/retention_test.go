package state

import (
	"context"
	"testing"
	"time"
)

func TestNewJanitor_DefaultSchedule(t *testing.T) {
	store := NewStore(NewMemoryRepository(), 0, testLogger())
	j, err := NewJanitor(store, RetentionConfig{}, testLogger())
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	if j.config.schedule() != "0 * * * *" {
		t.Fatalf("schedule = %q", j.config.schedule())
	}
	if j.config.maxAge() != 30*24*time.Hour || j.config.keepMin() != 20 {
		t.Fatalf("defaults = %v / %d", j.config.maxAge(), j.config.keepMin())
	}
}

func TestNewJanitor_BadSchedule(t *testing.T) {
	store := NewStore(NewMemoryRepository(), 0, testLogger())
	if _, err := NewJanitor(store, RetentionConfig{Schedule: "every tuesday"}, testLogger()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestJanitor_RunPrunes(t *testing.T) {
	store := NewStore(NewMemoryRepository(), 0, testLogger())
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if err := store.SavePlan(ctx, testPlan("stale-new", now.Add(-80*24*time.Hour))); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	if err := store.SavePlan(ctx, testPlan("stale-old", now.Add(-90*24*time.Hour))); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	j, err := NewJanitor(store, RetentionConfig{MaxAge: 30 * 24 * time.Hour, KeepMin: 1}, testLogger())
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	j.run(ctx)

	if _, err := store.GetPlan(ctx, "stale-old"); err == nil {
		t.Fatal("oldest stale plan should have been pruned")
	}
	if _, err := store.GetPlan(ctx, "stale-new"); err != nil {
		t.Fatalf("keep_min should protect the newest plan: %v", err)
	}
}
