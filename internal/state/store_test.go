package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/themislabs/themis/internal/matter"
	"github.com/themislabs/themis/internal/orchestrator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPlan(id string, createdAt time.Time) *orchestrator.Plan {
	return &orchestrator.Plan{
		ID:        id,
		Status:    orchestrator.StatusPlanned,
		Matter:    matter.Matter{"summary": "vendor dispute"},
		Nodes:     []orchestrator.PlanNode{},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// --- Plans / executions ---

func TestStore_SaveAndGetPlan(t *testing.T) {
	store := NewStore(NewMemoryRepository(), 0, testLogger())
	ctx := context.Background()

	plan := testPlan("p1", time.Now().UTC())
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	got, err := store.GetPlan(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.ID != "p1" || got.Status != orchestrator.StatusPlanned {
		t.Fatalf("plan = %+v", got)
	}
}

func TestStore_GetPlanNotFound(t *testing.T) {
	store := NewStore(NewMemoryRepository(), 0, testLogger())

	_, err := store.GetPlan(context.Background(), "missing")
	var notFound *orchestrator.PlanNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected PlanNotFoundError, got %v", err)
	}
	if notFound.PlanID != "missing" {
		t.Fatalf("PlanID = %q", notFound.PlanID)
	}
}

func TestStore_SaveAndGetExecution(t *testing.T) {
	store := NewStore(NewMemoryRepository(), 0, testLogger())
	ctx := context.Background()

	rec := &orchestrator.ExecutionRecord{
		PlanID: "p1",
		Status: orchestrator.StatusComplete,
		Artifacts: map[string]map[string]any{
			"facts": {"facts": map[string]any{"parties": []any{"Acme"}}},
		},
	}
	if err := store.SaveExecution(ctx, rec); err != nil {
		t.Fatalf("SaveExecution: %v", err)
	}
	got, found, err := store.GetExecution(ctx, "p1")
	if err != nil || !found {
		t.Fatalf("GetExecution: found=%v err=%v", found, err)
	}
	if got.Status != orchestrator.StatusComplete {
		t.Fatalf("status = %q", got.Status)
	}

	if _, found, err := store.GetExecution(ctx, "other"); err != nil || found {
		t.Fatalf("expected miss, found=%v err=%v", found, err)
	}
}

func TestStore_WriteThroughSurvivesInvalidation(t *testing.T) {
	repo := NewMemoryRepository()
	store := NewStore(repo, 0, testLogger())
	ctx := context.Background()

	if err := store.SavePlan(ctx, testPlan("p1", time.Now().UTC())); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	store.Invalidate()

	// The next read must come back from the backend, not the cache.
	if _, err := store.GetPlan(ctx, "p1"); err != nil {
		t.Fatalf("GetPlan after invalidation: %v", err)
	}
}

// --- Memory ---

func TestStore_Memory(t *testing.T) {
	store := NewStore(NewMemoryRepository(), 0, testLogger())
	ctx := context.Background()

	if err := store.SetMemory(ctx, "preferred_tone", "formal"); err != nil {
		t.Fatalf("SetMemory: %v", err)
	}
	v, found, err := store.GetMemory(ctx, "preferred_tone")
	if err != nil || !found {
		t.Fatalf("GetMemory: found=%v err=%v", found, err)
	}
	if v != "formal" {
		t.Fatalf("value = %v", v)
	}
	if _, found, _ := store.GetMemory(ctx, "missing"); found {
		t.Fatal("expected miss for unset key")
	}
}

// --- TTL cache ---

func TestStore_CacheTTL(t *testing.T) {
	store := NewStore(NewMemoryRepository(), 30*time.Second, testLogger())
	clock := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	// First read is a miss, reads inside the TTL are hits.
	if _, err := store.GetPlan(ctx, "x"); err == nil {
		t.Fatal("expected not-found error")
	}
	clock = clock.Add(10 * time.Second)
	_, _ = store.GetPlan(ctx, "x")
	stats := store.Stats()
	if stats.Misses != 1 || stats.Hits != 1 {
		t.Fatalf("stats = %+v, want 1 miss then 1 hit", stats)
	}

	// Past the TTL the backend is consulted again.
	clock = clock.Add(time.Minute)
	_, _ = store.GetPlan(ctx, "x")
	stats = store.Stats()
	if stats.Misses != 2 {
		t.Fatalf("stats = %+v, want a second miss after expiry", stats)
	}
}

func TestStore_SaveRefreshesCacheClock(t *testing.T) {
	store := NewStore(NewMemoryRepository(), 30*time.Second, testLogger())
	clock := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	if err := store.SavePlan(ctx, testPlan("p1", clock)); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	misses := store.Stats().Misses

	// A write refreshed the cache, so a read just inside the TTL hits.
	clock = clock.Add(29 * time.Second)
	if _, err := store.GetPlan(ctx, "p1"); err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	stats := store.Stats()
	if stats.Misses != misses || stats.Hits != 1 {
		t.Fatalf("stats = %+v, want read served from cache", stats)
	}
}

// --- Retention ---

func TestStore_PruneExecutions(t *testing.T) {
	store := NewStore(NewMemoryRepository(), 0, testLogger())
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	ages := map[string]time.Duration{
		"fresh":   time.Hour,
		"stale-1": 40 * 24 * time.Hour,
		"stale-2": 50 * 24 * time.Hour,
	}
	for id, age := range ages {
		if err := store.SavePlan(ctx, testPlan(id, now.Add(-age))); err != nil {
			t.Fatalf("SavePlan(%s): %v", id, err)
		}
		if err := store.SaveExecution(ctx, &orchestrator.ExecutionRecord{PlanID: id}); err != nil {
			t.Fatalf("SaveExecution(%s): %v", id, err)
		}
	}

	removed, err := store.PruneExecutions(ctx, 30*24*time.Hour, 0)
	if err != nil {
		t.Fatalf("PruneExecutions: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, err := store.GetPlan(ctx, "fresh"); err != nil {
		t.Fatalf("fresh plan should survive: %v", err)
	}
	if _, err := store.GetPlan(ctx, "stale-1"); err == nil {
		t.Fatal("stale plan should be gone")
	}
	if _, found, _ := store.GetExecution(ctx, "stale-2"); found {
		t.Fatal("stale execution record should be gone")
	}
}

func TestStore_PruneKeepsMinimum(t *testing.T) {
	store := NewStore(NewMemoryRepository(), 0, testLogger())
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	// Everything is ancient, but keepMin protects the two newest.
	for i, id := range []string{"old-1", "old-2", "old-3"} {
		createdAt := now.Add(-time.Duration(100+i) * 24 * time.Hour)
		if err := store.SavePlan(ctx, testPlan(id, createdAt)); err != nil {
			t.Fatalf("SavePlan(%s): %v", id, err)
		}
	}

	removed, err := store.PruneExecutions(ctx, 30*24*time.Hour, 2)
	if err != nil {
		t.Fatalf("PruneExecutions: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := store.GetPlan(ctx, "old-1"); err != nil {
		t.Fatalf("newest plan should survive keepMin: %v", err)
	}
	if _, err := store.GetPlan(ctx, "old-3"); err == nil {
		t.Fatal("oldest plan should be pruned")
	}
}

func TestStore_PruneNothingToRemove(t *testing.T) {
	store := NewStore(NewMemoryRepository(), 0, testLogger())
	ctx := context.Background()

	if err := store.SavePlan(ctx, testPlan("p1", time.Now().UTC())); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	removed, err := store.PruneExecutions(ctx, 30*24*time.Hour, 0)
	if err != nil {
		t.Fatalf("PruneExecutions: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}

// --- Backend failures ---

func TestStore_LoadErrorWrapped(t *testing.T) {
	cause := errors.New("disk gone")
	store := NewStore(&failingRepository{loadErr: cause}, 0, testLogger())

	_, err := store.GetPlan(context.Background(), "p1")
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if storageErr.Op != "load" || !errors.Is(err, cause) {
		t.Fatalf("unexpected wrapping: %+v", storageErr)
	}
}

func TestStore_SaveErrorWrapped(t *testing.T) {
	cause := errors.New("write refused")
	store := NewStore(&failingRepository{saveErr: cause}, 0, testLogger())
	ctx := context.Background()

	err := store.SavePlan(ctx, testPlan("p1", time.Now().UTC()))
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if storageErr.Op != "save" {
		t.Fatalf("Op = %q", storageErr.Op)
	}

	// The failed write must not be readable from the cache: the cached
	// snapshot only ever reflects what the backend accepted.
	var notFound *orchestrator.PlanNotFoundError
	if _, err := store.GetPlan(ctx, "p1"); !errors.As(err, &notFound) {
		t.Fatalf("plan from a failed save is readable, got %v", err)
	}
}

func TestStore_FailedSaveKeepsPriorState(t *testing.T) {
	repo := &flakyRepository{}
	store := NewStore(repo, 0, testLogger())
	ctx := context.Background()

	if err := store.SavePlan(ctx, testPlan("durable", time.Now().UTC())); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	// Every write from here on is refused by the backend.
	repo.saveErr = errors.New("write refused")
	if err := store.SavePlan(ctx, testPlan("lost", time.Now().UTC())); err == nil {
		t.Fatal("expected save error")
	}
	if err := store.SaveExecution(ctx, &orchestrator.ExecutionRecord{PlanID: "lost"}); err == nil {
		t.Fatal("expected save error")
	}
	if err := store.SetMemory(ctx, "tone", "formal"); err == nil {
		t.Fatal("expected save error")
	}

	// The cache still serves exactly the last durable state.
	if _, err := store.GetPlan(ctx, "durable"); err != nil {
		t.Fatalf("durable plan lost after failed writes: %v", err)
	}
	if _, err := store.GetPlan(ctx, "lost"); err == nil {
		t.Fatal("unpersisted plan readable from cache")
	}
	if _, found, _ := store.GetExecution(ctx, "lost"); found {
		t.Fatal("unpersisted execution readable from cache")
	}
	if _, found, _ := store.GetMemory(ctx, "tone"); found {
		t.Fatal("unpersisted memory entry readable from cache")
	}
}

func TestStore_FailedPruneKeepsPriorState(t *testing.T) {
	repo := &flakyRepository{}
	store := NewStore(repo, 0, testLogger())
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for _, id := range []string{"old-1", "old-2"} {
		if err := store.SavePlan(ctx, testPlan(id, now.Add(-90*24*time.Hour))); err != nil {
			t.Fatalf("SavePlan(%s): %v", id, err)
		}
	}

	repo.saveErr = errors.New("write refused")
	if _, err := store.PruneExecutions(ctx, 30*24*time.Hour, 0); err == nil {
		t.Fatal("expected prune save error")
	}
	for _, id := range []string{"old-1", "old-2"} {
		if _, err := store.GetPlan(ctx, id); err != nil {
			t.Fatalf("plan %s dropped from cache by a failed prune: %v", id, err)
		}
	}
}

// --- MemoryRepository ---

func TestMemoryRepository_RoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	snap := NewSnapshot()
	snap.Memory["tone"] = "formal"
	snap.Plans["p1"] = testPlan("p1", time.Now().UTC())
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Memory["tone"] != "formal" {
		t.Fatalf("memory = %v", loaded.Memory)
	}
	if loaded.Plans["p1"].ID != "p1" {
		t.Fatalf("plans = %v", loaded.Plans)
	}
	// JSON round-trip normalizes value shapes the way a persistent
	// backend would.
	if _, ok := loaded.Plans["p1"].Matter["summary"].(string); !ok {
		t.Fatal("matter did not survive the round trip")
	}
}

func TestMemoryRepository_EmptyLoad(t *testing.T) {
	loaded, err := NewMemoryRepository().Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Plans == nil || loaded.Executions == nil || loaded.Memory == nil {
		t.Fatal("empty load must return an initialized snapshot")
	}
}

// --- Mocks ---

// flakyRepository behaves like MemoryRepository until saveErr is set,
// after which every write is refused.
type flakyRepository struct {
	MemoryRepository
	saveErr error
}

func (r *flakyRepository) Save(ctx context.Context, snap *Snapshot) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.MemoryRepository.Save(ctx, snap)
}

type failingRepository struct {
	loadErr error
	saveErr error
}

func (r *failingRepository) Load(_ context.Context) (*Snapshot, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return NewSnapshot(), nil
}

func (r *failingRepository) Save(_ context.Context, _ *Snapshot) error {
	return r.saveErr
}

func (r *failingRepository) Close() error { return nil }
