package state

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/themislabs/themis/internal/orchestrator"
)

// DefaultCacheTTL is how long a loaded snapshot serves reads before the
// backend is consulted again.
const DefaultCacheTTL = 60 * time.Second

// Metrics holds Prometheus metrics for the state store cache.
type Metrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewMetrics creates and registers state metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "themis",
			Subsystem: "state",
			Name:      "cache_hits_total",
			Help:      "Snapshot reads served from the TTL cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "themis",
			Subsystem: "state",
			Name:      "cache_misses_total",
			Help:      "Snapshot reads that hit the backend.",
		}),
	}
	reg.MustRegister(m.CacheHits, m.CacheMisses)
	return m
}

// Stats is a point-in-time view of cache behavior.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Store fronts a Repository with a TTL read cache and write-through
// updates. It implements orchestrator.StateStore. A single mutex
// serializes all access; the document model has exactly one writer.
type Store struct {
	repo    Repository
	ttl     time.Duration
	now     func() time.Time
	metrics *Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	cached   *Snapshot
	loadedAt time.Time
	hits     uint64
	misses   uint64
}

// NewStore creates a store over the repository. A non-positive ttl
// falls back to DefaultCacheTTL.
func NewStore(repo Repository, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		repo:   repo,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// WithMetrics attaches Prometheus metrics. Nil-safe (no-op if nil).
func (s *Store) WithMetrics(m *Metrics) *Store {
	s.metrics = m
	return s
}

// snapshot returns the current document, from cache when fresh.
// Callers must hold s.mu.
func (s *Store) snapshot(ctx context.Context) (*Snapshot, error) {
	if s.cached != nil && s.now().Sub(s.loadedAt) < s.ttl {
		s.hits++
		if s.metrics != nil {
			s.metrics.CacheHits.Inc()
		}
		return s.cached, nil
	}

	snap, err := s.repo.Load(ctx)
	if err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}
	snap.normalize()
	s.cached = snap
	s.loadedAt = s.now()
	s.misses++
	if s.metrics != nil {
		s.metrics.CacheMisses.Inc()
	}
	return snap, nil
}

// save writes the document through to the backend and installs it as
// the cached snapshot. The cache is only updated after a successful
// durable write; on failure the previous snapshot stays in place.
// Callers must hold s.mu and pass a snapshot the cache does not own.
func (s *Store) save(ctx context.Context, snap *Snapshot) error {
	if err := s.repo.Save(ctx, snap); err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	s.cached = snap
	s.loadedAt = s.now()
	return nil
}

// SavePlan inserts or replaces a plan.
func (s *Store) SavePlan(ctx context.Context, plan *orchestrator.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	next := snap.clone()
	next.Plans[plan.ID] = plan
	return s.save(ctx, next)
}

// GetPlan returns a plan or a *orchestrator.PlanNotFoundError.
func (s *Store) GetPlan(ctx context.Context, id string) (*orchestrator.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	plan, ok := snap.Plans[id]
	if !ok {
		return nil, &orchestrator.PlanNotFoundError{PlanID: id}
	}
	return plan, nil
}

// SaveExecution inserts or replaces the execution record for a plan.
func (s *Store) SaveExecution(ctx context.Context, rec *orchestrator.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	next := snap.clone()
	next.Executions[rec.PlanID] = rec
	return s.save(ctx, next)
}

// GetExecution returns the execution record for a plan, if one exists.
func (s *Store) GetExecution(ctx context.Context, planID string) (*orchestrator.ExecutionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	rec, ok := snap.Executions[planID]
	return rec, ok, nil
}

// SetMemory stores a workflow memory entry.
func (s *Store) SetMemory(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	next := snap.clone()
	next.Memory[key] = value
	return s.save(ctx, next)
}

// GetMemory returns a workflow memory entry.
func (s *Store) GetMemory(ctx context.Context, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := snap.Memory[key]
	return v, ok, nil
}

// PruneExecutions drops plans and execution records older than maxAge,
// keeping the most recent keepMin plans regardless of age. Returns the
// number of plans removed.
func (s *Store) PruneExecutions(ctx context.Context, maxAge time.Duration, keepMin int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.snapshot(ctx)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(snap.Plans))
	for id := range snap.Plans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return snap.Plans[ids[i]].CreatedAt.After(snap.Plans[ids[j]].CreatedAt)
	})

	cutoff := s.now().UTC().Add(-maxAge)
	next := snap.clone()
	removed := 0
	for i, id := range ids {
		if i < keepMin {
			continue
		}
		if snap.Plans[id].CreatedAt.After(cutoff) {
			continue
		}
		delete(next.Plans, id)
		delete(next.Executions, id)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.save(ctx, next); err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "pruned stale plans",
		slog.Int("removed", removed),
		slog.Duration("max_age", maxAge),
	)
	return removed, nil
}

// Invalidate drops the cached snapshot so the next read hits the backend.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

// Stats returns cache hit and miss counts.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Hits: s.hits, Misses: s.misses}
}

// Close closes the underlying repository.
func (s *Store) Close() error { return s.repo.Close() }

var _ orchestrator.StateStore = (*Store)(nil)
