package cache

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/recipeapp/recipecache/internal/config"
	"github.com/recipeapp/recipecache/internal/ratelimit"
	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

// State is the lifecycle state of a Service
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateShuttingDown
	StateClosed
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Cache names used in metrics and logs.
const (
	cachePopular      = "popular"
	cacheSearch       = "search"
	cacheSimilar      = "similar"
	cacheInstructions = "instructions"
)

// Health components reported to the HealthRecorder.
const (
	componentStorage  = "storage"
	componentUpstream = "upstream"
)

// Options wires a Service to its collaborators. Store, Source and Profile
// are required.
type Options struct {
	Profile config.Profile
	Store   types.KVStore
	Source  types.RecipeSource
	Metrics types.MetricsRecorder
	Health  types.HealthRecorder
	Logger  *slog.Logger

	// Clock defaults to time.Now
	Clock func() time.Time
	// Rand shuffles the popular set; defaults to a time-seeded source
	Rand *rand.Rand
}

// Service is the recipe cache: popular, search and similar tiers plus an
// instructions tier, persisted to a KV store and fed from a rate-limited
// recipe API.
type Service struct {
	profile config.Profile
	store   types.KVStore
	source  types.RecipeSource
	metrics types.MetricsRecorder
	health  types.HealthRecorder
	logger  *slog.Logger
	now     func() time.Time

	tracker      *ratelimit.Tracker
	refreshPacer *ratelimit.Pacer
	preloadPacer *ratelimit.Pacer
	instructions *expirable.LRU[string, types.Instructions]

	mu             sync.Mutex
	state          State
	popular        []types.Recipe
	popularFetched time.Time
	trending       []types.Recipe
	search         *boundedMap[SearchEntry]
	similar        *boundedMap[SimilarEntry]
	stats          statistics
	storageRatio   float64
	rng            *rand.Rand

	// serializes snapshot+write so blobs land in mutation order
	persistMu sync.Mutex
	refreshMu sync.Mutex
	preloading atomic.Bool

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewService creates a Service. Call Initialize before use.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Source == nil {
		return nil, cacheerrors.NewError(cacheerrors.ErrCodeInvalidConfig, "store and recipe source are required").
			WithComponent("cache")
	}
	if opts.Profile.Environment == "" {
		opts.Profile = config.Resolve("")
	}
	if opts.Metrics == nil {
		opts.Metrics = types.NopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	logger := opts.Logger.With("component", "cache")
	p := opts.Profile

	instructionsSize := p.InstructionsCacheSize
	if instructionsSize <= 0 {
		instructionsSize = 1
	}

	s := &Service{
		profile: p,
		store:   opts.Store,
		source:  opts.Source,
		metrics: opts.Metrics,
		health:  opts.Health,
		logger:  logger,
		now:     opts.Clock,
		tracker: ratelimit.NewTracker(ratelimit.TrackerConfig{
			CallsPerMinute:   p.CallsPerMinute,
			MonthlyCallLimit: p.MonthlyCallLimit,
		}, opts.Store, opts.Clock, opts.Logger),
		refreshPacer: ratelimit.NewPacer(p.InterCallDelay),
		preloadPacer: ratelimit.NewPacer(p.PreloadDelay),
		search:       newBoundedMap[SearchEntry](p.SearchTTL),
		similar:      newBoundedMap[SimilarEntry](p.SimilarTTL),
		rng:          opts.Rand,
	}
	s.instructions = expirable.NewLRU[string, types.Instructions](instructionsSize,
		func(string, types.Instructions) { s.metrics.RecordEviction(cacheInstructions, "lru", 1) },
		p.InstructionsTTL)

	return s, nil
}

// Profile returns the resolved configuration profile.
func (s *Service) Profile() config.Profile {
	return s.profile
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize checks that storage accepts writes, restores persisted state,
// relieves storage pressure, populates the popular set when it is empty or
// stale and starts background work. Calling it again once started is a no-op. Only a closed
// service fails.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateUninitialized:
		s.state = StateLoading
	case StateShuttingDown, StateClosed:
		s.mu.Unlock()
		return cacheerrors.NewError(cacheerrors.ErrCodeShutdownInProgress, "cache service is shut down").
			WithComponent("cache").
			WithOperation("Initialize")
	default:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	start := s.now()
	s.logger.Info("Initializing recipe cache", "environment", s.profile.Environment)

	// Check writes before restoring, but only act on storage pressure once the
	// tiers hold the restored state.
	writeErr := s.checkStorageWrite(ctx)

	s.tracker.Load(ctx)
	s.load(ctx)

	var storageErr error
	if writeErr != nil {
		storageErr = s.handleWriteCheckFailure(ctx, writeErr)
	} else {
		storageErr = s.relieveStoragePressure(ctx)
	}
	if storageErr != nil {
		s.logger.Warn("Storage health check failed during initialization", "error", storageErr)
	}

	if s.popularNeedsRefresh() {
		if err := s.refreshPopular(ctx, false); err != nil {
			s.logger.Warn("Initial popular recipe population failed", "error", err)
		}
	}

	s.mu.Lock()
	if s.state != StateLoading {
		s.mu.Unlock()
		return cacheerrors.NewError(cacheerrors.ErrCodeShutdownInProgress, "shutdown requested during initialization").
			WithComponent("cache").
			WithOperation("Initialize")
	}
	s.cancel, s.group = s.startBackground()
	s.state = StateReady
	popular := len(s.popular)
	s.mu.Unlock()

	s.logger.Info("Recipe cache ready",
		"popular", popular,
		"search_entries", s.searchLen(),
		"similar_entries", s.similarLen(),
		"duration", s.now().Sub(start))
	return nil
}

// startBackground launches the supervised background tasks. Called with s.mu held.
func (s *Service) startBackground() (context.CancelFunc, *errgroup.Group) {
	bgCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(bgCtx)

	g.Go(func() error {
		s.runPeriodic(gctx, "maintenance", s.profile.CleanupInterval, func(ctx context.Context) {
			s.RunMaintenance(ctx)
		})
		return nil
	})

	g.Go(func() error {
		s.runPeriodic(gctx, "storage_health", s.profile.HealthCheckInterval, func(ctx context.Context) {
			if err := s.CheckStorageHealth(ctx); err != nil {
				s.logger.Warn("Storage health check failed", "error", err)
			}
		})
		return nil
	})

	if s.profile.BackgroundPreload {
		g.Go(func() error {
			if err := s.PreloadPopularContent(gctx); err != nil && gctx.Err() == nil {
				s.logger.Warn("Background preload failed", "error", err)
			}
			return nil
		})
	}

	return cancel, g
}

// runPeriodic runs fn on every tick until ctx is done. A panicking pass is
// logged and the loop carries on with the next tick.
func (s *Service) runPeriodic(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.runStep(name, func() error {
				fn(ctx)
				return nil
			})
		}
	}
}

// Shutdown stops background work and persists state once. Errors during the
// final persist are logged, not returned. Safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateShuttingDown, StateClosed:
		s.mu.Unlock()
		return nil
	case StateUninitialized:
		s.state = StateClosed
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	cancel, group := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.mu.Unlock()

	s.logger.Info("Shutting down recipe cache")

	if cancel != nil {
		cancel()
	}
	if group != nil {
		done := make(chan struct{})
		go func() {
			_ = group.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("Background tasks did not stop before shutdown deadline")
		}
	}

	if err := s.persistAll(ctx); err != nil {
		s.logger.Error("Final persist failed", "error", err)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return nil
}

func (s *Service) searchLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.search.len()
}

func (s *Service) similarLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.similar.len()
}

func (s *Service) recordHealth(component string, err error) {
	if s.health == nil {
		return
	}
	if err != nil {
		s.health.RecordError(component, err)
		return
	}
	s.health.RecordSuccess(component)
}
