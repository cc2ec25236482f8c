package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recipeapp/recipecache/internal/config"
	"github.com/recipeapp/recipecache/internal/kvstore"
	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSource is an in-memory RecipeSource.
type fakeSource struct {
	mu sync.Mutex

	search       map[string][]types.Recipe
	searchErr    map[string]error
	similar      []types.Recipe
	similarErr   error
	instructions map[string]*types.Instructions
	// gate, when set, holds every search until it is closed
	gate chan struct{}

	searchCalls      []string
	similarCalls     int
	instructionCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		search:       make(map[string][]types.Recipe),
		searchErr:    make(map[string]error),
		instructions: make(map[string]*types.Instructions),
	}
}

func (f *fakeSource) SearchRecipes(_ context.Context, query string, _ types.SearchOptions) (*types.SearchResult, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls = append(f.searchCalls, query)
	if err := f.searchErr[query]; err != nil {
		return nil, err
	}
	recipes := cloneRecipes(f.search[query])
	return &types.SearchResult{Recipes: recipes, Total: len(recipes)}, nil
}

func (f *fakeSource) GetSimilarRecipes(_ context.Context, _ types.Recipe, count int) ([]types.Recipe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.similarCalls++
	if f.similarErr != nil {
		return nil, f.similarErr
	}
	return headRecipes(f.similar, count), nil
}

func (f *fakeSource) GetRecipeInstructions(_ context.Context, url string) (*types.Instructions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instructionCalls++
	if result, ok := f.instructions[url]; ok {
		copied := *result
		return &copied, nil
	}
	return &types.Instructions{Success: true, Steps: []string{"Follow the original recipe."}, Fallback: true}, nil
}

func (f *fakeSource) searchCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searchCalls)
}

// withStrategicResults gives every strategic query perQuery unique recipes.
func (f *fakeSource) withStrategicResults(perQuery int) *fakeSource {
	for _, q := range strategicQueries {
		f.search[q] = makeRecipes(q, perQuery)
	}
	return f
}

// rejectingStore fails Set with STORAGE_FULL whenever reject returns true.
type rejectingStore struct {
	types.KVStore

	mu     sync.Mutex
	reject func(key, value string) bool
}

func (r *rejectingStore) Set(ctx context.Context, key, value string) error {
	r.mu.Lock()
	reject := r.reject
	r.mu.Unlock()
	if reject != nil && reject(key, value) {
		return cacheerrors.StorageFull(key, nil)
	}
	return r.KVStore.Set(ctx, key, value)
}

func makeRecipes(prefix string, n int) []types.Recipe {
	out := make([]types.Recipe, n)
	for i := range out {
		out[i] = types.Recipe{
			ID:        fmt.Sprintf("%s-%d", prefix, i),
			Title:     fmt.Sprintf("%s recipe %d", prefix, i),
			Image:     fmt.Sprintf("https://img.example.com/%s/%d.jpg", prefix, i),
			URL:       fmt.Sprintf("https://recipes.example.com/%s/%d", prefix, i),
			TotalTime: float64(15 + i),
		}
	}
	return out
}

func testProfile() config.Profile {
	p := config.Resolve(config.EnvDevelopment)
	p.InterCallDelay = 0
	p.PreloadDelay = 0
	p.CleanupInterval = 0
	p.HealthCheckInterval = 0
	p.BackgroundPreload = false
	p.BackgroundRefresh = false
	p.CallsPerMinute = 1000
	return p
}

type harness struct {
	svc    *Service
	store  types.KVStore
	source *fakeSource
	clock  *testClock
}

func newHarness(t *testing.T, mutate func(*config.Profile)) *harness {
	t.Helper()
	return newHarnessWith(t, kvstore.NewMemoryStore(), newFakeSource(), newTestClock(), mutate)
}

func newHarnessWith(t *testing.T, store types.KVStore, source *fakeSource, clock *testClock, mutate func(*config.Profile)) *harness {
	t.Helper()
	p := testProfile()
	if mutate != nil {
		mutate(&p)
	}
	svc, err := NewService(Options{
		Profile: p,
		Store:   store,
		Source:  source,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:   clock.Now,
		Rand:    rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	return &harness{svc: svc, store: store, source: source, clock: clock}
}

// loadStored decodes the blob under key into v and reports whether it existed.
func (h *harness) loadStored(t *testing.T, key string, v interface{}) bool {
	t.Helper()
	raw, ok, err := h.store.Get(context.Background(), key)
	require.NoError(t, err)
	if !ok {
		return false
	}
	require.NoError(t, json.Unmarshal([]byte(raw), v))
	return true
}
