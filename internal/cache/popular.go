package cache

import (
	"context"
	"math"
	"sort"
	"strings"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

// strategicQueries are issued in order by a popular refresh.
var strategicQueries = []string{
	"chicken",
	"pasta",
	"salad",
	"soup",
	"dessert",
	"breakfast",
	"vegetarian",
	"seafood",
}

const (
	resultsPerQuery = 20
	trendingSize    = 10
	// recipes with a total time nearest this are preferred, in minutes
	targetTotalTime = 30
	// popular set size kept when a persist hits a full store
	reducedPopularSize = 20
)

// GetPopularRecipes returns up to count popular recipes. The set is refreshed
// only when it is empty or older than its TTL; a stale set is served when the
// refresh fails.
func (s *Service) GetPopularRecipes(ctx context.Context, count int) ([]types.Recipe, error) {
	start := s.now()

	s.mu.Lock()
	fresh := len(s.popular) > 0 && !s.popularStaleLocked()
	if fresh {
		s.recordHitLocked(cachePopular, start)
		out := headRecipes(s.popular, count)
		s.mu.Unlock()
		return out, nil
	}
	s.recordMissLocked(cachePopular, start)
	s.mu.Unlock()

	if err := s.refreshPopular(ctx, false); err != nil {
		s.mu.Lock()
		out := headRecipes(s.popular, count)
		s.mu.Unlock()
		if len(out) == 0 {
			return nil, err
		}
		s.logger.Warn("Serving stale popular recipes", "error", err, "count", len(out))
		return out, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return headRecipes(s.popular, count), nil
}

// ForceRefreshPopularRecipes refreshes the popular set regardless of age.
func (s *Service) ForceRefreshPopularRecipes(ctx context.Context) ([]types.Recipe, error) {
	if err := s.RefreshPopularRecipes(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecipes(s.popular), nil
}

// GetRecipesByCategory filters the popular set by category, case-insensitively.
func (s *Service) GetRecipesByCategory(ctx context.Context, category string, count int) ([]types.Recipe, error) {
	all, err := s.GetPopularRecipes(ctx, 0)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(strings.TrimSpace(category))
	if count < 0 {
		count = 0
	}
	out := make([]types.Recipe, 0, count)
	for _, r := range all {
		if strings.ToLower(r.Category) != want {
			continue
		}
		out = append(out, r)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

// GetTrendingRecipes returns up to count recipes from the trending list
// captured at the last refresh.
func (s *Service) GetTrendingRecipes(count int) []types.Recipe {
	s.mu.Lock()
	defer s.mu.Unlock()
	return headRecipes(s.trending, count)
}

func (s *Service) popularNeedsRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.popular) == 0 || s.popularStaleLocked()
}

func (s *Service) popularStaleLocked() bool {
	if s.popularFetched.IsZero() {
		return true
	}
	return s.profile.PopularTTL > 0 && s.now().Sub(s.popularFetched) > s.profile.PopularTTL
}

// RefreshPopularRecipes rebuilds the popular set from the strategic queries,
// issued one at a time and paced to stay under the per-minute budget. It
// fails fast when the rate limiter denies the first call. A failing query is
// skipped; the refresh only fails when no recipes came back at all.
func (s *Service) RefreshPopularRecipes(ctx context.Context) error {
	return s.refreshPopular(ctx, true)
}

// refreshPopular serializes refreshes. Without force, a caller that queued
// behind another refresh returns once the set it waited for is fresh.
func (s *Service) refreshPopular(ctx context.Context, force bool) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if !force && !s.popularNeedsRefresh() {
		return nil
	}

	if err := s.tracker.Check(); err != nil {
		s.metrics.RecordAPICall("denied")
		return err
	}

	start := s.now()
	s.logger.Info("Refreshing popular recipes", "queries", len(strategicQueries))

	seen := make(map[string]bool)
	byCategory := make(map[string][]types.Recipe, len(strategicQueries))
	total := 0

	for i, query := range strategicQueries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.refreshPacer.Wait(ctx); err != nil {
			return err
		}
		// Reserve after the pacer wait: other callers may have spent the
		// budget meanwhile.
		if err := s.TrackAPICall(ctx); err != nil {
			if i == 0 {
				return err
			}
			s.logger.Warn("Rate limit reached during popular refresh", "query", query, "error", err)
			break
		}

		result, err := s.source.SearchRecipes(ctx, query, types.SearchOptions{From: 0, To: resultsPerQuery})
		s.recordHealth(componentUpstream, err)
		if err != nil {
			s.metrics.RecordAPICall("error")
			s.logger.Warn("Popular recipe query failed", "query", query, "error", err)
			continue
		}
		s.metrics.RecordAPICall("success")

		for _, r := range result.Recipes {
			if !r.Valid() || seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			if r.Category == "" {
				r.Category = query
			}
			byCategory[query] = append(byCategory[query], r)
			total++
		}
	}

	if total == 0 {
		return cacheerrors.NewError(cacheerrors.ErrCodeNoResults, "popular refresh returned no recipes").
			WithComponent("cache").
			WithOperation("RefreshPopularRecipes")
	}

	s.mu.Lock()
	selected := selectBestRecipes(byCategory, strategicQueries, s.profile.PopularTarget)
	s.rng.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })
	s.popular = selected
	s.trending = headRecipes(selected, trendingSize)
	s.popularFetched = s.now()
	s.metrics.UpdateCacheEntries(cachePopular, len(s.popular))
	s.mu.Unlock()

	s.logger.Info("Popular recipes refreshed",
		"fetched", total,
		"selected", len(selected),
		"duration", s.now().Sub(start))

	if err := s.savePopular(ctx); err != nil {
		s.logger.Warn("Failed to persist popular recipes", "error", err)
	}
	return nil
}

// savePopular persists the popular set. On a full store the blob is removed
// and a reduced set is written instead.
func (s *Service) savePopular(ctx context.Context) error {
	err := s.persistPopular(ctx)
	if err == nil || !cacheerrors.IsStorageFull(err) {
		return err
	}

	s.metrics.RecordStorageFull(cachePopular)
	s.logger.Warn("Storage full while saving popular recipes, retrying with reduced set", "size", reducedPopularSize)
	s.discardBlob(ctx, KeyPopularRecipes)

	s.mu.Lock()
	reduced := headRecipes(s.popular, reducedPopularSize)
	s.mu.Unlock()

	if err := s.setJSON(ctx, KeyPopularRecipes, reduced); err != nil {
		s.logger.Warn("Reduced popular persist failed", "error", err)
	}
	return nil
}

// selectBestRecipes picks up to target recipes, giving each category an even
// share with the remainder going to the first categories. Within a category,
// recipes with an image and a total time closest to targetTotalTime win.
// Unused share is filled from the leftovers in category order.
func selectBestRecipes(byCategory map[string][]types.Recipe, order []string, target int) []types.Recipe {
	var categories []string
	for _, c := range order {
		if len(byCategory[c]) > 0 {
			categories = append(categories, c)
		}
	}
	if len(categories) == 0 || target <= 0 {
		return nil
	}

	share := target / len(categories)
	remainder := target % len(categories)

	selected := make([]types.Recipe, 0, target)
	var leftovers []types.Recipe
	for i, c := range categories {
		ranked := rankRecipes(byCategory[c])
		quota := share
		if i < remainder {
			quota++
		}
		if quota > len(ranked) {
			quota = len(ranked)
		}
		selected = append(selected, ranked[:quota]...)
		leftovers = append(leftovers, ranked[quota:]...)
	}

	for _, r := range leftovers {
		if len(selected) >= target {
			break
		}
		selected = append(selected, r)
	}
	return selected
}

// rankRecipes returns a copy ordered best first, stable for equal scores.
func rankRecipes(in []types.Recipe) []types.Recipe {
	out := cloneRecipes(in)
	score := func(r types.Recipe) float64 {
		distance := float64(math.MaxInt32)
		if r.TotalTime > 0 {
			distance = math.Abs(r.TotalTime - targetTotalTime)
		}
		if r.Image == "" {
			distance += math.MaxInt32
		}
		return distance
	}
	sort.SliceStable(out, func(i, j int) bool {
		return score(out[i]) < score(out[j])
	})
	return out
}

// headRecipes copies at most n recipes. n <= 0 copies all of them.
func headRecipes(in []types.Recipe, n int) []types.Recipe {
	if n <= 0 || n > len(in) {
		n = len(in)
	}
	out := make([]types.Recipe, n)
	copy(out, in[:n])
	return out
}
