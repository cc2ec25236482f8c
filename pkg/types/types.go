package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Recipe is an enriched recipe summary as served to screens.
type Recipe struct {
	ID              string   `json:"id"`
	URI             string   `json:"uri,omitempty"`
	Title           string   `json:"title"`
	Image           string   `json:"image"`
	URL             string   `json:"url,omitempty"`
	Source          string   `json:"source,omitempty"`
	Category        string   `json:"category,omitempty"`
	Calories        float64  `json:"calories,omitempty"`
	TotalTime       float64  `json:"total_time,omitempty"` // minutes
	Difficulty      string   `json:"difficulty,omitempty"`
	Servings        float64  `json:"servings,omitempty"`
	DietLabels      []string `json:"diet_labels,omitempty"`
	HealthLabels    []string `json:"health_labels,omitempty"`
	CuisineType     []string `json:"cuisine_type,omitempty"`
	IngredientLines []string `json:"ingredient_lines,omitempty"`
}

// Valid reports whether the recipe has the fields every cached recipe needs.
func (r Recipe) Valid() bool {
	return strings.TrimSpace(r.ID) != "" &&
		strings.TrimSpace(r.Title) != "" &&
		strings.TrimSpace(r.Image) != ""
}

// SearchOptions narrows a recipe search.
type SearchOptions struct {
	From        int    `json:"from,omitempty"`
	To          int    `json:"to,omitempty"`
	Diet        string `json:"diet,omitempty"`
	Health      string `json:"health,omitempty"`
	CuisineType string `json:"cuisine_type,omitempty"`
	MealType    string `json:"meal_type,omitempty"`
	DishType    string `json:"dish_type,omitempty"`
	// SkipCache asks the upstream client to bypass any cache of its own.
	SkipCache bool `json:"skip_cache,omitempty"`
}

// CanonicalJSON renders the options as JSON with sorted keys and zero values
// omitted. SkipCache is excluded because it does not change the result set.
func (o SearchOptions) CanonicalJSON() string {
	o.SkipCache = false
	raw, err := json.Marshal(o)
	if err != nil {
		return "{}"
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "{}"
	}
	sorted, err := json.Marshal(fields) // map keys marshal in sorted order
	if err != nil {
		return "{}"
	}
	return string(sorted)
}

// SearchResult is what the remote recipe source returns for a query.
type SearchResult struct {
	Recipes []Recipe `json:"recipes"`
	Total   int      `json:"total,omitempty"`
}

// Instructions holds cooking steps for a recipe URL.
type Instructions struct {
	Success  bool     `json:"success"`
	Steps    []string `json:"instructions"`
	Cached   bool     `json:"cached,omitempty"`
	Fallback bool     `json:"fallback,omitempty"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits                uint64        `json:"hits"`
	Misses              uint64        `json:"misses"`
	Evictions           uint64        `json:"evictions"`
	HitRate             float64       `json:"hit_rate"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	MemoryUsage         int64         `json:"memory_usage"`
	LastOptimization    time.Time     `json:"last_optimization"`
}

// Requests returns hits plus misses.
func (s CacheStats) Requests() uint64 {
	return s.Hits + s.Misses
}

// ComputeHitRate returns hits / (hits + misses), or 0 with no traffic.
func (s CacheStats) ComputeHitRate() float64 {
	total := s.Requests()
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// APIUsage is a snapshot of outbound API call accounting.
type APIUsage struct {
	CallsThisMinute int       `json:"calls_this_minute"`
	PerMinuteLimit  int       `json:"per_minute_limit"`
	CallsThisMonth  int       `json:"calls_this_month"`
	MonthlyLimit    int       `json:"monthly_limit"`
	LastCall        time.Time `json:"last_call"`
	CanCall         bool      `json:"can_call"`
}

// ProductionStats is the flattened health/metrics snapshot exposed to screens
// and the admin API.
type ProductionStats struct {
	State               string            `json:"state"`
	Environment         string            `json:"environment"`
	HitRate             float64           `json:"hit_rate"`
	Hits                uint64            `json:"hits"`
	Misses              uint64            `json:"misses"`
	Evictions           uint64            `json:"evictions"`
	AverageResponseTime time.Duration     `json:"average_response_time"`
	MemoryUsageBytes    int64             `json:"memory_usage_bytes"`
	MemoryUsage         string            `json:"memory_usage"`
	MemoryWarningBytes  int64             `json:"memory_warning_bytes"`
	PopularCount        int               `json:"popular_count"`
	SearchCacheSize     int               `json:"search_cache_size"`
	SimilarCacheSize    int               `json:"similar_cache_size"`
	InstructionsCached  int               `json:"instructions_cached"`
	LastPopularRefresh  time.Time         `json:"last_popular_refresh"`
	LastOptimization    time.Time         `json:"last_optimization"`
	StorageUsageRatio   float64           `json:"storage_usage_ratio"`
	PreloadInProgress   bool              `json:"preload_in_progress"`
	API                 APIUsage          `json:"api"`
	SystemHealth        string            `json:"system_health"`
	Components          map[string]string `json:"components,omitempty"`
}
