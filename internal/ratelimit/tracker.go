package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

// Storage keys for persisted API usage.
const (
	KeyAPICallCount = "@recipe_cache:api_call_count_v2"
	KeyLastAPICall  = "@recipe_cache:last_api_call_v2"
	KeyMonthlyUsage = "@recipe_cache:monthly_usage_v2"
)

// Window is the span after the last call once which the per-minute counter
// resets.
const Window = 60 * time.Second

// TrackerConfig represents the outbound call budget
type TrackerConfig struct {
	CallsPerMinute   int
	MonthlyCallLimit int
}

// Tracker counts outbound recipe API calls per minute and per calendar month.
type Tracker struct {
	mu     sync.Mutex
	config TrackerConfig
	store  types.KVStore
	now    func() time.Time
	logger *slog.Logger

	callsThisMinute int
	lastCall        time.Time
	month           string
	callsThisMonth  int
}

type monthlyUsage struct {
	Month string `json:"month"`
	Calls int    `json:"calls"`
}

// NewTracker creates a tracker persisting into store. now may be nil.
func NewTracker(cfg TrackerConfig, store types.KVStore, now func() time.Time, logger *slog.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		config: cfg,
		store:  store,
		now:    now,
		logger: logger.With("component", "ratelimit"),
	}
}

// Load restores persisted usage. Unreadable values are ignored.
func (t *Tracker) Load(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if raw, ok, err := t.store.Get(ctx, KeyAPICallCount); err == nil && ok {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			t.callsThisMinute = n
		}
	}
	if raw, ok, err := t.store.Get(ctx, KeyLastAPICall); err == nil && ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			t.lastCall = time.UnixMilli(ms)
		}
	}
	if raw, ok, err := t.store.Get(ctx, KeyMonthlyUsage); err == nil && ok {
		var usage monthlyUsage
		if err := json.Unmarshal([]byte(raw), &usage); err == nil {
			t.month = usage.Month
			t.callsThisMonth = usage.Calls
		}
	}

	t.rollLocked(t.now())
}

// rollLocked resets counters whose window has passed.
func (t *Tracker) rollLocked(now time.Time) {
	if !t.lastCall.IsZero() && now.Sub(t.lastCall) > Window {
		t.callsThisMinute = 0
	}
	if month := now.Format("2006-01"); month != t.month {
		t.month = month
		t.callsThisMonth = 0
	}
}

// CanMakeCall reports whether another call fits in the current budget.
func (t *Tracker) CanMakeCall() bool {
	return t.Check() == nil
}

// Check returns a RATE_LIMITED or MONTHLY_QUOTA_EXCEEDED error when the next
// call would exceed a budget. It reserves nothing; use Reserve before making
// the call.
func (t *Tracker) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.rollLocked(now)
	return t.checkLocked(now)
}

func (t *Tracker) checkLocked(now time.Time) error {
	if t.config.MonthlyCallLimit > 0 && t.callsThisMonth >= t.config.MonthlyCallLimit {
		return cacheerrors.NewError(cacheerrors.ErrCodeMonthlyQuotaExceeded, "monthly API call limit reached").
			WithComponent("ratelimit").
			WithDetail("calls_this_month", t.callsThisMonth).
			WithDetail("monthly_limit", t.config.MonthlyCallLimit)
	}

	if t.config.CallsPerMinute > 0 && t.callsThisMinute >= t.config.CallsPerMinute {
		return cacheerrors.RateLimited(Window - now.Sub(t.lastCall)).
			WithComponent("ratelimit").
			WithDetail("calls_this_minute", t.callsThisMinute)
	}

	return nil
}

// Reserve checks the budgets and counts one outbound call in the same
// critical section, so concurrent callers can never push the counters past
// a limit. A denied call is not counted and the budget error is returned.
// Counters are persisted after the reservation; a persistence failure is
// logged and the call stays counted.
func (t *Tracker) Reserve(ctx context.Context) error {
	t.mu.Lock()
	now := t.now()
	t.rollLocked(now)
	if err := t.checkLocked(now); err != nil {
		t.mu.Unlock()
		return err
	}
	t.callsThisMinute++
	t.callsThisMonth++
	t.lastCall = now

	count := strconv.Itoa(t.callsThisMinute)
	last := strconv.FormatInt(now.UnixMilli(), 10)
	monthly, _ := json.Marshal(monthlyUsage{Month: t.month, Calls: t.callsThisMonth})
	t.mu.Unlock()

	for _, kv := range [][2]string{
		{KeyAPICallCount, count},
		{KeyLastAPICall, last},
		{KeyMonthlyUsage, string(monthly)},
	} {
		if err := t.store.Set(ctx, kv[0], kv[1]); err != nil {
			t.logger.Warn("Failed to persist API usage", "key", kv[0], "error", err)
			break
		}
	}
	return nil
}

// Usage returns a snapshot of the counters.
func (t *Tracker) Usage() types.APIUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollLocked(t.now())
	return types.APIUsage{
		CallsThisMinute: t.callsThisMinute,
		PerMinuteLimit:  t.config.CallsPerMinute,
		CallsThisMonth:  t.callsThisMonth,
		MonthlyLimit:    t.config.MonthlyCallLimit,
		LastCall:        t.lastCall,
		CanCall: (t.config.CallsPerMinute <= 0 || t.callsThisMinute < t.config.CallsPerMinute) &&
			(t.config.MonthlyCallLimit <= 0 || t.callsThisMonth < t.config.MonthlyCallLimit),
	}
}
