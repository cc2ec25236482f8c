package health

import (
	"fmt"
	"testing"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
	"github.com/recipeapp/recipecache/pkg/types"
)

var _ types.HealthRecorder = (*Tracker)(nil)

func TestTracker_RegisterComponent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())

	tracker.RegisterComponent("storage")

	if state := tracker.GetState("storage"); state != StateHealthy {
		t.Errorf("Expected initial state to be healthy, got %s", state)
	}
	if state := tracker.GetState("unknown"); state != StateUnavailable {
		t.Errorf("Expected unregistered component to be unavailable, got %s", state)
	}
}

func TestTracker_RecordErrorDegradation(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 3
	config.UnavailableThreshold = 5
	tracker := NewTracker(config)

	for i := 0; i < 2; i++ {
		tracker.RecordError("upstream", fmt.Errorf("error %d", i))
	}
	if state := tracker.GetState("upstream"); state != StateHealthy {
		t.Errorf("Expected healthy before threshold, got %s", state)
	}

	tracker.RecordError("upstream", fmt.Errorf("error 3"))
	if state := tracker.GetState("upstream"); state != StateDegraded {
		t.Errorf("Expected degraded at threshold, got %s", state)
	}

	tracker.RecordError("upstream", fmt.Errorf("error 4"))
	tracker.RecordError("upstream", fmt.Errorf("error 5"))
	if state := tracker.GetState("upstream"); state != StateUnavailable {
		t.Errorf("Expected unavailable, got %s", state)
	}
}

func TestTracker_StorageFullIsReadOnly(t *testing.T) {
	tracker := NewTracker(DefaultConfig())

	tracker.RecordError("storage", cacheerrors.StorageFull("@recipe_cache:search_cache_v2", nil))

	if state := tracker.GetState("storage"); state != StateReadOnly {
		t.Errorf("Expected read-only after storage full, got %s", state)
	}
	if tracker.CanWrite("storage") {
		t.Error("CanWrite should be false while read-only")
	}
}

func TestTracker_RecordSuccessRecovers(t *testing.T) {
	config := DefaultConfig()
	config.ErrorThreshold = 1
	tracker := NewTracker(config)

	var changes []string
	tracker.AddStateChangeCallback(func(component string, oldState, newState HealthState, err error) {
		changes = append(changes, fmt.Sprintf("%s:%s->%s", component, oldState, newState))
	})

	tracker.RecordError("upstream", fmt.Errorf("503"))
	tracker.RecordSuccess("upstream")

	if !tracker.IsHealthy("upstream") {
		t.Errorf("Expected healthy after success, got %s", tracker.GetState("upstream"))
	}
	want := []string{"upstream:healthy->degraded", "upstream:degraded->healthy"}
	if fmt.Sprint(changes) != fmt.Sprint(want) {
		t.Errorf("changes = %v, want %v", changes, want)
	}

	components := tracker.GetAllComponents()
	if len(components) != 1 || components[0].ConsecutiveErrors != 0 {
		t.Errorf("unexpected components %+v", components)
	}
}

func TestTracker_OverallHealthAndStates(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent("upstream")
	tracker.RecordError("storage", cacheerrors.StorageFull("k", nil))

	if got := tracker.GetOverallHealth(); got != StateReadOnly {
		t.Errorf("overall = %s, want read-only", got)
	}

	states := tracker.ComponentStates()
	if states["storage"] != "read-only" || states["upstream"] != "healthy" {
		t.Errorf("ComponentStates() = %v", states)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		hitRate     float64
		requests    uint64
		memoryRatio float64
		want        string
	}{
		{"too few requests", 1.0, 3, 0.1, SystemWarmingUp},
		{"excellent", 0.85, 100, 0.2, SystemExcellent},
		{"good", 0.65, 100, 0.2, SystemGood},
		{"fair", 0.45, 100, 0.2, SystemFair},
		{"poor", 0.1, 100, 0.2, SystemPoor},
		{"memory over warning caps at fair", 0.9, 100, 1.2, SystemFair},
		{"memory far over warning", 0.9, 100, 2.5, SystemCritical},
		{"critical even while warming up", 0, 0, 3, SystemCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.hitRate, tt.requests, tt.memoryRatio); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
