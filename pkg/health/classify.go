package health

// System health classifications reported by the cache.
const (
	SystemWarmingUp = "warming_up"
	SystemExcellent = "excellent"
	SystemGood      = "good"
	SystemFair      = "fair"
	SystemPoor      = "poor"
	SystemCritical  = "critical"
)

// MinClassifiedRequests is the lookup count below which the hit rate is too
// noisy to classify.
const MinClassifiedRequests = 10

// Classify maps a hit rate and the memory footprint relative to its warning
// threshold to a system health label. Memory at or above twice the warning
// threshold is critical regardless of hit rate; at or above the threshold the
// label is capped at fair.
func Classify(hitRate float64, requests uint64, memoryRatio float64) string {
	if memoryRatio >= 2 {
		return SystemCritical
	}
	if requests < MinClassifiedRequests {
		return SystemWarmingUp
	}

	var label string
	switch {
	case hitRate >= 0.8:
		label = SystemExcellent
	case hitRate >= 0.6:
		label = SystemGood
	case hitRate >= 0.4:
		label = SystemFair
	default:
		label = SystemPoor
	}

	if memoryRatio >= 1 && (label == SystemExcellent || label == SystemGood) {
		label = SystemFair
	}
	return label
}
