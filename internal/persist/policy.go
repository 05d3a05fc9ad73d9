package persist

// Policy holds the anomaly-detection thresholds.
//
// The defaults are heuristic constants carried over from production
// incident review, not derived mathematics. They are configuration,
// not load-bearing math: deployments with very small or very large
// graphs should tune them rather than trust the defaults.
type Policy struct {
	// MinNodes is the set size both the stored and incoming node sets
	// must exceed before a low-overlap write is flagged.
	MinNodes int `yaml:"min_nodes"`

	// LowOverlap flags a write when the overlap ratio falls below it
	// (with both sets larger than MinNodes).
	LowOverlap float64 `yaml:"low_overlap"`

	// RenameOverlap flags a write that changes the display name while
	// the overlap ratio falls below it.
	RenameOverlap float64 `yaml:"rename_overlap"`

	// RenameMinNodes is the per-set size floor for the rename rule.
	RenameMinNodes int `yaml:"rename_min_nodes"`
}

// DefaultPolicy returns the default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MinNodes:       5,
		LowOverlap:     0.10,
		RenameOverlap:  0.50,
		RenameMinNodes: 3,
	}
}

// overlapRatio computes |intersection| / max(|current|, |incoming|).
// Two empty sets overlap perfectly by definition.
func overlapRatio(current, incoming []string) float64 {
	if len(current) == 0 && len(incoming) == 0 {
		return 1.0
	}
	set := make(map[string]bool, len(current))
	for _, id := range current {
		set[id] = true
	}
	intersection := 0
	seen := make(map[string]bool, len(incoming))
	for _, id := range incoming {
		if set[id] && !seen[id] {
			intersection++
			seen[id] = true
		}
	}
	denom := len(current)
	if len(incoming) > denom {
		denom = len(incoming)
	}
	return float64(intersection) / float64(denom)
}

// suspicious evaluates the anomaly rules against one write.
func (p Policy) suspicious(current, incoming []string, renaming bool) (bool, float64) {
	ratio := overlapRatio(current, incoming)

	if len(current) > p.MinNodes && len(incoming) > p.MinNodes && ratio < p.LowOverlap {
		return true, ratio
	}
	if renaming && ratio < p.RenameOverlap &&
		len(current) > p.RenameMinNodes && len(incoming) > p.RenameMinNodes {
		return true, ratio
	}
	return false, ratio
}
