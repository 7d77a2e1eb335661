package analyzer

import (
	"math"
	"strings"
)

// moduleWeights defines each module's share of the overall score. The
// technology module is informational and carries no weight.
var moduleWeights = map[string]float64{
	ModuleSEO:           0.25,
	ModulePerformance:   0.20,
	ModuleSecurity:      0.20,
	ModuleAccessibility: 0.15,
	ModuleMobile:        0.20,
}

// priorityKeywords select which pooled suggestions surface at the top of a
// report. Matching is case-insensitive substring containment.
var priorityKeywords = []string{
	"security",
	"https",
	"performance",
	"load",
	"speed",
	"seo",
	"accessib",
	"mobile",
}

const maxPrioritySuggestions = 5

// AggregateResult is the single graded report derived from all module
// outcomes. Immutable once computed.
type AggregateResult struct {
	OverallScore        int               `json:"overallScore"`
	Grade               string            `json:"grade"`
	PerModuleScores     map[string]int    `json:"perModuleScores"`
	PrioritySuggestions []string          `json:"prioritySuggestions"`
	Modules             []Outcome         `json:"modules"`
	FailedModules       map[string]string `json:"failedModules,omitempty"`
}

// aggregate folds successful outcomes into the weighted overall score.
// When a weighted module is missing (failed or skipped), the remaining
// weights are renormalized so the score stays on the 0-100 scale.
func aggregate(outcomes []*Outcome, failed map[string]string) *AggregateResult {
	perModule := make(map[string]int, len(outcomes))
	modules := make([]Outcome, 0, len(outcomes))
	pooled := make([]string, 0)

	var weightedSum, weightTotal float64
	for _, out := range outcomes {
		perModule[out.ModuleName] = out.Score
		modules = append(modules, *out)
		pooled = append(pooled, out.Suggestions...)

		if w, ok := moduleWeights[out.ModuleName]; ok {
			weightedSum += float64(out.Score) * w
			weightTotal += w
		}
	}

	overall := 0
	if weightTotal > 0 {
		overall = int(math.Round(weightedSum / weightTotal))
	}

	result := &AggregateResult{
		OverallScore:        overall,
		Grade:               gradeFor(overall),
		PerModuleScores:     perModule,
		PrioritySuggestions: prioritySuggestions(pooled),
		Modules:             modules,
	}
	if len(failed) > 0 {
		result.FailedModules = failed
	}
	return result
}

// gradeFor maps a 0-100 score to a letter grade.
func gradeFor(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// prioritySuggestions keeps pooled suggestions matching the priority keyword
// set, deduplicated in first-seen order, capped at maxPrioritySuggestions.
func prioritySuggestions(pooled []string) []string {
	seen := make(map[string]bool)
	priority := make([]string, 0, maxPrioritySuggestions)

	for _, s := range pooled {
		if len(priority) == maxPrioritySuggestions {
			break
		}
		if seen[s] || !matchesPriority(s) {
			continue
		}
		seen[s] = true
		priority = append(priority, s)
	}
	return priority
}

func matchesPriority(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range priorityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
