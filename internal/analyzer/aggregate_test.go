package analyzer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func scoredOutcome(name string, score int, suggestions ...string) *Outcome {
	out := newOutcome(name)
	out.Score = score
	out.Suggestions = suggestions
	return out
}

func TestAggregateWeightedScore(t *testing.T) {
	t.Parallel()

	result := aggregate([]*Outcome{
		scoredOutcome(ModuleSEO, 88),
		scoredOutcome(ModulePerformance, 82),
		scoredOutcome(ModuleSecurity, 90),
		scoredOutcome(ModuleAccessibility, 78),
		scoredOutcome(ModuleMobile, 92),
	}, nil)

	// round(88*0.25 + 82*0.20 + 90*0.20 + 78*0.15 + 92*0.20) = round(86.5)
	require.Equal(t, 87, result.OverallScore)
	require.Equal(t, "B", result.Grade)
	require.Equal(t, 88, result.PerModuleScores[ModuleSEO])
	require.Len(t, result.PerModuleScores, 5)
}

func TestAggregateTechnologyCarriesNoWeight(t *testing.T) {
	t.Parallel()

	result := aggregate([]*Outcome{
		scoredOutcome(ModuleSEO, 90),
		scoredOutcome(ModulePerformance, 90),
		scoredOutcome(ModuleSecurity, 90),
		scoredOutcome(ModuleAccessibility, 90),
		scoredOutcome(ModuleMobile, 90),
		scoredOutcome(ModuleTechnology, 0),
	}, nil)

	require.Equal(t, 90, result.OverallScore)
	require.Equal(t, "A", result.Grade)
	require.Contains(t, result.PerModuleScores, ModuleTechnology)
}

func TestAggregateRenormalizesMissingModules(t *testing.T) {
	t.Parallel()

	result := aggregate([]*Outcome{
		scoredOutcome(ModuleSEO, 80),
		scoredOutcome(ModuleSecurity, 60),
	}, map[string]string{
		ModulePerformance: "probe failed",
	})

	// (80*0.25 + 60*0.20) / 0.45 = 71.1...
	require.Equal(t, 71, result.OverallScore)
	require.Equal(t, "C", result.Grade)
	require.Equal(t, map[string]string{ModulePerformance: "probe failed"}, result.FailedModules)
}

func TestGradeBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		score int
		grade string
	}{
		{100, "A"}, {90, "A"},
		{89, "B"}, {80, "B"},
		{79, "C"}, {70, "C"},
		{69, "D"}, {60, "D"},
		{59, "F"}, {0, "F"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("%d", tc.score), func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.grade, gradeFor(tc.score))
		})
	}
}

func TestPrioritySuggestions(t *testing.T) {
	t.Parallel()

	pooled := []string{
		"Serve the site over HTTPS with a valid certificate (security)",
		"Pick a prettier font",
		"Reduce server response and render time to improve page load speed",
		"Serve the site over HTTPS with a valid certificate (security)", // duplicate
		"Add alt text to images to improve accessibility",
		"Write meta descriptions for pages missing them to improve SEO snippets",
		"Add a responsive viewport meta tag so pages render well on mobile",
		"Enable HSTS so browsers always use HTTPS (security)",
	}

	priority := prioritySuggestions(pooled)

	require.Len(t, priority, 5)
	require.NotContains(t, priority, "Pick a prettier font")
	// First-seen order preserved, duplicate collapsed.
	require.Equal(t, "Serve the site over HTTPS with a valid certificate (security)", priority[0])
	require.Equal(t, "Reduce server response and render time to improve page load speed", priority[1])
}

func TestAggregateDeterministic(t *testing.T) {
	t.Parallel()

	outcomes := []*Outcome{
		scoredOutcome(ModuleSEO, 88, "Improve SEO titles"),
		scoredOutcome(ModuleMobile, 92, "Add a mobile viewport"),
	}

	first := aggregate(outcomes, nil)
	second := aggregate(outcomes, nil)
	require.Equal(t, first, second)
}
