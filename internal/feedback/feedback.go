// Package feedback implements the Recipe Feedback Loop (spec §4.L): on
// case completion, recipe reliability scores are nudged by a bounded
// moving average and candidate recipes are drafted from successful
// recipe-free resolutions that fit a known template family.
package feedback

import (
	"github.com/google/uuid"

	"github.com/anna-assistant/annad/internal/recipe"
)

// Alpha is the moving-average learning rate (§4.L "small α").
const Alpha = 0.2

// clamp bounds v to [0, 100] (§4.L "clamp(..., 0, 100)").
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// updateReliability applies the bounded moving average
// r' = clamp(r + α·(100·success - r), 0, 100) (§4.L).
func updateReliability(r float64, success bool) float64 {
	target := 0.0
	if success {
		target = 100.0
	}
	return clamp(r + Alpha*(target-r))
}

// OnCaseCompletion applies §4.L's recipe update rule to r for one case
// outcome and returns the updated Recipe. success reflects whether the
// case that used this recipe succeeded.
func OnCaseCompletion(r recipe.Recipe, success bool) recipe.Recipe {
	r.Uses++
	if success {
		r.Successes++
	} else {
		r.Failures++
	}

	r.ReliabilityScore = updateReliability(r.ReliabilityScore, success)

	if r.ReliabilityScore < recipe.DemotionThreshold {
		r.Mature = false
	} else {
		r.Mature = r.IsMature()
	}

	return r
}

// TemplateFamily names a fixed recipe-free resolution shape eligible for
// drafting a new candidate recipe (§4.L "deterministic template family").
type TemplateFamily struct {
	Domain     string
	RouteClass string
}

// knownTemplateFamilies is the closed set of (domain, route_class)
// combinations the Feedback Loop recognizes as draftable.
var knownTemplateFamilies = map[TemplateFamily]bool{
	{Domain: "storage", RouteClass: "diagnostics"}:  true,
	{Domain: "network", RouteClass: "diagnostics"}:  true,
	{Domain: "services", RouteClass: "remediation"}: true,
	{Domain: "packages", RouteClass: "remediation"}: true,
}

// MatchesTemplateFamily reports whether (domain, routeClass) is a
// recognized draftable template family.
func MatchesTemplateFamily(domain, routeClass string) bool {
	return knownTemplateFamilies[TemplateFamily{Domain: domain, RouteClass: routeClass}]
}

// DraftCandidate builds a new, immature recipe from a successful
// recipe-free resolution that matched a known template family (§4.L
// "draft a candidate recipe into the catalog with mature = false and
// uses = 1").
func DraftCandidate(queryPattern, domain, routeClass string, targets, intentTags []string) recipe.Recipe {
	return recipe.Recipe{
		ID:               "draft-" + uuid.NewString(),
		QueryPattern:     queryPattern,
		Domain:           domain,
		RouteClass:       routeClass,
		Targets:          targets,
		IntentTags:       intentTags,
		ReliabilityScore: 50,
		Mature:           false,
		Uses:             1,
		Successes:        1,
	}
}
