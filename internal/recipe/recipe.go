// Package recipe implements the Recipe Catalog & Index (spec §3.5, §4.C):
// a persistent set of deterministic action plans with an in-memory
// inverted token index for retrieval.
package recipe

import (
	"regexp"
	"sort"
	"strings"
)

// Maturity thresholds (§3.5 "Mature recipes (uses >= M, reliability >= R)").
const (
	MaturityMinUses        = 3
	MaturityMinReliability = 70.0
	DemotionThreshold       = 40.0
)

// Step mirrors change.Step's shape but recipe does not import internal/change
// to avoid a cycle; internal/change.FromRecipeSteps adapts these (§9 "Break
// the cycle by carrying only ids").
type Step struct {
	Description          string
	Command               string
	RollbackID            string
	Risk                   string
	RequiresConfirmation   bool
}

// Recipe is a reusable action plan plus metadata (§3.5).
type Recipe struct {
	ID               string
	QueryPattern     string
	Domain           string
	RouteClass       string
	Targets          []string
	IntentTags       []string
	ReliabilityScore float64
	Mature           bool
	Uses             int
	Successes        int
	Failures         int
	ActionPlan       []Step // optional; nil for knowledge-only recipes (§9(a))
}

// IsMature reports whether r currently satisfies the maturity gate.
func (r Recipe) IsMature() bool {
	return r.Uses >= MaturityMinUses && r.ReliabilityScore >= MaturityMinReliability
}

var tokenSplitter = regexp.MustCompile(`[^a-z0-9]+`)

// Tokenize lowercases text, splits on non-alphanumerics, and discards
// tokens shorter than 2 characters (§4.C).
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	parts := tokenSplitter.Split(lower, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) >= 2 {
			out = append(out, p)
		}
	}
	return out
}

func tokenSet(parts ...string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range parts {
		for _, tok := range Tokenize(p) {
			set[tok] = struct{}{}
		}
	}
	return set
}

func (r Recipe) targetTokens() map[string]struct{}     { return tokenSet(r.Targets...) }
func (r Recipe) intentTagTokens() map[string]struct{}  { return tokenSet(r.IntentTags...) }
func (r Recipe) miscTokens() map[string]struct{} {
	return tokenSet(r.QueryPattern, r.Domain, r.RouteClass)
}

func intersectCount(q []string, set map[string]struct{}) int {
	count := 0
	for _, tok := range q {
		if _, ok := set[tok]; ok {
			count++
		}
	}
	return count
}

// Score implements the §3.5 scoring formula.
func Score(r Recipe, queryTokens []string) int {
	targetHits := intersectCount(queryTokens, r.targetTokens())
	intentHits := intersectCount(queryTokens, r.intentTagTokens())
	miscHits := intersectCount(queryTokens, r.miscTokens())

	matureBonus := 0
	if r.IsMature() {
		matureBonus = 1
	}

	score := 3*targetHits + 2*intentHits + 1*miscHits + matureBonus + int(r.ReliabilityScore)/25
	return score
}

// MatchedTokens returns the distinct query tokens that matched any of a
// recipe's target/intent-tag/misc token sets, for result transparency.
func MatchedTokens(r Recipe, queryTokens []string) []string {
	all := tokenSet()
	for k := range r.targetTokens() {
		all[k] = struct{}{}
	}
	for k := range r.intentTagTokens() {
		all[k] = struct{}{}
	}
	for k := range r.miscTokens() {
		all[k] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, tok := range queryTokens {
		if _, ok := all[tok]; ok {
			if _, dup := seen[tok]; !dup {
				out = append(out, tok)
				seen[tok] = struct{}{}
			}
		}
	}
	return out
}

// Match is one scored search result (§4.C "search(text, limit)").
type Match struct {
	RecipeID      string
	Score         int
	MatchedTokens []string
}

// IsExactMatch reports whether every query token is covered by the union of
// a recipe's target and intent-tag tokens (§3.5 "An exact match occurs
// when all query tokens appear in tok(targets) ∪ tok(intent_tags)").
func IsExactMatch(r Recipe, queryTokens []string) bool {
	if len(queryTokens) == 0 {
		return false
	}
	union := r.targetTokens()
	for k := range r.intentTagTokens() {
		union[k] = struct{}{}
	}
	for _, tok := range queryTokens {
		if _, ok := union[tok]; !ok {
			return false
		}
	}
	return true
}

// Index is the in-memory inverted token index mirrored alongside the
// on-disk Catalog (§4.C). It is rebuilt on add/remove/update and is
// otherwise read-only (§3.8).
type Index struct {
	// tok -> ordered (by insertion) set of recipe IDs. A slice keeps
	// iteration deterministic without needing a separate ordered-set type.
	postings map[string][]string
	recipes  map[string]Recipe
}

// NewIndex builds an Index from an initial set of recipes.
func NewIndex(recipes []Recipe) *Index {
	idx := &Index{postings: make(map[string][]string), recipes: make(map[string]Recipe)}
	for _, r := range recipes {
		idx.Put(r)
	}
	return idx
}

// Put inserts or replaces a recipe's index entries (§4.C "add/remove/update
// ... rebuild the affected index entries").
func (idx *Index) Put(r Recipe) {
	idx.Remove(r.ID)
	idx.recipes[r.ID] = r

	tokens := tokenSet(r.Targets...)
	for k := range tokenSet(r.IntentTags...) {
		tokens[k] = struct{}{}
	}
	for k := range tokenSet(r.QueryPattern, r.Domain, r.RouteClass) {
		tokens[k] = struct{}{}
	}
	for tok := range tokens {
		idx.postings[tok] = appendOrdered(idx.postings[tok], r.ID)
	}
}

func appendOrdered(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// Remove deletes a recipe from the index and catalog.
func (idx *Index) Remove(id string) {
	if _, ok := idx.recipes[id]; !ok {
		return
	}
	delete(idx.recipes, id)
	for tok, ids := range idx.postings {
		filtered := ids[:0]
		for _, existing := range ids {
			if existing != id {
				filtered = append(filtered, existing)
			}
		}
		if len(filtered) == 0 {
			delete(idx.postings, tok)
		} else {
			idx.postings[tok] = filtered
		}
	}
}

// Get returns a recipe by ID.
func (idx *Index) Get(id string) (Recipe, bool) {
	r, ok := idx.recipes[id]
	return r, ok
}

// All returns every recipe currently indexed, in deterministic ID order.
func (idx *Index) All() []Recipe {
	out := make([]Recipe, 0, len(idx.recipes))
	for _, r := range idx.recipes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Search returns recipes matching text, sorted by (score desc, recipe_id
// asc), truncated to limit (§4.C). It is a pure function of
// (index contents, text, limit) — invariant 4 in §8.
func (idx *Index) Search(text string, limit int) []Match {
	queryTokens := Tokenize(text)
	candidateIDs := make(map[string]struct{})
	for _, tok := range queryTokens {
		for _, id := range idx.postings[tok] {
			candidateIDs[id] = struct{}{}
		}
	}

	matches := make([]Match, 0, len(candidateIDs))
	for id := range candidateIDs {
		r := idx.recipes[id]
		matches = append(matches, Match{
			RecipeID:      id,
			Score:         Score(r, queryTokens),
			MatchedTokens: MatchedTokens(r, queryTokens),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].RecipeID < matches[j].RecipeID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// ExactMatch returns at most one recipe whose target/intent-tag tokens are
// a superset of the query tokens (§4.C). Ties break on smaller recipe_id.
func (idx *Index) ExactMatch(text string) (Recipe, bool) {
	queryTokens := Tokenize(text)
	var best Recipe
	found := false
	for _, r := range idx.All() {
		if IsExactMatch(r, queryTokens) {
			if !found || r.ID < best.ID {
				best = r
				found = true
			}
		}
	}
	return best, found
}
