package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anna-assistant/annad/internal/casestore"
	"github.com/anna-assistant/annad/internal/evidence"
	"github.com/anna-assistant/annad/internal/fastpath"
	"github.com/anna-assistant/annad/internal/feedback"
	"github.com/anna-assistant/annad/internal/knowledge"
	"github.com/anna-assistant/annad/internal/probe"
	"github.com/anna-assistant/annad/internal/recipe"
	"github.com/anna-assistant/annad/internal/specialist"
	"github.com/anna-assistant/annad/internal/team"
	"github.com/anna-assistant/annad/internal/translator"
)

// Activities holds every collaborator the Service Desk workflow touches,
// mirroring the teacher's Activities-struct-of-dependencies shape
// (internal/change/activities.go, itself grounded on
// internal/temporal/activities.go).
type Activities struct {
	Translator    *translator.Translator
	EvidenceStore *evidence.Store
	ProbeRegistry *probe.Registry
	Knowledge     *knowledge.Store
	Specialist    *specialist.Runner
	CaseStore     *casestore.Store
	KnownCommands []string
	Recipes       *recipe.Catalog
}

// TranslateActivity runs the Translator (§3.3, §4.F).
func (a *Activities) TranslateActivity(ctx context.Context, req Request) (translator.Ticket, error) {
	return a.Translator.Translate(ctx, req.UserRequest, req.RuntimeContext)
}

// FastPathResult bundles fastpath.Evaluate's (Answer, bool) pair into one
// value, since a Temporal activity method returns at most one value plus
// an error.
type FastPathResult struct {
	Answer fastpath.Answer
	OK     bool
}

// FastPathActivity classifies the raw request text and, if it matches a
// fast-path class, renders an answer straight from the Evidence Store
// (§4.E).
func (a *Activities) FastPathActivity(ctx context.Context, userRequest string, now time.Time) (FastPathResult, error) {
	class := fastpath.Classify(userRequest)
	answer, ok := fastpath.Evaluate(class, a.EvidenceStore, now)
	return FastPathResult{Answer: answer, OK: ok}, nil
}

// RecipeMatchResult bundles a recipe index lookup's outcome.
type RecipeMatchResult struct {
	Recipe recipe.Recipe
	Found  bool
}

// RecipeMatchActivity looks up an exact, mature recipe match for the
// ticket's user request text, which hit C in §2's data-flow
// diagram short-circuits straight to an answer.
func (a *Activities) RecipeMatchActivity(ctx context.Context, ticket translator.Ticket) (RecipeMatchResult, error) {
	r, ok := a.Recipes.Index().ExactMatch(ticket.UserRequest)
	if !ok || !r.IsMature() {
		return RecipeMatchResult{}, nil
	}
	return RecipeMatchResult{Recipe: r, Found: true}, nil
}

// ProbeActivity runs the ticket's needed probes with the freshness-ceiling
// fallback (§4.B).
func (a *Activities) ProbeActivity(ctx context.Context, ids []string, now time.Time) ([]probe.Result, error) {
	return a.ProbeRegistry.RunMany(ctx, ids, a.EvidenceStore, now), nil
}

// filterRelevant keeps only the probe results a team's evidence filter
// admits (§3.4, §4.G).
func filterRelevant(t team.Name, results []probe.Result) []probe.Result {
	out := make([]probe.Result, 0, len(results))
	for _, r := range results {
		if team.Relevant(t, r.Kind) {
			out = append(out, r)
		}
	}
	return out
}

// KnowledgeSearchActivity pulls any docs related to the ticket's request
// text into Brief.Facts (§4.D feeds §4.H's Ticket Brief).
func (a *Activities) KnowledgeSearchActivity(ctx context.Context, queryText string) ([]string, error) {
	if a.Knowledge == nil {
		return nil, nil
	}
	matches := a.Knowledge.Search(queryText, 3, nil)
	facts := make([]string, 0, len(matches))
	for _, m := range matches {
		if d, ok := a.Knowledge.Get(m.DocID); ok {
			facts = append(facts, fmt.Sprintf("%s: %s", d.Title, d.Body))
		}
	}
	return facts, nil
}

// SpecialistActivity runs one Junior/Senior pass over brief (§4.H).
func (a *Activities) SpecialistActivity(ctx context.Context, brief specialist.Brief) (specialist.Answer, error) {
	return a.Specialist.Run(ctx, brief)
}

// RecordCaseActivity persists the completed case (§3.7, §4.K).
func (a *Activities) RecordCaseActivity(ctx context.Context, cf casestore.CaseFile) (string, error) {
	caseID, err := a.CaseStore.NextCaseID(cf.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("pipeline: assign case id: %w", err)
	}
	cf.CaseID = caseID
	if err := a.CaseStore.SaveCase(cf); err != nil {
		return "", fmt.Errorf("pipeline: save case: %w", err)
	}
	return caseID, nil
}

// FeedbackActivity applies the Recipe Feedback Loop's reliability update
// to recipeID after a case that used it completes (§4.L).
func (a *Activities) FeedbackActivity(ctx context.Context, recipeID string, success bool) error {
	if recipeID == "" {
		return nil
	}
	r, ok := a.Recipes.Index().Get(recipeID)
	if !ok {
		return nil
	}
	return a.Recipes.Update(feedback.OnCaseCompletion(r, success))
}

// DraftCandidateActivity drafts and persists a new recipe from a
// successful recipe-free resolution that fits a known template family
// (§4.L "candidate recipes are drafted from successful resolutions").
func (a *Activities) DraftCandidateActivity(ctx context.Context, ticket translator.Ticket, routeClass string) (string, error) {
	if !feedback.MatchesTemplateFamily(ticket.Domain, routeClass) {
		return "", nil
	}
	candidate := feedback.DraftCandidate(ticket.UserRequest, ticket.Domain, routeClass, ticket.Targets, []string{string(ticket.Intent)})
	if err := a.Recipes.Add(candidate); err != nil {
		return "", fmt.Errorf("pipeline: draft candidate: %w", err)
	}
	return candidate.ID, nil
}

// buildEvidenceCitations renders probe results into casestore citations.
func buildEvidenceCitations(results []probe.Result) []casestore.EvidenceCitation {
	out := make([]casestore.EvidenceCitation, 0, len(results))
	for _, r := range results {
		if r.Failed {
			continue
		}
		out = append(out, casestore.EvidenceCitation{Kind: string(r.Kind), ID: r.ProbeID})
	}
	return out
}

// renderActionPlanSummary turns a recipe's action plan into a short,
// human-readable answer when a mature recipe hit skips the Specialist
// entirely.
func renderActionPlanSummary(r recipe.Recipe) string {
	if len(r.ActionPlan) == 0 {
		return fmt.Sprintf("Matched recipe %q; no stored action plan to run.", r.ID)
	}
	steps := make([]string, 0, len(r.ActionPlan))
	for i, s := range r.ActionPlan {
		steps = append(steps, fmt.Sprintf("%d. %s", i+1, s.Description))
	}
	return fmt.Sprintf("Matched recipe %q. Proposed steps:\n%s", r.ID, strings.Join(steps, "\n"))
}
