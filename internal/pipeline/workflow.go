package pipeline

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/anna-assistant/annad/internal/casestore"
	"github.com/anna-assistant/annad/internal/change"
	"github.com/anna-assistant/annad/internal/probe"
	"github.com/anna-assistant/annad/internal/specialist"
	"github.com/anna-assistant/annad/internal/team"
	"github.com/anna-assistant/annad/internal/translator"
	"github.com/anna-assistant/annad/internal/verifier"
)

// Workflow runs one Service Desk request end to end (§2's data-flow
// diagram): Translate -> Fast-path-or-Recipe-or-(Probe+Team+Specialist)
// -> Verify (retrying the Specialist up to verifier.MaxRetries on a low
// score) -> Case Store, mirroring the teacher's CortexAgentWorkflow phase
// structure (internal/temporal/workflow.go) with Translate/Resolve/Verify
// standing in for PLAN/EXECUTE/REVIEW.
func Workflow(ctx workflow.Context, req Request) (Outcome, error) {
	logger := workflow.GetLogger(ctx)
	var a *Activities

	opts := workflow.ActivityOptions{StartToCloseTimeout: 30 * time.Second}
	actCtx := workflow.WithActivityOptions(ctx, opts)

	var ticket translator.Ticket
	if err := workflow.ExecuteActivity(actCtx, a.TranslateActivity, req).Get(ctx, &ticket); err != nil {
		return Outcome{}, fmt.Errorf("pipeline: translate: %w", err)
	}

	if ticket.Clarification != "" {
		caseID := recordCase(ctx, a, req, ticket, resolved{}, verifier.Score{}, verifier.Explanation{}, string(casestore.StatusNeedsClarification), nil, 0)
		return Outcome{
			CaseID:     caseID,
			Ticket:     ticket,
			AnswerText: ticket.Clarification,
			Status:     string(casestore.StatusNeedsClarification),
		}, nil
	}

	var fp FastPathResult
	if err := workflow.ExecuteActivity(actCtx, a.FastPathActivity, req.UserRequest, req.Now).Get(ctx, &fp); err != nil {
		return Outcome{}, fmt.Errorf("pipeline: fast path: %w", err)
	}
	if fp.OK {
		score, explanation := verifier.VerifyDeterministic(ticket)
		res := resolved{source: sourceFastPath, answer: specialist.Answer{
			Text:       fp.Answer.Text,
			Citations:  fp.Answer.UsedKinds,
			Confidence: float64(fp.Answer.ReliabilityHint) / 100,
		}}
		success := score.Total >= verifier.RetryThreshold
		status := statusFor(success)
		caseID := recordCase(ctx, a, req, ticket, res, score, explanation, status, nil, 0)
		return Outcome{
			CaseID:       caseID,
			Ticket:       ticket,
			AnswerText:   fp.Answer.Text,
			Citations:    fp.Answer.UsedKinds,
			Score:        score,
			Explanation:  explanation,
			UsedFastPath: true,
			Attempts:     1,
			Status:       status,
		}, nil
	}

	var recipeMatch RecipeMatchResult
	if err := workflow.ExecuteActivity(actCtx, a.RecipeMatchActivity, ticket).Get(ctx, &recipeMatch); err != nil {
		return Outcome{}, fmt.Errorf("pipeline: recipe match: %w", err)
	}
	if recipeMatch.Found {
		score, explanation := verifier.VerifyDeterministic(ticket)
		success := score.Total >= verifier.RetryThreshold
		status := statusFor(success)

		var plan *change.Plan
		answerText := renderActionPlanSummary(recipeMatch.Recipe)
		if len(recipeMatch.Recipe.ActionPlan) > 0 {
			p := change.Plan{Steps: change.FromRecipeSteps(recipeMatch.Recipe.ActionPlan)}
			plan = &p
		}

		res := resolved{source: sourceRecipe, recipeID: recipeMatch.Recipe.ID, answer: specialist.Answer{Text: answerText}}
		caseID := recordCase(ctx, a, req, ticket, res, score, explanation, status, plan, 0)

		_ = workflow.ExecuteActivity(actCtx, a.FeedbackActivity, recipeMatch.Recipe.ID, success).Get(ctx, nil)

		return Outcome{
			CaseID:       caseID,
			Ticket:       ticket,
			AnswerText:   answerText,
			Score:        score,
			Explanation:  explanation,
			UsedRecipeID: recipeMatch.Recipe.ID,
			Attempts:     1,
			ProposedPlan: plan,
			Status:       status,
		}, nil
	}

	var probeResults []probe.Result
	if err := workflow.ExecuteActivity(actCtx, a.ProbeActivity, ticket.NeededProbeIDs, req.Now).Get(ctx, &probeResults); err != nil {
		return Outcome{}, fmt.Errorf("pipeline: probes: %w", err)
	}
	routedTeam := team.Route(ticket.Domain)
	relevant := filterRelevant(routedTeam, probeResults)

	var facts []string
	_ = workflow.ExecuteActivity(actCtx, a.KnowledgeSearchActivity, req.UserRequest).Get(ctx, &facts)

	brief := specialist.Brief{Ticket: ticket, Team: routedTeam, ProbeResults: relevant, Facts: facts}

	var answer specialist.Answer
	var score verifier.Score
	var explanation verifier.Explanation
	attempts := 0
	for attempts < verifier.MaxRetries {
		attempts++
		if err := workflow.ExecuteActivity(actCtx, a.SpecialistActivity, brief).Get(ctx, &answer); err != nil {
			return Outcome{}, fmt.Errorf("pipeline: specialist: %w", err)
		}
		score, explanation = verifier.Verify(ticket, relevant, answer, a.KnownCommands)
		if score.Total >= verifier.RetryThreshold {
			break
		}
		logger.Warn("pipeline: low-reliability answer, retrying", "attempt", attempts, "score", score.Total)
		brief.Facts = append(brief.Facts, explanationFacts(explanation)...)
	}

	success := score.Total >= verifier.RetryThreshold
	status := statusFor(success)
	res := resolved{source: sourceSpecialist, answer: answer}
	caseID := recordCase(ctx, a, req, ticket, res, score, explanation, status, nil, attempts)

	if success && recipeMatch.Recipe.ID == "" {
		var draftedID string
		_ = workflow.ExecuteActivity(actCtx, a.DraftCandidateActivity, ticket, ticket.RouteClass).Get(ctx, &draftedID)
	}

	return Outcome{
		CaseID:      caseID,
		Ticket:      ticket,
		AnswerText:  answer.Text,
		Citations:   answer.Citations,
		Score:       score,
		Explanation: explanation,
		Attempts:    attempts,
		Status:      status,
	}, nil
}

// statusFor maps a verifier pass/fail into a terminal case status (§3.7).
func statusFor(success bool) string {
	if success {
		return string(casestore.StatusCompleted)
	}
	return string(casestore.StatusLowReliability)
}

// explanationFacts turns an unmet-signal explanation into short feedback
// facts fed back into the next Specialist round (§4.I "retry ... with
// feedback").
func explanationFacts(e verifier.Explanation) []string {
	facts := make([]string, 0, len(e.UnmetSignals)+len(e.UncitedClaims))
	for _, sig := range e.UnmetSignals {
		facts = append(facts, fmt.Sprintf("previous attempt failed signal: %s", sig))
	}
	for _, claim := range e.UncitedClaims {
		facts = append(facts, fmt.Sprintf("previous attempt made an uncited claim: %s", claim))
	}
	return facts
}

// recordCase builds and persists the CaseFile for one resolved request,
// returning the assigned case ID (empty on a recording failure, which is
// logged but never fails the request itself per §4.K's append-only,
// best-effort posture).
func recordCase(ctx workflow.Context, a *Activities, req Request, ticket translator.Ticket, res resolved, score verifier.Score, explanation verifier.Explanation, status string, plan *change.Plan, attempts int) string {
	opts := workflow.ActivityOptions{StartToCloseTimeout: 10 * time.Second}
	actCtx := workflow.WithActivityOptions(ctx, opts)

	citations := make([]casestore.EvidenceCitation, 0, len(res.answer.Citations))
	for _, c := range res.answer.Citations {
		citations = append(citations, casestore.EvidenceCitation{Kind: string(c)})
	}

	cf := casestore.CaseFile{
		Version:           casestore.SchemaVersion,
		CreatedAt:         req.Now,
		Status:            casestore.Status(status),
		UserRequest:       req.UserRequest,
		Intent:            string(ticket.Intent),
		Domain:            ticket.Domain,
		Targets:           ticket.Targets,
		Confidence:        ticket.Confidence,
		EvidenceCitations: citations,
		VerifierScore:     score.Total,
		RecipeID:          res.recipeID,
		TimingMs:          map[string]int64{"specialist_attempts": int64(attempts)},
	}
	if plan != nil {
		cf.PlanID = plan.ID
	}
	for _, sig := range explanation.UnmetSignals {
		cf.VerifierRationale = append(cf.VerifierRationale, string(sig))
	}

	var caseID string
	if err := workflow.ExecuteActivity(actCtx, a.RecordCaseActivity, cf).Get(ctx, &caseID); err != nil {
		workflow.GetLogger(ctx).Error("pipeline: failed to record case", "error", err)
	}
	return caseID
}
