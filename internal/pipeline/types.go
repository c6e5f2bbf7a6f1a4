// Package pipeline ties the Service Desk components together: Translator
// -> Fast-path/Recipe/Evidence -> Team -> Specialist -> Verifier -> Case
// Store (spec §2's request data flow), run as a Temporal workflow so
// in-flight requests survive a daemon restart, mirroring the teacher's
// CortexAgentWorkflow phase structure (internal/temporal/workflow.go).
package pipeline

import (
	"time"

	"github.com/anna-assistant/annad/internal/change"
	"github.com/anna-assistant/annad/internal/evidence"
	"github.com/anna-assistant/annad/internal/specialist"
	"github.com/anna-assistant/annad/internal/translator"
	"github.com/anna-assistant/annad/internal/verifier"
)

// Request is the workflow's input: one user request arriving over RPC.
type Request struct {
	UserRequest     string
	RuntimeContext  string
	ConfirmationFor string // echoed confirmation phrase, if any (§4.F Assisted gate)
	Now             time.Time
}

// Outcome is the workflow's result: what the Service Desk decided plus
// everything recorded about it.
type Outcome struct {
	CaseID        string
	Ticket        translator.Ticket
	AnswerText    string
	Citations     []evidence.Kind
	Score         verifier.Score
	Explanation   verifier.Explanation
	UsedFastPath  bool
	UsedRecipeID  string
	Attempts      int
	ProposedPlan  *change.Plan
	Status        string
}

// answerSource tags where Outcome.AnswerText came from, for case recording.
type answerSource string

const (
	sourceFastPath   answerSource = "fast_path"
	sourceRecipe     answerSource = "recipe"
	sourceSpecialist answerSource = "specialist"
)

// resolved bundles one attempt's answer with its provenance ahead of
// verification.
type resolved struct {
	source    answerSource
	recipeID  string
	answer    specialist.Answer
}
