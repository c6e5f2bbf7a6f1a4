// Package specialist implements the Specialist Runner (spec §4.H): a
// two-round Junior->Senior state machine per team that produces a cited
// answer from a Ticket Brief, escalating to Senior review under a fixed
// policy.
package specialist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anna-assistant/annad/internal/evidence"
	"github.com/anna-assistant/annad/internal/llm"
	"github.com/anna-assistant/annad/internal/probe"
	"github.com/anna-assistant/annad/internal/team"
	"github.com/anna-assistant/annad/internal/translator"
)

// Risk mirrors the closed risk tiers used by the Change Planner (§4.J),
// reused here so an escalation-worthy "proposed change" can be detected
// without importing internal/change.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

func (r Risk) atLeastMedium() bool {
	return r == RiskMedium || r == RiskHigh
}

// Brief is the Specialist Runner's input: filtered probe results, the
// classification, and facts learned so far (§4.H "Ticket Brief").
type Brief struct {
	Ticket        translator.Ticket
	Team          team.Name
	ProbeResults  []probe.Result // already filtered to the team's evidence kinds
	Facts         []string
}

// Answer is one round's output (§4.H "emit (answer, citations, confidence)").
type Answer struct {
	Text           string
	Citations      []evidence.Kind
	Confidence     float64
	Risk           Risk
	ProposedChange bool
	Round          string // "junior" or "senior"
	Escalated      bool
}

// draft is the structured shape a specialist round is prompted to emit.
type draft struct {
	Text           string   `json:"text"`
	Citations      []string `json:"citations"`
	Confidence     float64  `json:"confidence"`
	Risk           string   `json:"risk"`
	ProposedChange bool     `json:"proposed_change"`
}

// Runner drives the S0/S1/S2 state machine for one request.
type Runner struct {
	llm *llm.Client
}

// New builds a Runner. client may be nil: every round then falls back to
// a deterministic, evidence-citing template answer.
func New(client *llm.Client) *Runner {
	return &Runner{llm: client}
}

// Run executes Draft(Junior), and Review(Senior) if escalation triggers,
// returning the final Answer (§4.H S0/S1/S2).
func (r *Runner) Run(ctx context.Context, brief Brief) (Answer, error) {
	junior := r.round(ctx, brief, "junior", nil)

	if !shouldEscalate(brief, junior) {
		return junior, nil
	}
	junior.Escalated = true

	senior := r.round(ctx, brief, "senior", &junior)
	senior.Escalated = true
	return senior, nil
}

// shouldEscalate implements the §4.H escalation policy verbatim: (a) no
// evidence kind in the team's set was produced, (b) Junior's self-reported
// confidence < 0.7, or (c) Junior tags the answer as a proposed change
// with risk >= Medium.
func shouldEscalate(brief Brief, junior Answer) bool {
	if len(brief.ProbeResults) == 0 {
		return true
	}
	if junior.Confidence < 0.7 {
		return true
	}
	if junior.ProposedChange && junior.Risk.atLeastMedium() {
		return true
	}
	return false
}

func (r *Runner) round(ctx context.Context, brief Brief, roundName string, prior *Answer) Answer {
	if r.llm != nil {
		if ans, ok := r.tryLLMRound(ctx, brief, roundName, prior); ok {
			return ans
		}
	}
	return fallbackAnswer(brief, roundName)
}

func (r *Runner) tryLLMRound(ctx context.Context, brief Brief, roundName string, prior *Answer) (Answer, bool) {
	prompt := buildPrompt(brief, roundName, prior)
	content, err := r.llm.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return Answer{}, false
	}

	var d draft
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return Answer{}, false
	}
	if d.Text == "" {
		return Answer{}, false
	}

	citations := make([]evidence.Kind, 0, len(d.Citations))
	for _, c := range d.Citations {
		citations = append(citations, evidence.Kind(c))
	}

	return Answer{
		Text:           d.Text,
		Citations:      citations,
		Confidence:     d.Confidence,
		Risk:           Risk(d.Risk),
		ProposedChange: d.ProposedChange,
		Round:          roundName,
	}, true
}

func buildPrompt(brief Brief, roundName string, prior *Answer) string {
	persona := "You are the Junior specialist for the " + string(brief.Team) + " team."
	if roundName == "senior" {
		persona = "You are the Senior specialist for the " + string(brief.Team) + " team, reviewing a Junior draft."
	}

	prompt := persona + " Respond as JSON {text,citations,confidence,risk,proposed_change}.\n" +
		"Request: " + brief.Ticket.UserRequest + "\n"
	for _, res := range brief.ProbeResults {
		prompt += fmt.Sprintf("Evidence[%s]: %v\n", res.Kind, res.Payload)
	}
	if prior != nil {
		prompt += fmt.Sprintf("Junior draft: %q (confidence %.2f)\n", prior.Text, prior.Confidence)
	}
	return prompt
}

// fallbackAnswer builds a deterministic answer citing every evidence kind
// present in the brief, used when no inference server is configured or
// its response could not be trusted.
func fallbackAnswer(brief Brief, roundName string) Answer {
	citations := make([]evidence.Kind, 0, len(brief.ProbeResults))
	seen := make(map[evidence.Kind]struct{})
	for _, res := range brief.ProbeResults {
		if res.Failed {
			continue
		}
		if _, ok := seen[res.Kind]; ok {
			continue
		}
		seen[res.Kind] = struct{}{}
		citations = append(citations, res.Kind)
	}

	text := "Based on the available evidence, I could not find enough information to give a confident answer."
	confidence := 0.4
	if len(citations) > 0 {
		text = fmt.Sprintf("Based on %d piece(s) of evidence, here is what I found for your request.", len(citations))
		confidence = 0.6
	}

	return Answer{
		Text:       text,
		Citations:  citations,
		Confidence: confidence,
		Risk:       RiskLow,
		Round:      roundName,
	}
}
