// Package verifier implements the Verifier / Reliability Scorer (spec
// §4.I): a deterministic five-signal, 0-100 reliability score over a
// Specialist answer, with a structured explanation of any unmet signal.
package verifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/anna-assistant/annad/internal/probe"
	"github.com/anna-assistant/annad/internal/specialist"
	"github.com/anna-assistant/annad/internal/translator"
)

// SignalPoints is the fixed per-signal weight (§4.I "sum of five 20-point
// signals").
const SignalPoints = 20

// ExplainThreshold is the score below which a ReliabilityExplanation is
// produced (§4.I "When the score is < 80").
const ExplainThreshold = 80

// RetryThreshold is the score below which the pipeline must retry the
// Specialist Runner with feedback (§4.I "A score < 60 triggers a retry").
const RetryThreshold = 60

// MaxRetries bounds the retry loop (§4.I "up to 3 attempts").
const MaxRetries = 3

// Signal names the five deterministic checks (§4.I).
type Signal string

const (
	TranslatorConfident     Signal = "translator_confident"
	ProbeCoverage           Signal = "probe_coverage"
	AnswerGrounded          Signal = "answer_grounded"
	NoInvention             Signal = "no_invention"
	ClarificationNotNeeded  Signal = "clarification_not_needed"
)

var allSignals = []Signal{
	TranslatorConfident, ProbeCoverage, AnswerGrounded, NoInvention, ClarificationNotNeeded,
}

// Score is the computed reliability score and which signals were met.
type Score struct {
	Total int
	Met   map[Signal]bool
}

// Explanation lists unmet signals and, when no_invention failed, the
// specific uncited claims (§4.I).
type Explanation struct {
	UnmetSignals   []Signal
	UncitedClaims  []string
}

// Verify computes the five-signal score for answer against ticket and the
// probe results that were actually surfaced during this request.
// knownCommands is the closed set of probe command names the Probe
// Registry exposes (§4.I "known set ... command catalog"); ticket.Targets
// and every evidence payload rendered to text are also treated as known.
func Verify(ticket translator.Ticket, probeResults []probe.Result, answer specialist.Answer, knownCommands []string) (Score, Explanation) {
	met := make(map[Signal]bool, len(allSignals))

	met[TranslatorConfident] = ticket.Confidence >= 0.7
	met[ProbeCoverage] = probeCoverageMet(ticket, probeResults)
	met[AnswerGrounded] = answerGrounded(answer, probeResults)
	uncited := uncitedClaims(answer, probeResults, ticket.Targets, knownCommands)
	met[NoInvention] = len(uncited) == 0
	met[ClarificationNotNeeded] = ticket.Clarification == ""

	total := 0
	for _, ok := range met {
		if ok {
			total += SignalPoints
		}
	}

	score := Score{Total: total, Met: met}

	var explanation Explanation
	if total < ExplainThreshold {
		for _, sig := range allSignals {
			if !met[sig] {
				explanation.UnmetSignals = append(explanation.UnmetSignals, sig)
			}
		}
		if !met[NoInvention] {
			explanation.UncitedClaims = uncited
		}
	}

	return score, explanation
}

// VerifyDeterministic scores an answer that was never generated from a
// live probe run or Specialist round: a Fast-Path render or a mature
// Recipe hit (§2's data-flow diagram routes both straight to the
// Verifier, skipping probe execution). Both are pre-validated by
// construction — a fast-path render only used evidence the classifier
// already confirmed was present, and a mature recipe's action plan was
// proven out over >= MaturityMinUses prior successes — so probe_coverage,
// answer_grounded and no_invention are taken as met outright (extending
// §9(b)'s fast-path-only note to the recipe-hit path for the same
// reason: neither path can cite probe.Results it never ran). Only the two
// ticket-derived signals are still evaluated.
func VerifyDeterministic(ticket translator.Ticket) (Score, Explanation) {
	met := map[Signal]bool{
		TranslatorConfident:    ticket.Confidence >= 0.7,
		ProbeCoverage:          true,
		AnswerGrounded:         true,
		NoInvention:            true,
		ClarificationNotNeeded: ticket.Clarification == "",
	}

	total := 0
	for _, ok := range met {
		if ok {
			total += SignalPoints
		}
	}

	score := Score{Total: total, Met: met}

	var explanation Explanation
	if total < ExplainThreshold {
		for _, sig := range allSignals {
			if !met[sig] {
				explanation.UnmetSignals = append(explanation.UnmetSignals, sig)
			}
		}
	}
	return score, explanation
}

func probeCoverageMet(ticket translator.Ticket, results []probe.Result) bool {
	if len(ticket.NeededProbeIDs) == 0 {
		return true
	}
	succeeded := make(map[string]bool, len(results))
	for _, r := range results {
		succeeded[r.ProbeID] = !r.Failed
	}
	for _, id := range ticket.NeededProbeIDs {
		if !succeeded[id] {
			return false
		}
	}
	return true
}

func answerGrounded(answer specialist.Answer, results []probe.Result) bool {
	if len(answer.Citations) == 0 {
		return false
	}
	surfaced := make(map[string]bool, len(results))
	for _, r := range results {
		surfaced[string(r.Kind)] = true
	}
	for _, c := range answer.Citations {
		if surfaced[string(c)] {
			return true
		}
	}
	return false
}

// actionVerbPattern extracts the object of an install/remove/run-style
// sentence, where an invented package or command name is most likely to
// appear, rather than scanning every word in the answer (which would flag
// ordinary prose as "invented").
var actionVerbPattern = regexp.MustCompile(`(?i)\b(?:install|reinstall|remove|uninstall|upgrade|run|execute)\s+([a-zA-Z0-9_.-]{3,})`)

// absolutePathPattern extracts filesystem-path-shaped claims.
var absolutePathPattern = regexp.MustCompile(`/[a-zA-Z0-9_.][a-zA-Z0-9_./-]{1,}`)

// uncitedClaims extracts path and action-verb-object (package/command)
// claims from answer.Text and returns those that appear in none of: the
// evidence rendered to text, ticket targets, or the known command catalog
// (§4.I no_invention).
func uncitedClaims(answer specialist.Answer, results []probe.Result, targets, knownCommands []string) []string {
	known := make(map[string]struct{})
	for _, t := range targets {
		known[strings.ToLower(t)] = struct{}{}
	}
	for _, c := range knownCommands {
		known[strings.ToLower(c)] = struct{}{}
	}
	for _, r := range results {
		rendered := strings.ToLower(fmt.Sprintf("%v", r.Payload))
		for _, tok := range absolutePathPattern.FindAllString(rendered, -1) {
			known[tok] = struct{}{}
		}
		for _, m := range actionVerbPattern.FindAllStringSubmatch(rendered, -1) {
			known[strings.ToLower(m[1])] = struct{}{}
		}
	}

	var claims []string
	claims = append(claims, absolutePathPattern.FindAllString(answer.Text, -1)...)
	for _, m := range actionVerbPattern.FindAllStringSubmatch(answer.Text, -1) {
		claims = append(claims, m[1])
	}

	var uncited []string
	seen := make(map[string]struct{})
	for _, claim := range claims {
		lower := strings.ToLower(claim)
		if _, ok := known[lower]; ok {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		uncited = append(uncited, claim)
	}
	return uncited
}
