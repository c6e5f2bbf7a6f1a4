// Package change implements the Change Planner/Executor (spec §3.6,
// §4.J): a Plan -> AwaitConfirmation -> Backup -> Apply state machine
// with content-addressed backups and ordered rollback. VerifyActivity
// exists but the Workflow does not run a Verify stage.
package change

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/anna-assistant/annad/internal/recipe"
)

// Risk is the closed risk tier for a Step (§4.J). Protected steps never
// execute; a plan containing one is refused outright.
type Risk string

const (
	RiskLow       Risk = "low"
	RiskMedium    Risk = "medium"
	RiskHigh      Risk = "high"
	RiskProtected Risk = "protected"
)

var riskRank = map[Risk]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskProtected: 3}

func higherRisk(a, b Risk) Risk {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

// Step is one action in a plan (§3.6).
type Step struct {
	Description          string
	Command              string
	RollbackID           string
	Risk                 Risk
	RequiresConfirmation bool
}

// RollbackStep undoes one applied Step (§4.J "Rollback ... executes, in
// reverse order, the RollbackSteps for every step that was attempted").
type RollbackStep struct {
	StepIndex int
	Command   string
}

// Verification is one post-condition check (§4.J "Verify").
type Verification struct {
	Description string
	Command     string
	Expected    string
	Observed    string
	Passed      bool
}

// BackupRecord pairs a backed-up path with the content hash of its copy
// (§4.J "the hash and path pair are persisted in the case file").
type BackupRecord struct {
	Path     string
	Hash     string
	BackupAt string // path to the content-addressed copy
}

// Plan is a proposed set of Steps plus its confirmation gate (§3.6, §4.J).
type Plan struct {
	ID                string
	CaseID            string
	Steps             []Step
	RollbackSteps     []RollbackStep
	BackupTargets     []string
	ConfirmationPhrase string
}

// RiskCeiling returns the maximum step risk in the plan (§4.J "the plan's
// risk ceiling is the max step risk").
func (p Plan) RiskCeiling() Risk {
	ceiling := RiskLow
	for _, s := range p.Steps {
		ceiling = higherRisk(ceiling, s.Risk)
	}
	return ceiling
}

// HasProtectedStep reports whether any step is tagged Protected, in which
// case the whole plan must be refused (§4.J).
func (p Plan) HasProtectedStep() bool {
	for _, s := range p.Steps {
		if s.Risk == RiskProtected {
			return true
		}
	}
	return false
}

// ContentHash is the plan's identity for at-most-once execution (§4.J "a
// plan is identified by a content hash"). It is a pure function of the
// plan's steps and targets, independent of ID/CaseID so that re-deriving
// the same logical plan always yields the same hash.
func (p Plan) ContentHash() string {
	type hashable struct {
		Steps         []Step
		RollbackSteps []RollbackStep
		BackupTargets []string
	}
	data, _ := json.Marshal(hashable{p.Steps, p.RollbackSteps, p.BackupTargets})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FromRecipeSteps adapts recipe.Step values (recipe's own local type,
// kept separate to avoid an import cycle) into change.Steps.
func FromRecipeSteps(steps []recipe.Step) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		out = append(out, Step{
			Description:          s.Description,
			Command:              s.Command,
			RollbackID:           s.RollbackID,
			Risk:                 Risk(s.Risk),
			RequiresConfirmation: s.RequiresConfirmation,
		})
	}
	return out
}

// StepResult records one Apply attempt (§4.J "Apply ... records
// (success, stdout/stderr summary, duration_ms)").
type StepResult struct {
	StepIndex  int
	Success    bool
	Summary    string
	DurationMs int64
}

// RollbackResult records one rollback attempt; failures never block other
// rollback steps from running (§4.J).
type RollbackResult struct {
	StepIndex int
	Success   bool
	Summary   string
}

// Status is the closed set of terminal/intermediate states for a Plan
// (§4.J state machine).
type Status string

const (
	StatusPlanned          Status = "planned"
	StatusAwaitConfirmation Status = "await_confirmation"
	StatusBackingUp        Status = "backing_up"
	StatusApplying         Status = "applying"
	StatusVerifying        Status = "verifying"
	StatusDone             Status = "done"
	StatusRollingBack      Status = "rolling_back"
	StatusReverted         Status = "reverted"
	StatusFailed           Status = "failed"
	StatusRefused          Status = "refused"
)

// Result is the terminal outcome of running a Plan end to end.
type Result struct {
	Status        Status
	StepResults   []StepResult
	Backups       []BackupRecord
	Verifications []Verification
	Rollbacks     []RollbackResult
	FailureReason string
}

// Dedup tracks recently executed plan content hashes to enforce
// at-most-once semantics (§4.J "replaying the same plan within a short
// window is rejected").
type Dedup struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

// NewDedup creates a Dedup rejecting re-execution of the same content
// hash within window.
func NewDedup(window time.Duration) *Dedup {
	return &Dedup{window: window, seen: make(map[string]time.Time)}
}

// Admit records hash as executed at now and returns false if it was
// already executed within the dedup window.
func (d *Dedup) Admit(hash string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[hash]; ok && now.Sub(last) < d.window {
		return false
	}
	d.seen[hash] = now
	return true
}

// sortRollbacksDescending returns rollback steps ordered by StepIndex
// descending (§4.J "in reverse order").
func sortRollbacksDescending(steps []RollbackStep) []RollbackStep {
	out := make([]RollbackStep, len(steps))
	copy(out, steps)
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex > out[j].StepIndex })
	return out
}

func validatePlan(p Plan) error {
	if p.HasProtectedStep() {
		return fmt.Errorf("change: plan %s contains a protected step and is refused", p.ID)
	}
	return nil
}
