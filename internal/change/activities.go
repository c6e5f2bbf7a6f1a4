package change

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CommandRunner executes a shell step and reports its outcome. Grounded on
// probe.Runner's injectable-seam pattern so Apply/Rollback are testable
// without shelling out to a real host.
type CommandRunner interface {
	Run(ctx context.Context, command string) (stdout []byte, stderr []byte, err error)
}

// Activities holds the dependencies Temporal activity methods need,
// mirroring the teacher's Activities struct (internal/temporal/activities.go).
type Activities struct {
	Runner    CommandRunner
	BackupDir string
}

// BackupActivity content-addresses every path in targets into
// a.BackupDir before any step runs (§4.J "Backup"). Failure to back up
// any target aborts the plan with no changes executed.
func (a *Activities) BackupActivity(ctx context.Context, targets []string) ([]BackupRecord, error) {
	records := make([]BackupRecord, 0, len(targets))
	for _, path := range targets {
		data, err := os.ReadFile(path)
		if err != nil {
			return records, fmt.Errorf("change: backup read %s: %w", path, err)
		}

		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		dest := filepath.Join(a.BackupDir, hash)

		if err := os.MkdirAll(a.BackupDir, 0o755); err != nil {
			return records, fmt.Errorf("change: backup mkdir %s: %w", a.BackupDir, err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return records, fmt.Errorf("change: backup write %s: %w", dest, err)
		}

		records = append(records, BackupRecord{Path: path, Hash: hash, BackupAt: dest})
	}
	return records, nil
}

// ApplyResult is ApplyActivity's single return value: the per-step
// results recorded so far and the index of the first failed step, or -1
// if every step succeeded. Bundled into one struct because a Temporal
// activity method returns at most one value plus an error.
type ApplyResult struct {
	Results   []StepResult
	FailedIdx int
}

// ApplyActivity runs steps in declared order, stopping at the first
// failure (§4.J "Apply").
func (a *Activities) ApplyActivity(ctx context.Context, steps []Step) (ApplyResult, error) {
	results := make([]StepResult, 0, len(steps))
	for i, step := range steps {
		start := time.Now()
		stdout, stderr, err := a.Runner.Run(ctx, step.Command)
		duration := time.Since(start).Milliseconds()

		success := err == nil
		summary := string(stdout)
		if !success {
			summary = string(stderr)
			if summary == "" {
				summary = err.Error()
			}
		}

		results = append(results, StepResult{StepIndex: i, Success: success, Summary: summary, DurationMs: duration})
		if !success {
			return ApplyResult{Results: results, FailedIdx: i}, nil
		}
	}
	return ApplyResult{Results: results, FailedIdx: -1}, nil
}

// VerifyResult is VerifyActivity's single return value.
type VerifyResult struct {
	Checks    []Verification
	AllPassed bool
}

// VerifyActivity runs each verification's check command and compares its
// output against the expected value (§4.J "Verify").
func (a *Activities) VerifyActivity(ctx context.Context, checks []Verification) (VerifyResult, error) {
	out := make([]Verification, 0, len(checks))
	allPassed := true
	for _, v := range checks {
		stdout, _, err := a.Runner.Run(ctx, v.Command)
		observed := string(stdout)
		if err != nil {
			observed = err.Error()
		}
		passed := observed == v.Expected
		v.Observed = observed
		v.Passed = passed
		if !passed {
			allPassed = false
		}
		out = append(out, v)
	}
	return VerifyResult{Checks: out, AllPassed: allPassed}, nil
}

// RollbackActivity executes rollback steps in reverse order for every
// step that was attempted, then restores every record in backups; it
// does not track which file a step touched (§4.J "Rollback"). A failing
// rollback step is recorded
// but never stops the remaining rollback steps from running.
func (a *Activities) RollbackActivity(ctx context.Context, rollbackSteps []RollbackStep, attemptedUpTo int, backups []BackupRecord) ([]RollbackResult, error) {
	results := make([]RollbackResult, 0, len(rollbackSteps))
	for _, rs := range sortRollbacksDescending(rollbackSteps) {
		if rs.StepIndex > attemptedUpTo {
			continue
		}
		stdout, stderr, err := a.Runner.Run(ctx, rs.Command)
		success := err == nil
		summary := string(stdout)
		if !success {
			summary = string(stderr)
			if summary == "" {
				summary = err.Error()
			}
		}
		results = append(results, RollbackResult{StepIndex: rs.StepIndex, Success: success, Summary: summary})
	}

	for _, b := range backups {
		data, err := os.ReadFile(b.BackupAt)
		restored := err == nil
		if restored {
			restored = os.WriteFile(b.Path, data, 0o644) == nil
		}
		results = append(results, RollbackResult{
			StepIndex: -1,
			Success:   restored,
			Summary:   fmt.Sprintf("restore backup for %s", b.Path),
		})
	}

	return results, nil
}
