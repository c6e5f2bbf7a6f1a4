package change

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ConfirmationSignal is the channel name the executor's RPC-facing
// ApplyChange handler signals once the caller has echoed the exact
// confirmation phrase (§4.J "Confirmation"), named after the teacher's
// "human-approval" gate (internal/temporal/workflow.go).
const ConfirmationSignal = "change-confirmation"

// Workflow implements the change state machine:
//
//	Plan -> AwaitConfirmation -> Backup -> Apply -> Done
//	                                 |        `-fail-> Rollback -> Reverted
//	                                 `-fail------------------------> Failed
//
// It has no Verify stage: VerifyActivity is not called, a Plan carries no
// verification checks, and Result.Verifications stays empty.
func Workflow(ctx workflow.Context, plan Plan) (Result, error) {
	logger := workflow.GetLogger(ctx)

	if err := validatePlan(plan); err != nil {
		return Result{Status: StatusRefused, FailureReason: err.Error()}, nil
	}

	logger.Info("change: awaiting confirmation", "plan", plan.ID, "phrase", plan.ConfirmationPhrase)
	signalChan := workflow.GetSignalChannel(ctx, ConfirmationSignal)
	var echoed string
	signalChan.Receive(ctx, &echoed)

	if echoed != plan.ConfirmationPhrase {
		return Result{Status: StatusFailed, FailureReason: "confirmation phrase mismatch"}, nil
	}

	var a *Activities

	backupOpts := workflow.ActivityOptions{StartToCloseTimeout: 2 * time.Minute}
	backupCtx := workflow.WithActivityOptions(ctx, backupOpts)
	var backups []BackupRecord
	if len(plan.BackupTargets) > 0 {
		if err := workflow.ExecuteActivity(backupCtx, a.BackupActivity, plan.BackupTargets).Get(ctx, &backups); err != nil {
			return Result{Status: StatusFailed, FailureReason: fmt.Sprintf("backup failed: %v", err)}, nil
		}
	}

	applyOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	applyCtx := workflow.WithActivityOptions(ctx, applyOpts)
	var applyResult ApplyResult
	if err := workflow.ExecuteActivity(applyCtx, a.ApplyActivity, plan.Steps).Get(ctx, &applyResult); err != nil {
		return rollback(ctx, a, plan, backups, applyResult.Results, len(plan.Steps)-1, fmt.Sprintf("apply error: %v", err)), nil
	}
	if applyResult.FailedIdx >= 0 {
		return rollback(ctx, a, plan, backups, applyResult.Results, applyResult.FailedIdx, "step failed during apply"), nil
	}

	return Result{Status: StatusDone, StepResults: applyResult.Results, Backups: backups}, nil
}

func rollback(ctx workflow.Context, a *Activities, plan Plan, backups []BackupRecord, stepResults []StepResult, attemptedUpTo int, reason string) Result {
	rollbackOpts := workflow.ActivityOptions{StartToCloseTimeout: 5 * time.Minute}
	rollbackCtx := workflow.WithActivityOptions(ctx, rollbackOpts)

	var rollbacks []RollbackResult
	_ = workflow.ExecuteActivity(rollbackCtx, a.RollbackActivity, plan.RollbackSteps, attemptedUpTo, backups).Get(ctx, &rollbacks)

	return Result{
		Status:        StatusReverted,
		StepResults:   stepResults,
		Backups:       backups,
		Rollbacks:     rollbacks,
		FailureReason: reason,
	}
}
