package main

import (
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/anna-assistant/annad/internal/change"
	"github.com/anna-assistant/annad/internal/pipeline"
)

// taskQueue is the single Temporal task queue annad workers poll,
// grounded on the teacher's StartWorker (internal/temporal/worker.go),
// which registers every workflow/activity pair on one named queue.
const taskQueue = "anna-task-queue"

// startWorker connects to the local Temporal server and runs the Service
// Desk and Change Executor workflows/activities until interrupted.
func startWorker(tc client.Client, pipelineActs *pipeline.Activities, changeActs *change.Activities, logger *slog.Logger) error {
	w := worker.New(tc, taskQueue, worker.Options{})

	w.RegisterWorkflow(pipeline.Workflow)
	w.RegisterActivity(pipelineActs.TranslateActivity)
	w.RegisterActivity(pipelineActs.FastPathActivity)
	w.RegisterActivity(pipelineActs.RecipeMatchActivity)
	w.RegisterActivity(pipelineActs.ProbeActivity)
	w.RegisterActivity(pipelineActs.KnowledgeSearchActivity)
	w.RegisterActivity(pipelineActs.SpecialistActivity)
	w.RegisterActivity(pipelineActs.RecordCaseActivity)
	w.RegisterActivity(pipelineActs.FeedbackActivity)
	w.RegisterActivity(pipelineActs.DraftCandidateActivity)

	w.RegisterWorkflow(change.Workflow)
	w.RegisterActivity(changeActs.BackupActivity)
	w.RegisterActivity(changeActs.ApplyActivity)
	w.RegisterActivity(changeActs.VerifyActivity)
	w.RegisterActivity(changeActs.RollbackActivity)

	logger.Info("temporal worker starting", "task_queue", taskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("annad: temporal worker: %w", err)
	}
	return nil
}
