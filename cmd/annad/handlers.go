package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/anna-assistant/annad/internal/advice"
	"github.com/anna-assistant/annad/internal/autonomy"
	"github.com/anna-assistant/annad/internal/casestore"
	"github.com/anna-assistant/annad/internal/change"
	"github.com/anna-assistant/annad/internal/config"
	"github.com/anna-assistant/annad/internal/evidence"
	"github.com/anna-assistant/annad/internal/pipeline"
	"github.com/anna-assistant/annad/internal/probe"
	"github.com/anna-assistant/annad/internal/quickscan"
	"github.com/anna-assistant/annad/internal/recipe"
	"github.com/anna-assistant/annad/internal/rpc"
	"github.com/anna-assistant/annad/internal/rpcerr"
	"github.com/anna-assistant/annad/internal/updatestate"
)

// registerHandlers wires every closed §4.N RPC method to its daemon
// handler.
func registerHandlers(s *rpc.Server, d *daemon) {
	s.Handle(rpc.MethodStatus, d.handleStatus)
	s.Handle(rpc.MethodRequest, d.handleRequest)
	s.Handle(rpc.MethodReset, d.handleReset)
	s.Handle(rpc.MethodProbe, d.handleProbe)
	s.Handle(rpc.MethodProgress, d.handleProgress)
	s.Handle(rpc.MethodStats, d.handleStats)
	s.Handle(rpc.MethodStatusSnapshot, d.handleStatusSnapshot)
	s.Handle(rpc.MethodGetDaemonInfo, d.handleGetDaemonInfo)
	s.Handle(rpc.MethodPlanChange, d.handlePlanChange)
	s.Handle(rpc.MethodApplyChange, d.handleApplyChange)
	s.Handle(rpc.MethodRollbackChange, d.handleRollbackChange)
	s.Handle(rpc.MethodAutofix, d.handleAutofix)
	s.Handle(rpc.MethodUninstall, d.handleUninstall)
}

// daemon bundles every long-lived collaborator the RPC handlers close
// over, mirroring the teacher's api.Server holding its dependencies
// directly rather than through a service-locator (internal/api/server.go).
type daemon struct {
	cfgMgr          *config.Manager
	tc              client.Client
	evidenceStore   *evidence.Store
	probeRegistry   *probe.Registry
	recipes         *recipe.Catalog
	caseStore       *casestore.Store
	autonomyMgr     *autonomy.Manager
	dedup           *change.Dedup
	changeActs      *change.Activities
	plans           *planRegistry
	advisor         *advice.Advisor
	quickscanner    *quickscan.Scanner
	quickscanReport *quickscan.Report
	updateState     *updatestate.Machine

	startedAt time.Time
	version   string
	logger    *slog.Logger

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

const applyChangeAction = "apply_change"

func unmarshalParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return rpcerr.New(rpcerr.Internal, "invalid params: %v", err)
	}
	return nil
}

// --- Status / introspection ---

type statusResult struct {
	OK            bool   `json:"ok"`
	Tier          string `json:"tier"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (d *daemon) handleStatus(ctx context.Context, params json.RawMessage) (any, error) {
	return statusResult{
		OK:            true,
		Tier:          string(d.autonomyMgr.Tier()),
		UptimeSeconds: int64(time.Since(d.startedAt).Seconds()),
	}, nil
}

type daemonInfoResult struct {
	Version   string `json:"version"`
	TaskQueue string `json:"task_queue"`
	PID       int    `json:"pid"`
}

func (d *daemon) handleGetDaemonInfo(ctx context.Context, params json.RawMessage) (any, error) {
	return daemonInfoResult{Version: d.version, TaskQueue: taskQueue, PID: os.Getpid()}, nil
}

type statusSnapshotResult struct {
	Tier         string                      `json:"tier"`
	Paths        config.Paths                `json:"paths"`
	SocketPath   string                      `json:"socket_path"`
	UpdateStep   updatestate.Step            `json:"update_step"`
	Advice       []advice.Advice             `json:"advice,omitempty"`
	Capabilities []quickscan.CapabilityCheck `json:"capabilities,omitempty"`
}

func (d *daemon) handleStatusSnapshot(ctx context.Context, params json.RawMessage) (any, error) {
	cfg := d.cfgMgr.Get()
	snapshot := statusSnapshotResult{
		Tier:       string(d.autonomyMgr.Tier()),
		Paths:      cfg.Paths,
		SocketPath: cfg.RPC.SocketPath,
	}
	if d.updateState != nil {
		snapshot.UpdateStep = d.updateState.State().Step
	}
	if d.advisor != nil {
		snapshot.Advice = d.advisor.Latest()
	}
	if d.quickscanReport != nil {
		snapshot.Capabilities = d.quickscanReport.Capabilities
	}
	return snapshot, nil
}

// --- Reset ---

type resetResult struct {
	Tier string `json:"tier"`
}

// handleReset downgrades the Autonomy Manager to Observer immediately, the
// operator-facing escape hatch alongside §4.M's automatic critical-failure
// downgrade.
func (d *daemon) handleReset(ctx context.Context, params json.RawMessage) (any, error) {
	d.autonomyMgr.Downgrade()
	return resetResult{Tier: string(d.autonomyMgr.Tier())}, nil
}

// --- Probe ---

type probeParams struct {
	ProbeID string `json:"probe_id"`
}

func (d *daemon) handleProbe(ctx context.Context, params json.RawMessage) (any, error) {
	var p probeParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if _, ok := d.probeRegistry.Lookup(p.ProbeID); !ok {
		return nil, rpcerr.New(rpcerr.NoProbeAvailable, "no such probe: %s", p.ProbeID)
	}
	result := d.probeRegistry.Run(ctx, p.ProbeID, d.evidenceStore, time.Now())
	if result.Failed {
		return nil, rpcerr.New(rpcerr.ProbeFailed, "probe %s failed: %v", p.ProbeID, result.Err)
	}
	return result, nil
}

// --- Progress / Stats ---

type progressParams struct {
	CaseID string `json:"case_id"`
}

func (d *daemon) handleProgress(ctx context.Context, params json.RawMessage) (any, error) {
	var p progressParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	cf, ok, err := d.caseStore.Get(p.CaseID)
	if err != nil {
		return nil, fmt.Errorf("annad: progress lookup: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("annad: no case with id %s", p.CaseID)
	}
	return cf, nil
}

func (d *daemon) handleStats(ctx context.Context, params json.RawMessage) (any, error) {
	stats, err := d.caseStore.Aggregate()
	if err != nil {
		return nil, fmt.Errorf("annad: stats: %w", err)
	}
	return stats, nil
}

// --- Request: the Service Desk pipeline entry point (§2) ---

type requestParams struct {
	UserRequest     string `json:"user_request"`
	RuntimeContext  string `json:"runtime_context"`
	ConfirmationFor string `json:"confirmation_for"`
}

func (d *daemon) handleRequest(ctx context.Context, params json.RawMessage) (any, error) {
	var p requestParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	req := pipeline.Request{
		UserRequest:     p.UserRequest,
		RuntimeContext:  p.RuntimeContext,
		ConfirmationFor: p.ConfirmationFor,
		Now:             time.Now(),
	}

	run, err := d.tc.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "request-" + uuid.NewString(),
		TaskQueue: taskQueue,
	}, pipeline.Workflow, req)
	if err != nil {
		return nil, fmt.Errorf("annad: start request workflow: %w", err)
	}

	var outcome pipeline.Outcome
	if err := run.Get(ctx, &outcome); err != nil {
		return nil, fmt.Errorf("annad: request workflow: %w", err)
	}
	return outcome, nil
}

// --- PlanChange / ApplyChange / RollbackChange (§4.J) ---

type planStepParams struct {
	Description          string `json:"description"`
	Command              string `json:"command"`
	RollbackID           string `json:"rollback_id"`
	Risk                 string `json:"risk"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
}

type planRollbackStepParams struct {
	StepIndex int    `json:"step_index"`
	Command   string `json:"command"`
}

type planChangeParams struct {
	CaseID        string                   `json:"case_id"`
	Steps         []planStepParams         `json:"steps"`
	RollbackSteps []planRollbackStepParams `json:"rollback_steps"`
	BackupTargets []string                 `json:"backup_targets"`
}

type planChangeResult struct {
	Plan        change.Plan `json:"plan"`
	ContentHash string      `json:"content_hash"`
}

func (d *daemon) handlePlanChange(ctx context.Context, params json.RawMessage) (any, error) {
	var p planChangeParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	steps := make([]change.Step, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, change.Step{
			Description:          s.Description,
			Command:              s.Command,
			RollbackID:           s.RollbackID,
			Risk:                 change.Risk(s.Risk),
			RequiresConfirmation: s.RequiresConfirmation,
		})
	}
	rollbackSteps := make([]change.RollbackStep, 0, len(p.RollbackSteps))
	for _, r := range p.RollbackSteps {
		rollbackSteps = append(rollbackSteps, change.RollbackStep{StepIndex: r.StepIndex, Command: r.Command})
	}

	plan := change.Plan{
		ID:                 uuid.NewString(),
		CaseID:             p.CaseID,
		Steps:              steps,
		RollbackSteps:      rollbackSteps,
		BackupTargets:      p.BackupTargets,
		ConfirmationPhrase: fmt.Sprintf("confirm-%s", uuid.NewString()[:8]),
	}
	if plan.HasProtectedStep() {
		return nil, rpcerr.New(rpcerr.ProtectedAction, "plan %s contains a protected step and is refused", plan.ID)
	}

	d.plans.put(plan)
	return planChangeResult{Plan: plan, ContentHash: plan.ContentHash()}, nil
}

type applyChangeParams struct {
	ContentHash      string `json:"content_hash"`
	ConfirmationEcho string `json:"confirmation_echo"`
}

func (d *daemon) handleApplyChange(ctx context.Context, params json.RawMessage) (any, error) {
	var p applyChangeParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	plan, ok := d.plans.get(p.ContentHash)
	if !ok {
		return nil, rpcerr.New(rpcerr.ApplyFailed, "no plan with content hash %s", p.ContentHash)
	}

	confirmed := p.ConfirmationEcho == plan.ConfirmationPhrase
	allowed, reason := d.autonomyMgr.CanExecute(applyChangeAction, confirmed)
	if !allowed {
		return nil, rpcerr.New(rpcerr.ProtectedAction, "%s", reason)
	}
	if !d.dedup.Admit(p.ContentHash, time.Now()) {
		return nil, rpcerr.New(rpcerr.ApplyFailed, "plan %s already executed within the dedup window", plan.ID)
	}

	run, err := d.tc.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "change-" + plan.ID,
		TaskQueue: taskQueue,
	}, change.Workflow, plan)
	if err != nil {
		return nil, fmt.Errorf("annad: start change workflow: %w", err)
	}
	if err := d.tc.SignalWorkflow(ctx, run.GetID(), run.GetRunID(), change.ConfirmationSignal, p.ConfirmationEcho); err != nil {
		return nil, fmt.Errorf("annad: signal change workflow: %w", err)
	}
	d.autonomyMgr.MarkExecuted(applyChangeAction)

	var result change.Result
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("annad: change workflow: %w", err)
	}

	d.plans.recordResult(p.ContentHash, result)
	d.autonomyMgr.RecordOutcome(applyChangeAction, result.Status == change.StatusDone)
	if result.Status == change.StatusFailed || result.Status == change.StatusReverted {
		d.autonomyMgr.Downgrade()
	}
	return result, nil
}

type rollbackChangeParams struct {
	ContentHash string `json:"content_hash"`
}

// handleRollbackChange lets an operator manually undo a previously
// completed ApplyChange, replaying its own RollbackActivity directly
// (there is no live workflow left to signal once ApplyChange returned).
func (d *daemon) handleRollbackChange(ctx context.Context, params json.RawMessage) (any, error) {
	var p rollbackChangeParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	plan, ok := d.plans.get(p.ContentHash)
	if !ok {
		return nil, rpcerr.New(rpcerr.RollbackFailed, "no plan with content hash %s", p.ContentHash)
	}
	prior, ok := d.plans.result(p.ContentHash)
	if !ok {
		return nil, rpcerr.New(rpcerr.RollbackFailed, "plan %s was never applied", plan.ID)
	}

	results, err := d.changeActs.RollbackActivity(ctx, plan.RollbackSteps, len(plan.Steps)-1, prior.Backups)
	if err != nil {
		return nil, rpcerr.New(rpcerr.RollbackFailed, "%v", err)
	}
	return results, nil
}

// --- Autofix: recipe-backed or specialist-proposed fixes applied under
// the Autonomy Manager's gate without a human confirmation round-trip. ---

type autofixParams struct {
	UserRequest    string `json:"user_request"`
	RuntimeContext string `json:"runtime_context"`
}

type autofixResult struct {
	Outcome pipeline.Outcome `json:"outcome"`
	Applied bool             `json:"applied"`
	Change  *change.Result   `json:"change,omitempty"`
}

func (d *daemon) handleAutofix(ctx context.Context, params json.RawMessage) (any, error) {
	var p autofixParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	run, err := d.tc.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "autofix-" + uuid.NewString(),
		TaskQueue: taskQueue,
	}, pipeline.Workflow, pipeline.Request{UserRequest: p.UserRequest, RuntimeContext: p.RuntimeContext, Now: time.Now()})
	if err != nil {
		return nil, fmt.Errorf("annad: start autofix workflow: %w", err)
	}
	var outcome pipeline.Outcome
	if err := run.Get(ctx, &outcome); err != nil {
		return nil, fmt.Errorf("annad: autofix workflow: %w", err)
	}

	if outcome.ProposedPlan == nil {
		return autofixResult{Outcome: outcome}, nil
	}

	plan := *outcome.ProposedPlan
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.ConfirmationPhrase == "" {
		plan.ConfirmationPhrase = fmt.Sprintf("autofix-%s", uuid.NewString()[:8])
	}
	d.plans.put(plan)

	allowed, reason := d.autonomyMgr.CanExecute(applyChangeAction, false)
	if !allowed {
		d.logger.Info("autofix: plan proposed but not auto-applied", "reason", reason)
		return autofixResult{Outcome: outcome, Applied: false}, nil
	}
	if !d.dedup.Admit(plan.ContentHash(), time.Now()) {
		return autofixResult{Outcome: outcome, Applied: false}, nil
	}

	changeRun, err := d.tc.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "change-" + plan.ID,
		TaskQueue: taskQueue,
	}, change.Workflow, plan)
	if err != nil {
		return nil, fmt.Errorf("annad: start autofix change workflow: %w", err)
	}
	if err := d.tc.SignalWorkflow(ctx, changeRun.GetID(), changeRun.GetRunID(), change.ConfirmationSignal, plan.ConfirmationPhrase); err != nil {
		return nil, fmt.Errorf("annad: signal autofix change workflow: %w", err)
	}
	d.autonomyMgr.MarkExecuted(applyChangeAction)

	var result change.Result
	if err := changeRun.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("annad: autofix change workflow: %w", err)
	}
	d.plans.recordResult(plan.ContentHash(), result)
	d.autonomyMgr.RecordOutcome(applyChangeAction, result.Status == change.StatusDone)
	if result.Status == change.StatusFailed || result.Status == change.StatusReverted {
		d.autonomyMgr.Downgrade()
	}

	return autofixResult{Outcome: outcome, Applied: true, Change: &result}, nil
}

// --- Uninstall ---

type uninstallParams struct {
	Confirm bool `json:"confirm"`
}

type uninstallResult struct {
	OK bool `json:"ok"`
}

// handleUninstall begins graceful shutdown; it does not remove on-disk
// state itself (that is an operator/package-manager concern per §1's
// "not in scope" boundary around packaging).
func (d *daemon) handleUninstall(ctx context.Context, params json.RawMessage) (any, error) {
	var p uninstallParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if !p.Confirm {
		return nil, rpcerr.New(rpcerr.ConfirmationMismatch, "uninstall requires confirm=true")
	}
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })
	return uninstallResult{OK: true}, nil
}
