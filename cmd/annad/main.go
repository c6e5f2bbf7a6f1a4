// Command annad is the Anna daemon: the long-running process hosting the
// Evidence Store, Probe Registry, Service Desk pipeline, Change
// Executor, and the RPC Core that fronts them all (spec §1, §2).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/anna-assistant/annad/internal/advice"
	"github.com/anna-assistant/annad/internal/autonomy"
	"github.com/anna-assistant/annad/internal/casestore"
	"github.com/anna-assistant/annad/internal/change"
	"github.com/anna-assistant/annad/internal/config"
	"github.com/anna-assistant/annad/internal/evidence"
	"github.com/anna-assistant/annad/internal/health"
	"github.com/anna-assistant/annad/internal/knowledge"
	"github.com/anna-assistant/annad/internal/llm"
	"github.com/anna-assistant/annad/internal/pipeline"
	"github.com/anna-assistant/annad/internal/probe"
	"github.com/anna-assistant/annad/internal/quickscan"
	"github.com/anna-assistant/annad/internal/recipe"
	"github.com/anna-assistant/annad/internal/rpc"
	"github.com/anna-assistant/annad/internal/specialist"
	"github.com/anna-assistant/annad/internal/telemetry"
	"github.com/anna-assistant/annad/internal/translator"
	"github.com/anna-assistant/annad/internal/updatestate"
)

// annadVersion is reported through GetDaemonInfo.
const annadVersion = "0.1.0"

// defaultLockPath mirrors the teacher's /tmp/cortex.lock single-instance
// guard (cmd/cortex/main.go).
const defaultLockPath = "/tmp/annad.lock"

// knownProbeCommands is the closed command catalog the Verifier's
// no_invention signal treats as "known" (§4.I), one entry per probe
// registered in registerStandardProbes.
var knownProbeCommands = []string{"df", "lsblk", "free", "systemctl", "ip", "journalctl"}

func configureLogger(dev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0o755)
}

func main() {
	configPath := flag.String("config", "/etc/anna/config.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	temporalHostPort := flag.String("temporal-hostport", "127.0.0.1:7233", "Temporal frontend host:port")
	flag.Parse()

	logger := configureLogger(*dev)
	slog.SetDefault(logger)
	logger.Info("annad starting", "config", *configPath)

	cfgMgr, err := config.NewManager(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Get()

	lockPath := defaultLockPath
	lockFile, err := health.AcquireFlock(lockPath)
	if err != nil {
		logger.Error("failed to acquire single-instance lock", "error", err)
		os.Exit(1)
	}
	defer health.ReleaseFlock(lockFile)

	for _, dir := range []string{cfg.Paths.CasesDir, cfg.Paths.RecipesDir, cfg.Paths.KnowledgeDir, cfg.Paths.TelemetryDir} {
		if err := ensureDir(dir); err != nil {
			logger.Error("failed to create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	evidenceStore := evidence.NewStore(64)

	probeRegistry := probe.NewRegistry(probe.ExecRunner{})
	registerStandardProbes(probeRegistry)

	recipes, err := recipe.OpenCatalog(cfg.Paths.RecipesDir)
	if err != nil {
		logger.Error("failed to open recipe catalog", "error", err)
		os.Exit(1)
	}

	knowledgeStore, err := knowledge.Open(cfg.Paths.KnowledgeDir)
	if err != nil {
		logger.Error("failed to open knowledge store", "error", err)
		os.Exit(1)
	}

	caseStore, err := casestore.Open(cfg.Paths.CasesDir)
	if err != nil {
		logger.Error("failed to open case store", "error", err)
		os.Exit(1)
	}

	llmClient := llm.NewClient(cfg.LLM)

	autonomyMgr := autonomy.NewManager(cfg.Autonomy.ActionCooldown.Duration)

	pipelineActs := &pipeline.Activities{
		Translator:    translator.New(llmClient),
		EvidenceStore: evidenceStore,
		ProbeRegistry: probeRegistry,
		Knowledge:     knowledgeStore,
		Specialist:    specialist.New(llmClient),
		CaseStore:     caseStore,
		KnownCommands: knownProbeCommands,
		Recipes:       recipes,
	}

	changeActs := &change.Activities{
		Runner:    shellRunner{},
		BackupDir: cfg.Paths.CasesDir,
	}

	tc, err := client.Dial(client.Options{HostPort: *temporalHostPort})
	if err != nil {
		logger.Error("failed to connect to temporal", "error", err)
		os.Exit(1)
	}
	defer tc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := startWorker(tc, pipelineActs, changeActs, logger.With("component", "temporal_worker")); err != nil {
			logger.Error("temporal worker stopped", "error", err)
		}
	}()

	sampler := telemetry.New(probeRegistry, evidenceStore, standardTelemetryProbeIDs, telemetry.DefaultTickInterval, cfg.Paths.TelemetryDir, logger.With("component", "telemetry"))
	go sampler.Run(ctx)

	advisor := advice.NewAdvisor(cfg.Advice, evidenceStore, logger.With("component", "advice"))
	go advisor.Run(ctx)

	updateStateMgr, err := updatestate.Open(cfg.Paths.UpdateStateFile)
	if err != nil {
		logger.Error("failed to open update state", "error", err)
		os.Exit(1)
	}

	quickscanner := quickscan.NewScanner(cfg.QuickScan, knownProbeCommands)
	quickscanReport := quickscanner.Scan(ctx, time.Now())
	logger.Info("quickscan complete", "capabilities", len(quickscanReport.Capabilities), "orphans", len(quickscanReport.Orphans))

	rpcServer, err := rpc.NewServer(cfg.RPC.SocketPath, cfg.RPC.MaxConcurrent, cfg.RPC.RequestDeadline.Duration)
	if err != nil {
		logger.Error("failed to create rpc server", "error", err)
		os.Exit(1)
	}

	d := &daemon{
		cfgMgr:          cfgMgr,
		tc:              tc,
		evidenceStore:   evidenceStore,
		probeRegistry:   probeRegistry,
		recipes:         recipes,
		caseStore:       caseStore,
		autonomyMgr:     autonomyMgr,
		dedup:           change.NewDedup(10 * time.Minute),
		changeActs:      changeActs,
		plans:           newPlanRegistry(),
		advisor:         advisor,
		quickscanner:    quickscanner,
		quickscanReport: &quickscanReport,
		updateState:     updateStateMgr,
		startedAt:       time.Now(),
		version:         annadVersion,
		logger:          logger.With("component", "rpc"),
		shutdownCh:      make(chan struct{}),
	}
	registerHandlers(rpcServer, d)

	go func() {
		if err := rpcServer.Serve(ctx); err != nil {
			logger.Error("rpc server stopped", "error", err)
		}
	}()

	logger.Info("annad running", "socket", cfg.RPC.SocketPath, "tier", autonomyMgr.Tier())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				if err := cfgMgr.Reload(); err != nil {
					logger.Error("config reload failed", "error", err)
					continue
				}
				logger.Info("config reloaded")
			default:
				logger.Info("received signal, shutting down", "signal", sig)
				shutdown(cancel, rpcServer, logger)
				return
			}
		case <-d.shutdownCh:
			logger.Info("uninstall requested, shutting down")
			shutdown(cancel, rpcServer, logger)
			return
		}
	}
}

func shutdown(cancel context.CancelFunc, rpcServer *rpc.Server, logger *slog.Logger) {
	start := time.Now()
	_ = rpcServer.Close()
	cancel()
	logger.Info("annad stopped", "shutdown_duration", time.Since(start).String())
}
