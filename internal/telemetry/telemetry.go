// Package telemetry implements the Telemetry Sampler (spec §4.O): a
// single cooperative ticker loop that refreshes the Evidence Store from
// low-risk probes and rolls the pacman log forward, without ever
// blocking the RPC path.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/anna-assistant/annad/internal/evidence"
	"github.com/anna-assistant/annad/internal/pacman"
	"github.com/anna-assistant/annad/internal/probe"
)

// DefaultTickInterval is §4.O's "default 30 s".
const DefaultTickInterval = 30 * time.Second

// maxParallelProbes bounds the tick's probe fan-out (§4.O "in parallel
// (bounded)").
const maxParallelProbes = 4

// pacmanLogPath is the conventional pacman log location on Arch-family
// systems; the sampler treats it as a named external collaborator per §1.
const pacmanLogPath = "/var/log/pacman.log"

// Sampler runs the periodic tick loop, grounded on the teacher's
// Scheduler.Run ticker-with-hot-reloadable-interval shape
// (internal/scheduler/scheduler.go).
type Sampler struct {
	registry     *probe.Registry
	store        *evidence.Store
	probeIDs     []string
	tickInterval time.Duration
	telemetryDir string
	logger       *slog.Logger

	packageChanges prometheus.Gauge
	tickDuration   prometheus.Gauge
	lastTickUnix   prometheus.Gauge
}

// New creates a Sampler that runs probeIDs against registry each tick,
// capturing results into store and rolling pacman.json forward under
// telemetryDir (§6.2).
func New(registry *probe.Registry, store *evidence.Store, probeIDs []string, tickInterval time.Duration, telemetryDir string, logger *slog.Logger) *Sampler {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		registry:     registry,
		store:        store,
		probeIDs:     probeIDs,
		tickInterval: tickInterval,
		telemetryDir: telemetryDir,
		logger:       logger,

		packageChanges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anna_telemetry_package_changes_last_tick",
			Help: "Number of recognized pacman log entries observed on the most recent tick.",
		}),
		tickDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anna_telemetry_tick_duration_seconds",
			Help: "Wall-clock duration of the most recent telemetry tick.",
		}),
		lastTickUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anna_telemetry_last_tick_unix",
			Help: "Unix timestamp of the most recent completed telemetry tick.",
		}),
	}
}

// Collectors returns the sampler's Prometheus gauges for registration
// with a metrics registry.
func (s *Sampler) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.packageChanges, s.tickDuration, s.lastTickUnix}
}

// Run blocks until ctx is cancelled, ticking at s.tickInterval.
func (s *Sampler) Run(ctx context.Context) {
	s.logger.Info("telemetry sampler started", "tick_interval", s.tickInterval)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("telemetry sampler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sampler) tick(ctx context.Context) {
	start := time.Now()
	now := start

	if err := s.runProbes(ctx, now); err != nil {
		s.logger.Error("telemetry tick: probe fan-out failed", "error", err)
	}

	if n, err := s.rollPacmanLog(now); err != nil {
		s.logger.Error("telemetry tick: pacman log roll failed", "error", err)
	} else {
		s.packageChanges.Set(float64(n))
	}

	s.store.CommitSnapshot(now)

	s.tickDuration.Set(time.Since(start).Seconds())
	s.lastTickUnix.Set(float64(now.Unix()))
}

// runProbes runs the sampler's configured probes with bounded
// parallelism via errgroup (§4.O "runs the low-risk probes in parallel
// (bounded)").
func (s *Sampler) runProbes(ctx context.Context, now time.Time) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProbes)

	for _, id := range s.probeIDs {
		id := id
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			res := s.registry.Run(gctx, id, s.store, now)
			if res.Failed {
				s.logger.Warn("telemetry tick: probe failed", "probe_id", id, "error", res.Err)
			}
			return nil
		})
	}
	return g.Wait()
}

// rollPacmanLog advances the pacman.json checkpoint over any new log
// lines, capturing the resulting package-change view into the Evidence
// Store under evidence.Logs — the kind the WhatChanged fast-path class
// reads (§4.O, §6.4).
func (s *Sampler) rollPacmanLog(now time.Time) (int, error) {
	checkpointPath := filepath.Join(s.telemetryDir, "pacman.json")

	cp, err := pacman.LoadCheckpoint(checkpointPath)
	if err != nil {
		return 0, fmt.Errorf("telemetry: load pacman checkpoint: %w", err)
	}

	changes, newCp, err := pacman.ScanNew(pacmanLogPath, cp)
	if err != nil {
		return 0, fmt.Errorf("telemetry: scan pacman log: %w", err)
	}

	s.store.Capture(evidence.Logs, changes, now)

	if err := pacman.SaveCheckpoint(checkpointPath, newCp); err != nil {
		return 0, fmt.Errorf("telemetry: save pacman checkpoint: %w", err)
	}
	return len(changes), nil
}
