// Package quickscan implements a bounded, on-demand system capability and
// package inventory check: each named collaborator resolves to an
// active or disabled status backed by a real lookup (no check produces
// StatusDegraded), plus an
// orphaned-package scan. Anna's probe layer already owns routine
// telemetry; QuickScan is the one-shot, timeout-bounded variant run at
// startup or on request.
package quickscan

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/anna-assistant/annad/internal/config"
)

// Status is the closed tier a capability check resolves to.
type Status string

const (
	StatusActive   Status = "active"
	StatusDegraded Status = "degraded"
	StatusDisabled Status = "disabled"
)

// CapabilityCheck records one named external collaborator's availability.
type CapabilityCheck struct {
	Name   string
	Status Status
	Reason string
}

// Report is the result of one QuickScan run.
type Report struct {
	GeneratedAt  time.Time
	Capabilities []CapabilityCheck
	Orphans      []string
}

// LookupPath is the capability-check seam (os/exec.LookPath by default),
// overridable in tests so no PATH lookups are required to exercise Scan.
type LookupPath func(name string) (string, error)

// CommandOutput runs a command, returning its stdout, overridable in
// tests the same way.
type CommandOutput func(ctx context.Context, name string, args ...string) ([]byte, error)

func execLookPath(name string) (string, error) { return exec.LookPath(name) }

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Scanner runs the bounded capability + package inventory check.
type Scanner struct {
	cfg        config.QuickScan
	commands   []string
	lookupPath LookupPath
	runCommand CommandOutput
}

// NewScanner creates a Scanner checking commands for availability using
// the real os/exec seams.
func NewScanner(cfg config.QuickScan, commands []string) *Scanner {
	return &Scanner{cfg: cfg, commands: commands, lookupPath: execLookPath, runCommand: execOutput}
}

// Scan runs every enabled check within cfg.TimeoutSecs. Every Status is
// backed by a real LookPath or command invocation, never guessed.
func (s *Scanner) Scan(ctx context.Context, now time.Time) Report {
	report := Report{GeneratedAt: now}
	if !s.cfg.Enable {
		return report
	}

	timeout := time.Duration(s.cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, name := range s.commands {
		if !s.checkEnabled(name) {
			continue
		}
		report.Capabilities = append(report.Capabilities, s.checkCapability(name))
	}

	if s.checkEnabled("pacman_orphans") {
		report.Orphans = s.scanOrphans(ctx)
	}

	return report
}

func (s *Scanner) checkEnabled(name string) bool {
	if len(s.cfg.Checks) == 0 {
		return true
	}
	enabled, explicit := s.cfg.Checks[name]
	return !explicit || enabled
}

func (s *Scanner) checkCapability(name string) CapabilityCheck {
	if _, err := s.lookupPath(name); err != nil {
		return CapabilityCheck{Name: name, Status: StatusDisabled, Reason: err.Error()}
	}
	return CapabilityCheck{Name: name, Status: StatusActive}
}

// scanOrphans lists packages pacman considers orphaned (-Qdtq), returning
// nil on any failure rather than inventing a package list.
func (s *Scanner) scanOrphans(ctx context.Context) []string {
	out, err := s.runCommand(ctx, "pacman", "-Qdtq")
	if err != nil {
		return nil
	}
	var orphans []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			orphans = append(orphans, line)
		}
	}
	return orphans
}
