package main

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anna-assistant/annad/internal/evidence"
	"github.com/anna-assistant/annad/internal/probe"
)

// registerStandardProbes wires the named external collaborators spec §1
// calls out (df, lsblk, free, systemctl, ip, journalctl) into registry.
// Each Definition's Parser turns that command's stdout into the typed
// evidence.Kind payload the probe emits (§4.B).
func registerStandardProbes(registry *probe.Registry) {
	registry.Register(probe.Definition{
		ID: "df", Command: "df", Argv: []string{"-P"},
		Timeout: 5 * time.Second, Emits: evidence.Disk, Parser: parseDiskUsage,
	})
	registry.Register(probe.Definition{
		ID: "lsblk", Command: "lsblk", Argv: []string{"-J", "-o", "NAME,SIZE,TYPE,MOUNTPOINT"},
		Timeout: 5 * time.Second, Emits: evidence.BlockDevices, Parser: parseBlockDevices,
	})
	registry.Register(probe.Definition{
		ID: "free", Command: "free", Argv: []string{"-b"},
		Timeout: 5 * time.Second, Emits: evidence.Memory, Parser: parseMemoryUsage,
	})
	registry.Register(probe.Definition{
		ID: "systemctl_failed", Command: "systemctl", Argv: []string{"--failed", "--no-legend", "--plain"},
		Timeout: 5 * time.Second, Emits: evidence.FailedUnits, Parser: parseFailedUnits,
	})
	registry.Register(probe.Definition{
		ID: "ip_addr", Command: "ip", Argv: []string{"-brief", "addr"},
		Timeout: 5 * time.Second, Emits: evidence.Network, Parser: parseNetworkAddrs,
	})
	registry.Register(probe.Definition{
		ID: "journalctl", Command: "journalctl", Argv: []string{"-p", "err", "-n", "50", "--no-pager"},
		Timeout: 10 * time.Second, Emits: evidence.Logs, Parser: parseJournalLines,
	})
}

// standardTelemetryProbeIDs is the low-risk subset the Telemetry Sampler
// runs on every tick (§4.O); lsblk/journalctl are left to on-demand
// probe runs since they are routed per-ticket by the Team Router instead.
var standardTelemetryProbeIDs = []string{"df", "free", "systemctl_failed", "ip_addr"}

func parseDiskUsage(stdout []byte) (any, error) {
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	var out []evidence.DiskUsage
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue // header row
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		pct, err := strconv.ParseFloat(strings.TrimSuffix(fields[4], "%"), 64)
		if err != nil {
			continue
		}
		out = append(out, evidence.DiskUsage{Mount: fields[5], UsedPct: pct})
	}
	return out, scanner.Err()
}

func parseBlockDevices(stdout []byte) (any, error) {
	// lsblk -J emits JSON; the reliability-path consumer only needs a
	// stable, grep-able text form so it is passed through as a string.
	return string(stdout), nil
}

func parseMemoryUsage(stdout []byte) (any, error) {
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[0] != "Mem:" {
			continue
		}
		total, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("probes: parse free total: %w", err)
		}
		used, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("probes: parse free used: %w", err)
		}
		return evidence.MemoryUsage{TotalBytes: total, UsedBytes: used}, nil
	}
	return nil, fmt.Errorf("probes: no Mem: line in free output")
}

func parseFailedUnits(stdout []byte) (any, error) {
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	var out []evidence.FailedUnit
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		out = append(out, evidence.FailedUnit{Name: fields[0], Result: fields[3]})
	}
	return out, scanner.Err()
}

func parseNetworkAddrs(stdout []byte) (any, error) {
	return string(stdout), nil
}

func parseJournalLines(stdout []byte) (any, error) {
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
