// Package fastpath implements the Fast-Path Classifier (spec §4.E): a
// deterministic keyword classifier over a small closed set of
// health/usage questions, answered entirely from the Evidence Store
// without invoking the Translator or a specialist.
package fastpath

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anna-assistant/annad/internal/evidence"
)

// Class is the closed set of fast-path question classes (§4.E).
type Class string

const (
	SystemHealth   Class = "system_health"
	DiskUsage      Class = "disk_usage"
	MemoryUsage    Class = "memory_usage"
	FailedServices Class = "failed_services"
	WhatChanged    Class = "what_changed"
	NotFastPath    Class = "not_fast_path"
)

// keywordRules is evaluated in order; the first matching rule wins. Order
// matters because "disk" and "memory" questions can both mention "system".
var keywordRules = []struct {
	class    Class
	keywords []string
}{
	{DiskUsage, []string{"disk", "disk space", "disk usage", "storage full", "out of space"}},
	{MemoryUsage, []string{"memory", "ram", "swap"}},
	{FailedServices, []string{"failed service", "failed unit", "service down", "crashed service"}},
	{WhatChanged, []string{"what changed", "what updated", "recent update", "recently installed", "package log"}},
	{SystemHealth, []string{"system health", "how is the system", "is everything ok", "health check", "status of the system"}},
}

// Classify applies the fixed keyword rules to text (§4.E). Matching is
// case-insensitive substring containment; the first rule whose keyword
// appears in text wins.
func Classify(text string) Class {
	lower := strings.ToLower(text)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.class
			}
		}
	}
	return NotFastPath
}

// requiredKinds lists the evidence this class needs for a "complete"
// answer (§4.E "Reliability hint ≥ 85 when evidence is complete").
var requiredKinds = map[Class][]evidence.Kind{
	DiskUsage:      {evidence.Disk},
	MemoryUsage:    {evidence.Memory},
	FailedServices: {evidence.FailedUnits},
	WhatChanged:    {evidence.Logs},
	SystemHealth:   {evidence.Disk, evidence.Memory, evidence.FailedUnits},
}

// Answer is the fully-rendered fast-path response (§4.E).
type Answer struct {
	Class           Class
	Text            string
	UsedKinds       []evidence.Kind
	ReliabilityHint int
}

// MaxSnapshotAge bounds how stale a Snapshot may be and still back a
// fast-path answer (§4.E "If the snapshot is stale or missing, fast-path
// declines"). It intentionally matches the tightest per-kind freshness
// policy (§4.A) rather than the loosest, since a fast-path answer is
// judged by its least-fresh constituent kind.
const MaxSnapshotAge = 60 * time.Second

// Evaluate produces a fast-path Answer for class from store's latest
// Snapshot, or ok=false if class is NotFastPath, the snapshot is stale or
// missing, it holds none of the class's required kinds, or rendering fails.
// A snapshot holding only some required kinds still answers, with a
// reliability hint below 85.
func Evaluate(class Class, store *evidence.Store, now time.Time) (Answer, bool) {
	if class == NotFastPath {
		return Answer{}, false
	}

	snap, ok := store.Snapshot(MaxSnapshotAge, now)
	if !ok {
		return Answer{}, false
	}

	needed := requiredKinds[class]
	used := make([]evidence.Kind, 0, len(needed))
	present := 0
	for _, kind := range needed {
		if ev, ok := snap.Evidence[kind]; ok {
			used = append(used, kind)
			present++
			_ = ev
		}
	}
	if present == 0 {
		return Answer{}, false
	}

	text, err := render(class, snap)
	if err != nil {
		return Answer{}, false
	}

	hint := 50 + (present*50)/len(needed)
	if present == len(needed) {
		hint = 85
	}

	sort.Slice(used, func(i, j int) bool { return used[i] < used[j] })
	return Answer{Class: class, Text: text, UsedKinds: used, ReliabilityHint: hint}, true
}

func render(class Class, snap evidence.Snapshot) (string, error) {
	switch class {
	case DiskUsage:
		return renderDiskUsage(snap)
	case MemoryUsage:
		return renderMemoryUsage(snap)
	case FailedServices:
		return renderFailedServices(snap)
	case WhatChanged:
		return renderWhatChanged(snap)
	case SystemHealth:
		return renderSystemHealth(snap)
	default:
		return "", fmt.Errorf("fastpath: no renderer for class %q", class)
	}
}

func renderDiskUsage(snap evidence.Snapshot) (string, error) {
	ev, ok := snap.Evidence[evidence.Disk]
	if !ok {
		return "", fmt.Errorf("fastpath: missing disk evidence")
	}
	mounts, ok := ev.Payload.([]evidence.DiskUsage)
	if !ok {
		return "", fmt.Errorf("fastpath: unexpected disk payload type")
	}

	var b strings.Builder
	b.WriteString("Disk usage:")
	for _, m := range mounts {
		flag := ""
		if m.UsedPct >= 90 {
			flag = " (critical)"
		} else if m.UsedPct >= 80 {
			flag = " (high)"
		}
		fmt.Fprintf(&b, " %s %.1f%%%s;", m.Mount, m.UsedPct, flag)
	}
	return strings.TrimSuffix(b.String(), ";"), nil
}

func renderMemoryUsage(snap evidence.Snapshot) (string, error) {
	ev, ok := snap.Evidence[evidence.Memory]
	if !ok {
		return "", fmt.Errorf("fastpath: missing memory evidence")
	}
	mem, ok := ev.Payload.(evidence.MemoryUsage)
	if !ok {
		return "", fmt.Errorf("fastpath: unexpected memory payload type")
	}

	pct := 0.0
	if mem.TotalBytes > 0 {
		pct = 100 * float64(mem.UsedBytes) / float64(mem.TotalBytes)
	}
	flag := ""
	if pct >= 90 {
		flag = " (critical)"
	} else if pct >= 80 {
		flag = " (high)"
	}
	return fmt.Sprintf("Memory usage: %.1f%% (%d/%d bytes)%s", pct, mem.UsedBytes, mem.TotalBytes, flag), nil
}

func renderFailedServices(snap evidence.Snapshot) (string, error) {
	ev, ok := snap.Evidence[evidence.FailedUnits]
	if !ok {
		return "", fmt.Errorf("fastpath: missing failed_units evidence")
	}
	units, ok := ev.Payload.([]evidence.FailedUnit)
	if !ok {
		return "", fmt.Errorf("fastpath: unexpected failed_units payload type")
	}
	if len(units) == 0 {
		return "No failed services.", nil
	}

	var b strings.Builder
	b.WriteString("Failed services:")
	for _, u := range units {
		fmt.Fprintf(&b, " %s (%s);", u.Name, u.Result)
	}
	return strings.TrimSuffix(b.String(), ";"), nil
}

func renderWhatChanged(snap evidence.Snapshot) (string, error) {
	ev, ok := snap.Evidence[evidence.Logs]
	if !ok {
		return "", fmt.Errorf("fastpath: missing logs evidence")
	}
	changes, ok := ev.Payload.([]evidence.PackageChange)
	if !ok {
		return "", fmt.Errorf("fastpath: unexpected logs payload type")
	}
	if len(changes) == 0 {
		return "No recent package changes.", nil
	}

	var b strings.Builder
	b.WriteString("Recent package changes:")
	for _, c := range changes {
		fmt.Fprintf(&b, " %s %s (%s);", c.Package, c.Action, c.When.Format(time.RFC3339))
	}
	return strings.TrimSuffix(b.String(), ";"), nil
}

func renderSystemHealth(snap evidence.Snapshot) (string, error) {
	var parts []string
	if s, err := renderDiskUsage(snap); err == nil {
		parts = append(parts, s)
	}
	if s, err := renderMemoryUsage(snap); err == nil {
		parts = append(parts, s)
	}
	if s, err := renderFailedServices(snap); err == nil {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("fastpath: no evidence available for system health")
	}
	return strings.Join(parts, " "), nil
}
