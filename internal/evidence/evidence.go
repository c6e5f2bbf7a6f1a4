// Package evidence implements the Evidence Store (spec §3.1, §3.2, §4.A):
// typed snapshots of host state, freshness-stamped, serving as the probe
// cache consumed by the fast-path classifier and the specialist runner.
package evidence

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed tagged set of evidence kinds (§3.1).
type Kind string

const (
	Memory       Kind = "memory"
	Cpu          Kind = "cpu"
	Disk         Kind = "disk"
	BlockDevices Kind = "block_devices"
	Services     Kind = "services"
	FailedUnits  Kind = "failed_units"
	Network      Kind = "network"
	Logs         Kind = "logs"
)

// FreshnessPolicies gives the default maximum age per kind before a reader
// must treat stored Evidence as stale (§4.A).
var FreshnessPolicies = map[Kind]time.Duration{
	Memory:       60 * time.Second,
	Cpu:          60 * time.Second,
	Disk:         5 * time.Minute,
	BlockDevices: 15 * time.Minute,
	Services:     60 * time.Second,
	FailedUnits:  60 * time.Second,
	Network:      60 * time.Second,
	Logs:         5 * time.Minute,
}

// DiskUsage is the payload for an individual mount in a Disk Evidence record.
type DiskUsage struct {
	Mount   string  `json:"mount"`
	UsedPct float64 `json:"used_pct"`
}

// MemoryUsage is the payload of a Memory Evidence record.
type MemoryUsage struct {
	TotalBytes uint64 `json:"total_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
}

// FailedUnit is one entry in the payload ([]FailedUnit) of a FailedUnits
// Evidence record, sourced from `systemctl --failed`.
type FailedUnit struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// PackageChange is one entry in the payload ([]PackageChange) of the
// package-log view the Telemetry Sampler derives from the pacman log
// (§4.O), consumed by the WhatChanged fast-path class.
type PackageChange struct {
	Package string    `json:"package"`
	Action  string    `json:"action"` // "installed", "upgraded", "removed"
	When    time.Time `json:"when"`
	OldVer  string    `json:"old_version,omitempty"`
	NewVer  string    `json:"new_version,omitempty"`
}

// Evidence is an immutable, kind-tagged, timestamped record (§3.1). Payload
// is intentionally `any` — it holds a kind-specific struct such as
// []DiskUsage or MemoryUsage; callers type-assert against the Kind field.
type Evidence struct {
	ID         string
	Kind       Kind
	CapturedAt time.Time
	Payload    any
}

// Age returns how long ago this Evidence was captured, relative to now.
func (e Evidence) Age(now time.Time) time.Duration {
	return now.Sub(e.CapturedAt)
}

// Fresh reports whether this Evidence is within its kind's freshness policy.
func (e Evidence) Fresh(now time.Time) bool {
	max, ok := FreshnessPolicies[e.Kind]
	if !ok {
		return true
	}
	return e.Age(now) <= max
}

// Snapshot is an immutable bundle of Evidence captured together by the
// Telemetry Sampler, with a monotonically increasing sequence number (§3.2).
type Snapshot struct {
	Seq        uint64
	CapturedAt time.Time
	Evidence   map[Kind]Evidence
}

// Age returns how long ago this Snapshot was captured, relative to now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

// Store holds the most recent K snapshots and a map of kind to latest
// Evidence (§4.A). The writer holds exclusive access only during append;
// readers never block each other or the writer for longer than a slice
// copy (§5 "no operation should exceed ~1ms of CPU while holding a lock").
type Store struct {
	mu        sync.RWMutex
	capacity  int
	snapshots []Snapshot
	latest    map[Kind]Evidence
	nextSeq   uint64
}

// DefaultCapacity is K = 16 per §4.A.
const DefaultCapacity = 16

// NewStore creates an Evidence Store retaining up to capacity snapshots.
// A capacity <= 0 uses DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		latest:   make(map[Kind]Evidence),
	}
}

// Capture timestamps and records a new Evidence as the latest for kind.
// It does not create a Snapshot; CommitSnapshot bundles the latest
// Evidence and evicts the oldest snapshot once capacity is exceeded.
// Returns the new Evidence's ID.
func (s *Store) Capture(kind Kind, payload any, at time.Time) string {
	ev := Evidence{
		ID:         uuid.NewString(),
		Kind:       kind,
		CapturedAt: at,
		Payload:    payload,
	}

	s.mu.Lock()
	s.latest[kind] = ev
	s.mu.Unlock()

	return ev.ID
}

// Latest returns the most recent Evidence for kind and its age relative to
// now, or ok=false if none has ever been captured.
func (s *Store) Latest(kind Kind, now time.Time) (ev Evidence, age time.Duration, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok = s.latest[kind]
	if !ok {
		return Evidence{}, 0, false
	}
	return ev, ev.Age(now), true
}

// CommitSnapshot bundles the current latest-per-kind map into a new,
// sequenced, immutable Snapshot and appends it to the ring buffer. Readers
// of a committed Snapshot always see a consistent view, never a torn one
// (§5 "Ordering") since the bundle is copied under the write lock.
func (s *Store) CommitSnapshot(at time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	bundle := make(map[Kind]Evidence, len(s.latest))
	for k, v := range s.latest {
		bundle[k] = v
	}

	s.nextSeq++
	snap := Snapshot{Seq: s.nextSeq, CapturedAt: at, Evidence: bundle}

	s.snapshots = append(s.snapshots, snap)
	if len(s.snapshots) > s.capacity {
		s.snapshots = s.snapshots[len(s.snapshots)-s.capacity:]
	}
	return snap
}

// Snapshot returns the most recent Snapshot if its age is at most
// windowAge, or ok=false if there is none or it is older (§3.2, §4.A).
func (s *Store) Snapshot(windowAge time.Duration, now time.Time) (snap Snapshot, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return Snapshot{}, false
	}
	latest := s.snapshots[len(s.snapshots)-1]
	if latest.Age(now) > windowAge {
		return Snapshot{}, false
	}
	return latest, true
}

// History returns up to n most recent snapshots, newest first.
func (s *Store) History(n int) []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.snapshots) {
		n = len(s.snapshots)
	}
	out := make([]Snapshot, n)
	for i := 0; i < n; i++ {
		out[i] = s.snapshots[len(s.snapshots)-1-i]
	}
	return out
}
