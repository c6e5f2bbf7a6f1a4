package fastpath

import (
	"testing"
	"time"

	"github.com/anna-assistant/annad/internal/evidence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDiskUsage(t *testing.T) {
	assert.Equal(t, DiskUsage, Classify("what's my disk usage"))
	assert.Equal(t, DiskUsage, Classify("am I out of space?"))
}

func TestClassifyMemoryUsage(t *testing.T) {
	assert.Equal(t, MemoryUsage, Classify("how much RAM is free"))
}

func TestClassifyFailedServices(t *testing.T) {
	assert.Equal(t, FailedServices, Classify("any failed service right now"))
}

func TestClassifyWhatChanged(t *testing.T) {
	assert.Equal(t, WhatChanged, Classify("what changed recently on this machine"))
}

func TestClassifySystemHealth(t *testing.T) {
	assert.Equal(t, SystemHealth, Classify("is everything ok"))
}

func TestClassifyNotFastPath(t *testing.T) {
	assert.Equal(t, NotFastPath, Classify("why does firefox keep crashing on startup"))
}

func TestEvaluateDiskUsageFromFreshSnapshot(t *testing.T) {
	store := evidence.NewStore(4)
	now := time.Now()
	store.Capture(evidence.Disk, []evidence.DiskUsage{{Mount: "/", UsedPct: 92.5}}, now)
	store.CommitSnapshot(now)

	ans, ok := Evaluate(DiskUsage, store, now.Add(time.Second))
	require.True(t, ok)
	assert.Contains(t, ans.Text, "92.5%")
	assert.Contains(t, ans.Text, "critical")
	assert.Equal(t, []evidence.Kind{evidence.Disk}, ans.UsedKinds)
	assert.Equal(t, 85, ans.ReliabilityHint)
}

func TestEvaluateDeclinesOnStaleSnapshot(t *testing.T) {
	store := evidence.NewStore(4)
	now := time.Now()
	store.Capture(evidence.Disk, []evidence.DiskUsage{{Mount: "/", UsedPct: 10}}, now)
	store.CommitSnapshot(now)

	_, ok := Evaluate(DiskUsage, store, now.Add(5*time.Minute))
	assert.False(t, ok)
}

func TestEvaluateDeclinesOnMissingSnapshot(t *testing.T) {
	store := evidence.NewStore(4)
	_, ok := Evaluate(DiskUsage, store, time.Now())
	assert.False(t, ok)
}

func TestEvaluateNotFastPathAlwaysDeclines(t *testing.T) {
	store := evidence.NewStore(4)
	_, ok := Evaluate(NotFastPath, store, time.Now())
	assert.False(t, ok)
}

func TestEvaluateSystemHealthPartialEvidenceLowersHint(t *testing.T) {
	store := evidence.NewStore(4)
	now := time.Now()
	store.Capture(evidence.Disk, []evidence.DiskUsage{{Mount: "/", UsedPct: 10}}, now)
	store.CommitSnapshot(now)

	ans, ok := Evaluate(SystemHealth, store, now)
	require.True(t, ok)
	assert.Less(t, ans.ReliabilityHint, 85)
	assert.Equal(t, []evidence.Kind{evidence.Disk}, ans.UsedKinds)
}

func TestEvaluateFailedServicesEmptyListIsHealthy(t *testing.T) {
	store := evidence.NewStore(4)
	now := time.Now()
	store.Capture(evidence.FailedUnits, []evidence.FailedUnit{}, now)
	store.CommitSnapshot(now)

	ans, ok := Evaluate(FailedServices, store, now)
	require.True(t, ok)
	assert.Equal(t, "No failed services.", ans.Text)
}
