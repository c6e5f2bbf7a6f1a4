package evidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureThenLatestRoundTrips(t *testing.T) {
	s := NewStore(4)
	now := time.Now()
	payload := []DiskUsage{{Mount: "/", UsedPct: 45}}

	id := s.Capture(Disk, payload, now)
	assert.NotEmpty(t, id)

	ev, age, ok := s.Latest(Disk, now.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, payload, ev.Payload)
	assert.Equal(t, time.Second, age)
}

func TestLatestUnknownKind(t *testing.T) {
	s := NewStore(4)
	_, _, ok := s.Latest(Memory, time.Now())
	assert.False(t, ok)
}

func TestSnapshotDeclinesWhenStale(t *testing.T) {
	s := NewStore(4)
	now := time.Now()
	s.Capture(Disk, []DiskUsage{{Mount: "/", UsedPct: 10}}, now)
	s.CommitSnapshot(now)

	_, ok := s.Snapshot(600*time.Second, now.Add(601*time.Second))
	assert.False(t, ok)

	_, ok = s.Snapshot(600*time.Second, now.Add(599*time.Second))
	assert.True(t, ok)
}

func TestCommitSnapshotRingBufferEvictsOldest(t *testing.T) {
	s := NewStore(2)
	now := time.Now()

	seqs := []uint64{}
	for i := 0; i < 5; i++ {
		snap := s.CommitSnapshot(now.Add(time.Duration(i) * time.Second))
		seqs = append(seqs, snap.Seq)
	}

	history := s.History(0)
	require.Len(t, history, 2)
	assert.Equal(t, seqs[4], history[0].Seq)
	assert.Equal(t, seqs[3], history[1].Seq)
}

func TestSnapshotSeqMonotonicallyIncreases(t *testing.T) {
	s := NewStore(4)
	now := time.Now()
	a := s.CommitSnapshot(now)
	b := s.CommitSnapshot(now.Add(time.Second))
	assert.Less(t, a.Seq, b.Seq)
}

func TestEvidenceFreshUsesPerKindPolicy(t *testing.T) {
	now := time.Now()
	ev := Evidence{Kind: Disk, CapturedAt: now.Add(-4 * time.Minute)}
	assert.True(t, ev.Fresh(now))

	stale := Evidence{Kind: Memory, CapturedAt: now.Add(-4 * time.Minute)}
	assert.False(t, stale.Fresh(now))
}
