package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anna-assistant/annad/internal/evidence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	out []byte
	err error
}

func (f fakeRunner) Run(ctx context.Context, command string, argv []string, timeout time.Duration) ([]byte, error) {
	return f.out, f.err
}

func diskParser(stdout []byte) (any, error) {
	return []evidence.DiskUsage{{Mount: "/", UsedPct: 45}}, nil
}

func TestRunCapturesEvidenceOnSuccess(t *testing.T) {
	store := evidence.NewStore(4)
	reg := NewRegistry(fakeRunner{out: []byte("ignored")})
	reg.Register(Definition{ID: "df", Command: "df", Emits: evidence.Disk, Timeout: time.Second, Parser: diskParser})

	now := time.Now()
	res := reg.Run(context.Background(), "df", store, now)
	require.False(t, res.Failed)

	ev, _, ok := store.Latest(evidence.Disk, now)
	require.True(t, ok)
	assert.Equal(t, []evidence.DiskUsage{{Mount: "/", UsedPct: 45}}, ev.Payload)
}

func TestRunUnknownProbe(t *testing.T) {
	reg := NewRegistry(fakeRunner{})
	res := reg.Run(context.Background(), "nope", evidence.NewStore(4), time.Now())
	assert.True(t, res.Failed)
}

func TestRunTimeoutDoesNotTouchEvidenceStore(t *testing.T) {
	store := evidence.NewStore(4)
	reg := NewRegistry(fakeRunner{err: errors.New("boom")})
	reg.Register(Definition{ID: "df", Command: "df", Emits: evidence.Disk, Timeout: time.Second, Parser: diskParser})

	res := reg.Run(context.Background(), "df", store, time.Now())
	assert.True(t, res.Failed)

	_, _, ok := store.Latest(evidence.Disk, time.Now())
	assert.False(t, ok)
}

func TestRunManyFallsBackToFreshEvidenceOnFailure(t *testing.T) {
	store := evidence.NewStore(4)
	now := time.Now()
	store.Capture(evidence.Disk, []evidence.DiskUsage{{Mount: "/", UsedPct: 30}}, now.Add(-30*time.Second))

	reg := NewRegistry(fakeRunner{err: errors.New("boom")})
	reg.Register(Definition{ID: "df", Command: "df", Emits: evidence.Disk, Timeout: time.Second, Parser: diskParser})

	results := reg.RunMany(context.Background(), []string{"df"}, store, now)
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed)
	assert.Equal(t, []evidence.DiskUsage{{Mount: "/", UsedPct: 30}}, results[0].Payload)
}

func TestRunManyNoFallbackWhenEvidenceTooStale(t *testing.T) {
	store := evidence.NewStore(4)
	now := time.Now()
	store.Capture(evidence.Disk, []evidence.DiskUsage{{Mount: "/", UsedPct: 30}}, now.Add(-10*time.Minute))

	reg := NewRegistry(fakeRunner{err: errors.New("boom")})
	reg.Register(Definition{ID: "df", Command: "df", Emits: evidence.Disk, Timeout: time.Second, Parser: diskParser})

	results := reg.RunMany(context.Background(), []string{"df"}, store, now)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Payload)
}

func TestBuildArgvSubstitutesTarget(t *testing.T) {
	argv, err := BuildArgv([]string{"-h", "{target}"}, "/home")
	require.NoError(t, err)
	assert.Equal(t, []string{"-h", "/home"}, argv)
}

func TestBuildArgvRejectsNulByte(t *testing.T) {
	_, err := BuildArgv([]string{"-h\x00"}, "/home")
	assert.Error(t, err)
}
