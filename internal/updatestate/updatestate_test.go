package updatestate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDefaultsToIdleWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update_state.json")

	m, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, StepIdle, m.State().Step)
}

func TestTransitionPersistsAndRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update_state.json")
	now := time.Now().Truncate(time.Second)

	m, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, m.Transition(StepDownloadAssets, now))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, StepDownloadAssets, reopened.State().Step)
	assert.True(t, reopened.State().UpdatedAt.Equal(now))
}

func TestFailRecordsReasonAndMovesToRollback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update_state.json")
	now := time.Now()

	m, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, m.Fail("checksum mismatch", now))

	assert.Equal(t, StepRollback, m.State().Step)
	assert.Equal(t, "checksum mismatch", m.State().Error)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StepIdle.IsTerminal())
	assert.True(t, StepReleaseLock.IsTerminal())
	assert.False(t, StepAcquireLock.IsTerminal())
	assert.False(t, StepRollback.IsTerminal())
}
