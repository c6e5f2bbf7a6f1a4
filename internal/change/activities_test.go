package change

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	outputs map[string]string
	fail    map[string]bool
}

func (f fakeRunner) Run(ctx context.Context, command string) ([]byte, []byte, error) {
	if f.fail[command] {
		return nil, []byte("boom"), fmt.Errorf("command failed: %s", command)
	}
	return []byte(f.outputs[command]), nil, nil
}

func TestBackupActivityContentAddressesFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "conf.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	a := &Activities{Runner: fakeRunner{}, BackupDir: filepath.Join(dir, "backups")}
	records, err := a.BackupActivity(context.Background(), []string{target})
	require.NoError(t, err)
	require.Len(t, records, 1)

	data, err := os.ReadFile(records[0].BackupAt)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestBackupActivityFailsOnMissingTarget(t *testing.T) {
	a := &Activities{Runner: fakeRunner{}, BackupDir: t.TempDir()}
	_, err := a.BackupActivity(context.Background(), []string{"/no/such/file"})
	assert.Error(t, err)
}

func TestApplyActivityStopsAtFirstFailure(t *testing.T) {
	a := &Activities{Runner: fakeRunner{fail: map[string]bool{"step2": true}}}
	steps := []Step{{Command: "step1"}, {Command: "step2"}, {Command: "step3"}}

	result, err := a.ApplyActivity(context.Background(), steps)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedIdx)
	assert.Len(t, result.Results, 2)
	assert.True(t, result.Results[0].Success)
	assert.False(t, result.Results[1].Success)
}

func TestApplyActivityAllSucceed(t *testing.T) {
	a := &Activities{Runner: fakeRunner{}}
	steps := []Step{{Command: "step1"}, {Command: "step2"}}

	result, err := a.ApplyActivity(context.Background(), steps)
	require.NoError(t, err)
	assert.Equal(t, -1, result.FailedIdx)
	assert.Len(t, result.Results, 2)
}

func TestVerifyActivityComparesExpectedToObserved(t *testing.T) {
	a := &Activities{Runner: fakeRunner{outputs: map[string]string{"check1": "active"}}}
	checks := []Verification{{Description: "service active", Command: "check1", Expected: "active"}}

	result, err := a.VerifyActivity(context.Background(), checks)
	require.NoError(t, err)
	assert.True(t, result.AllPassed)
	assert.True(t, result.Checks[0].Passed)
}

func TestVerifyActivityFailsOnMismatch(t *testing.T) {
	a := &Activities{Runner: fakeRunner{outputs: map[string]string{"check1": "inactive"}}}
	checks := []Verification{{Command: "check1", Expected: "active"}}

	result, err := a.VerifyActivity(context.Background(), checks)
	require.NoError(t, err)
	assert.False(t, result.AllPassed)
}

func TestRollbackActivityRunsInReverseOrderAndRestoresBackups(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "conf.txt")
	backupPath := filepath.Join(dir, "backup-copy")
	require.NoError(t, os.WriteFile(backupPath, []byte("original"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("modified"), 0o644))

	a := &Activities{Runner: fakeRunner{}}
	rollbackSteps := []RollbackStep{{StepIndex: 0, Command: "undo0"}, {StepIndex: 1, Command: "undo1"}}
	backups := []BackupRecord{{Path: target, BackupAt: backupPath}}

	results, err := a.RollbackActivity(context.Background(), rollbackSteps, 1, backups)
	require.NoError(t, err)
	require.Len(t, results, 3) // 2 rollback steps + 1 backup restore
	assert.Equal(t, 1, results[0].StepIndex)
	assert.Equal(t, 0, results[1].StepIndex)

	restored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(restored))
}

func TestRollbackActivitySkipsStepsBeyondAttempted(t *testing.T) {
	a := &Activities{Runner: fakeRunner{}}
	rollbackSteps := []RollbackStep{{StepIndex: 0, Command: "undo0"}, {StepIndex: 2, Command: "undo2"}}

	results, err := a.RollbackActivity(context.Background(), rollbackSteps, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].StepIndex)
}
