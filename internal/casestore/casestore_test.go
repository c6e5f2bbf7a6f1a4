package casestore

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCase(id string, status Status, score int, createdAt time.Time) CaseFile {
	return CaseFile{
		CaseID:        id,
		CreatedAt:     createdAt,
		Status:        status,
		UserRequest:   "check disk",
		VerifierScore: score,
	}
}

func TestNextCaseIDFormatsAndIncrementsWithinDay(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	id1, err := s.NextCaseID(now)
	require.NoError(t, err)
	assert.Equal(t, "CN-0001-01012026", id1)

	id2, err := s.NextCaseID(now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "CN-0002-01012026", id2)
}

func TestNextCaseIDResetsAcrossDayBoundary(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	day1 := time.Date(2026, 1, 1, 23, 59, 59, 0, time.UTC)
	_, err = s.NextCaseID(day1)
	require.NoError(t, err)

	day2 := time.Date(2026, 1, 2, 0, 0, 1, 0, time.UTC)
	id, err := s.NextCaseID(day2)
	require.NoError(t, err)
	assert.Equal(t, "CN-0001-02012026", id)
}

func TestNextCaseIDSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	_, err = s.NextCaseID(now)
	require.NoError(t, err)

	reopened, err := Open(dir)
	require.NoError(t, err)
	id, err := reopened.NextCaseID(now)
	require.NoError(t, err)
	assert.Equal(t, "CN-0002-01012026", id)
}

func TestSaveCaseAndGetRoundTrips(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	cf := sampleCase("CN-0001-01012026", StatusCompleted, 90, time.Now())
	require.NoError(t, s.SaveCase(cf))

	got, ok, err := s.Get("CN-0001-01012026")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SchemaVersion, got.Version)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestAggregateComputesTotalsAndAverage(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.SaveCase(sampleCase("c1", StatusCompleted, 90, time.Now())))
	require.NoError(t, s.SaveCase(sampleCase("c2", StatusFailed, 50, time.Now())))

	stats, err := s.Aggregate()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.CountByStatus[StatusCompleted])
	assert.Equal(t, 1, stats.CountByStatus[StatusFailed])
	assert.Equal(t, 70.0, stats.AverageScore)
}

func TestRecentOrdersNewestFirstAndBoundsSize(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	base := time.Now()
	require.NoError(t, s.SaveCase(sampleCase("old", StatusCompleted, 80, base)))
	require.NoError(t, s.SaveCase(sampleCase("new", StatusCompleted, 80, base.Add(time.Hour))))

	recent, err := s.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].CaseID)
}

func TestScanAllSkipsCorruptedAndFutureSchemaLines(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveCase(sampleCase("good", StatusCompleted, 80, time.Now())))

	f, err := os.OpenFile(s.jsonlPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	_, err = f.WriteString(`{"version":99,"case_id":"future"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cases, err := s.scanAll()
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "good", cases[0].CaseID)
}

func TestCountByStatus(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.SaveCase(sampleCase("c1", StatusCompleted, 90, time.Now())))
	require.NoError(t, s.SaveCase(sampleCase("c2", StatusCompleted, 90, time.Now())))

	count, err := s.CountByStatus(StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
