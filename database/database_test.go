package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagespy/models"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJobRunRoundTrip(t *testing.T) {
	db := openTestDB(t)

	run := models.NewJobRun("nightly", "wordcount")
	require.NoError(t, db.SaveJobRun(run))

	got, err := db.GetJobRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, models.RunStatusRunning, got.Status)
}

func TestGetJobRunMissing(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetJobRun("nope")
	assert.Error(t, err)
}

func TestListJobRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)

	old := models.NewJobRun("old", "wordcount")
	old.StartTime = time.Now().Add(-time.Hour)
	recent := models.NewJobRun("recent", "terasort")

	require.NoError(t, db.SaveJobRun(old))
	require.NoError(t, db.SaveJobRun(recent))

	runs, err := db.ListJobRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "recent", runs[0].Name)
	assert.Equal(t, "old", runs[1].Name)
}

func TestSearchJobRuns(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.SaveJobRun(models.NewJobRun("Nightly ETL", "wordcount")))
	require.NoError(t, db.SaveJobRun(models.NewJobRun("adhoc", "terasort")))

	matched, err := db.SearchJobRuns("nightly")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "Nightly ETL", matched[0].Name)

	// Workload names match too.
	matched, err = db.SearchJobRuns("tera")
	require.NoError(t, err)
	assert.Len(t, matched, 1)
}

func TestStageSummariesIndexedByRun(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.SaveStageSummary(&models.StageSummary{
			JobRunID:       "run-a",
			StageID:        i,
			Name:           "stage",
			NumPartitions:  4,
			Status:         models.StageStatusCompleted,
			CompletedTasks: 4,
		}))
	}
	require.NoError(t, db.SaveStageSummary(&models.StageSummary{
		JobRunID: "run-b",
		StageID:  0,
		Status:   models.StageStatusFailed,
	}))

	summaries, err := db.GetStageSummaries("run-a")
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, 0, summaries[0].StageID)
	assert.Equal(t, 2, summaries[2].StageID)

	// Re-saving a stage must not duplicate its index entry.
	require.NoError(t, db.SaveStageSummary(&models.StageSummary{JobRunID: "run-a", StageID: 1}))
	summaries, err = db.GetStageSummaries("run-a")
	require.NoError(t, err)
	assert.Len(t, summaries, 3)

	summaries, err = db.GetStageSummaries("unknown")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestDeleteJobRunDropsSummaries(t *testing.T) {
	db := openTestDB(t)

	run := models.NewJobRun("doomed", "pagerank")
	require.NoError(t, db.SaveJobRun(run))
	require.NoError(t, db.SaveStageSummary(&models.StageSummary{JobRunID: run.ID, StageID: 0}))

	require.NoError(t, db.DeleteJobRun(run.ID))

	_, err := db.GetJobRun(run.ID)
	assert.Error(t, err)

	summaries, err := db.GetStageSummaries(run.ID)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestDatasetRegistry(t *testing.T) {
	db := openTestDB(t)

	cached := &models.DatasetRef{ID: "ds-1", Name: "links", StorageLevel: "MEMORY"}
	plain := &models.DatasetRef{ID: "ds-2"}
	require.NoError(t, db.SaveDataset(cached))
	require.NoError(t, db.SaveDataset(plain))

	got, err := db.GetDataset("ds-1")
	require.NoError(t, err)
	assert.Equal(t, "links", got.Name)
	assert.True(t, got.Cached())

	datasets, err := db.ListDatasets()
	require.NoError(t, err)
	assert.Len(t, datasets, 2)
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)

	done := models.NewJobRun("done", "wordcount")
	done.Complete(false)
	failed := models.NewJobRun("failed", "terasort")
	failed.Complete(true)
	require.NoError(t, db.SaveJobRun(done))
	require.NoError(t, db.SaveJobRun(failed))
	require.NoError(t, db.SaveDataset(&models.DatasetRef{ID: "ds-1", StorageLevel: "DISK"}))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats["total_runs"])
	assert.Equal(t, 1, stats["cached_datasets"])

	byStatus := stats["by_status"].(map[string]int)
	assert.Equal(t, 1, byStatus[models.RunStatusSucceeded])
	assert.Equal(t, 1, byStatus[models.RunStatusFailed])
}
