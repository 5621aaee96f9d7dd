package store

import (
	"errors"
	"testing"
	"time"

	"cip-pipeline/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) {
	t.Helper()
	require.NoError(t, InitDB(":memory:"))
	t.Cleanup(func() { Close() })
}

func testSpec() model.PipelineJobSpec {
	c := model.DefaultCompliance()
	return model.PipelineJobSpec{
		Source:     model.Source{Type: "csv", URL: "data/cip.csv"},
		Columns:    map[string]string{"line": "Production Line"},
		Compliance: &c,
		Export:     &model.Export{Dir: "out", Formats: []string{"csv"}},
		Workers:    model.Workers{Gap: 2},
	}
}

func TestJobLifecycle(t *testing.T) {
	setupDB(t)

	require.NoError(t, SaveJob("job-1", testSpec()))
	job, err := GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, model.StatusPending, job.Status)
	assert.Equal(t, testSpec(), job.Spec)
	assert.False(t, job.CreatedAt.IsZero())

	require.NoError(t, UpdateJobStatus("job-1", model.StatusRunning))
	job, err = GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, job.Status)

	require.NoError(t, SaveJob("job-2", testSpec()))
	jobs, err := ListJobs()
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestNotFound(t *testing.T) {
	setupDB(t)

	_, err := GetJob("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.ErrorIs(t, UpdateJobStatus("nope", model.StatusFailed), ErrNotFound)
	_, err = GetReport("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	jobs, err := ListJobs()
	require.NoError(t, err)
	assert.NotNil(t, jobs)
	assert.Empty(t, jobs)
}

func TestJobErrors(t *testing.T) {
	setupDB(t)
	require.NoError(t, SaveJob("job-1", testSpec()))

	require.NoError(t, SaveJobError("job-1", model.StageIngest, errors.New("missing required columns: line")))
	require.NoError(t, SaveJobError("job-1", model.StageExport, errors.New("disk full")))
	require.NoError(t, SaveJobError("job-1", model.StageExport, nil))

	errs, err := GetJobErrors("job-1")
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, model.StageIngest, errs[0].Stage)
	assert.Equal(t, "missing required columns: line", errs[0].Message)
	assert.Equal(t, "disk full", errs[1].Message)
	assert.Less(t, errs[0].ID, errs[1].ID)
}

func TestStageProgress(t *testing.T) {
	setupDB(t)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, SaveStageProgress("job-1", model.StageMetrics{
		Stage: model.StageIngest, Status: model.StatusRunning, StartTime: start, RecordsIn: 0,
	}))
	require.NoError(t, SaveStageProgress("job-1", model.StageMetrics{
		Stage: model.StageIngest, Status: model.StatusCompleted, StartTime: start,
		EndTime: start.Add(time.Second), Duration: time.Second, RecordsOut: 5,
	}))
	require.NoError(t, SaveStageProgress("job-1", model.StageMetrics{
		Stage: model.StageFilter, Status: model.StatusRunning, StartTime: start.Add(2 * time.Second), RecordsIn: 5,
	}))

	stages, err := GetStageProgress("job-1")
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, model.StageIngest, stages[0].Stage)
	assert.Equal(t, model.StatusCompleted, stages[0].Status)
	assert.Equal(t, time.Second, stages[0].Duration)
	assert.Equal(t, 5, stages[0].RecordsOut)
	assert.True(t, stages[0].EndTime.Equal(start.Add(time.Second)))
	assert.True(t, stages[1].EndTime.IsZero())
}

func TestReportRoundTrip(t *testing.T) {
	setupDB(t)
	start := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	gap := 4.0833
	key := model.EntityKey{Line: "L1", Circuit: "C1", Device: "D1"}
	report := &model.Report{
		TotalCount:   2,
		ValidCount:   1,
		OutlierCount: 1,
		Compliance:   model.DefaultCompliance(),
		EntityStats:  []model.EntityStats{{Entity: key, Level: model.LevelDevice, CycleCount: 1}},
		Records: []model.CleanedRecord{{
			RawRecord:   model.RawRecord{Row: 1, Line: "L1", Circuit: "C1", Device: "D1", AlkaliConductivity: "1.9"},
			Entity:      key,
			Start:       &start,
			TimeGapDays: &gap,
			Flags:       model.FlagEndUnparsed,
		}},
		Outliers: []model.OutlierRecord{{
			RawRecord: model.RawRecord{Row: 0, ReturnFlowRate: "0"},
			Reasons:   []string{model.ReasonZeroReturnFlow},
		}},
	}
	require.NoError(t, SaveReport("job-1", report))
	require.NoError(t, SaveReport("job-1", report), "saving again replaces")

	got, err := GetReport("job-1")
	require.NoError(t, err)
	assert.Equal(t, report.TotalCount, got.TotalCount)
	assert.Equal(t, report.Compliance, got.Compliance)
	assert.Equal(t, report.EntityStats, got.EntityStats)
	assert.Equal(t, report.Outliers, got.Outliers)

	require.Len(t, got.Records, 1)
	rec := got.Records[0]
	assert.Equal(t, report.Records[0].RawRecord, rec.RawRecord)
	assert.Equal(t, key, rec.Entity)
	require.NotNil(t, rec.Start)
	assert.True(t, rec.Start.Equal(start))
	assert.Nil(t, rec.End)
	assert.Equal(t, &gap, rec.TimeGapDays)
	assert.Equal(t, model.FlagEndUnparsed, rec.Flags)
}

func TestResetJob(t *testing.T) {
	setupDB(t)
	require.NoError(t, SaveJob("job-1", testSpec()))
	require.NoError(t, UpdateJobStatus("job-1", model.StatusFailed))
	require.NoError(t, SaveJobError("job-1", model.StageIngest, errors.New("boom")))
	require.NoError(t, SaveStageProgress("job-1", model.StageMetrics{Stage: model.StageIngest, Status: model.StatusFailed, StartTime: time.Now()}))
	require.NoError(t, SaveReport("job-1", &model.Report{}))

	require.NoError(t, ResetJob("job-1"))

	job, err := GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, job.Status)
	errs, err := GetJobErrors("job-1")
	require.NoError(t, err)
	assert.Empty(t, errs)
	stages, err := GetStageProgress("job-1")
	require.NoError(t, err)
	assert.Empty(t, stages)
	_, err = GetReport("job-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, ResetJob("nope"), ErrNotFound)
}
