package pipeline

import (
	"context"
	"time"

	"cip-pipeline/internal/metrics"
	"cip-pipeline/internal/model"

	"go.uber.org/zap"
)

// Options configures one run. Zero Logger, Metrics and Tracker disable the
// corresponding concern.
type Options struct {
	Compliance model.ComplianceConfig
	Workers    model.Workers
	Columns    map[string]string // canonical name -> source header
	Retry      model.RetryConfig
	Export     *model.Export // nil skips the export stage

	Logger  *zap.Logger
	Metrics *metrics.Pipeline
	Tracker *Tracker
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Process runs the core stages over an ingested dataset. Record-level defects
// surface as nulls and flags in the report; the only error is ctx's.
func Process(ctx context.Context, ds *Dataset, opts Options) (*model.Report, error) {
	logger := opts.logger()
	t := opts.Tracker

	t.StartStage(model.StageFilter, len(ds.Records))
	valid, outliers := Partition(ds.Records)
	t.EndStage(model.StageFilter, len(valid))
	logger.Info("outlier filter done",
		zap.String("stage", model.StageFilter),
		zap.Int("valid", len(valid)),
		zap.Int("outliers", len(outliers)))

	t.StartStage(model.StageNormalize, len(valid))
	cleaned := Normalize(valid)
	t.EndStage(model.StageNormalize, len(cleaned))

	workers := opts.Workers.GapOrDefault()
	t.StartStage(model.StageGap, len(cleaned))
	groups, err := Sequence(ctx, cleaned, workers)
	if err != nil {
		return nil, err
	}
	t.EndStage(model.StageGap, len(groups))
	logger.Info("gap calculation done",
		zap.String("stage", model.StageGap),
		zap.Int("entities", len(groups)),
		zap.Int("workers", workers))

	// Aggregation happens inside Assemble; both are tracked as one pure step.
	t.StartStage(model.StageAggregate, len(groups))
	report := Assemble(ds, outliers, groups, opts.Compliance)
	t.EndStage(model.StageAggregate, len(report.EntityStats))

	logger.Info("report assembled",
		zap.String("stage", model.StageAssemble),
		zap.Int("total", report.TotalCount),
		zap.Int("valid", report.ValidCount),
		zap.Int("outliers", report.OutlierCount),
		zap.Int("entities", len(report.EntityStats)))
	return report, nil
}

// Run ingests source, processes it and, when opts.Export is set, writes the
// configured output tables under the job's output directory. A
// *StructuralError from ingestion aborts the run before any output. An
// export failure still returns the report and the per-file results.
func Run(ctx context.Context, jobID string, source model.Source, opts Options) (*model.Report, []model.ExportResult, error) {
	start := time.Now()
	logger := opts.logger().With(zap.String("job_id", jobID))
	opts.Logger = logger
	t := opts.Tracker

	fail := func(stage string, err error) (*model.Report, []model.ExportResult, error) {
		t.FailStage(stage, err)
		opts.Metrics.ObserveRun(model.StatusFailed, time.Since(start))
		logger.Error("pipeline failed", zap.String("stage", stage), zap.Error(err))
		return nil, nil, err
	}

	t.StartStage(model.StageIngest, 0)
	ds, err := Ingest(ctx, source, opts.Columns, opts.Retry, logger)
	if err != nil {
		return fail(model.StageIngest, err)
	}
	t.EndStage(model.StageIngest, len(ds.Records))
	if err := ctx.Err(); err != nil {
		return fail(model.StageIngest, err)
	}

	report, err := Process(ctx, ds, opts)
	if err != nil {
		return fail(model.StageGap, err)
	}
	opts.Metrics.ObserveReport(report)

	var results []model.ExportResult
	if opts.Export != nil {
		t.StartStage(model.StageExport, report.ValidCount)
		results, err = Export(ctx, report, jobID, *opts.Export, logger)
		if err != nil {
			_, _, err = fail(model.StageExport, err)
			return report, results, err
		}
		t.EndStage(model.StageExport, len(results))
	}

	opts.Metrics.ObserveRun(model.StatusCompleted, time.Since(start))
	logger.Info("pipeline completed", zap.Duration("elapsed", time.Since(start)))
	return report, results, nil
}
