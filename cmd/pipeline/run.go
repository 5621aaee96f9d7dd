package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"cip-pipeline/internal/metrics"
	"cip-pipeline/internal/model"
	"cip-pipeline/internal/pipeline"
	"cip-pipeline/pkg/utils"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type runParams struct {
	input       string
	sourceType  string
	out         string
	formats     []string
	groupBy     string
	workers     int
	metricsFile string
	jobID       string
}

func runCommand(global *globalParams) *cobra.Command {
	params := &runParams{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once over a CIP log and export the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, global, params)
		},
	}
	cmd.Flags().StringVarP(&params.input, "input", "i", "", "CSV/JSON file or http(s) URL (default source.url)")
	cmd.Flags().StringVar(&params.sourceType, "type", "", "source type: csv or json (default source.type)")
	cmd.Flags().StringVarP(&params.out, "out", "o", "", "output root directory (default export.dir)")
	cmd.Flags().StringSliceVarP(&params.formats, "format", "f", nil, "export formats: csv, json, parquet (default export.formats)")
	cmd.Flags().StringVar(&params.groupBy, "group-by", "", "extra aggregation level: device, circuit or line")
	cmd.Flags().IntVar(&params.workers, "workers", 0, "concurrent entity groups (default pipeline.workers.gap)")
	cmd.Flags().StringVar(&params.metricsFile, "metrics-file", "", "write prometheus text metrics to this file")
	cmd.Flags().StringVar(&params.jobID, "job-id", "", "output subdirectory name (default a new UUID)")
	return cmd
}

func runPipeline(cmd *cobra.Command, global *globalParams, params *runParams) error {
	cfg, logger, err := global.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	spec := model.PipelineJobSpec{
		Source:  model.Source{Type: params.sourceType, URL: params.input},
		Workers: model.Workers{Gap: params.workers},
	}
	if params.out != "" || len(params.formats) > 0 {
		spec.Export = &model.Export{Dir: params.out, Formats: params.formats}
	}
	if params.groupBy != "" {
		c := cfg.Compliance
		c.GroupBy = model.GroupLevel(params.groupBy)
		if !c.GroupBy.Valid() {
			return fmt.Errorf("--group-by: unknown level %q", params.groupBy)
		}
		spec.Compliance = &c
	}
	spec = cfg.Resolve(spec)
	if spec.Source.URL == "" {
		return fmt.Errorf("no input: pass --input or set source.url")
	}

	jobID := params.jobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	report, results, err := pipeline.Run(ctx, jobID, spec.Source, pipeline.Options{
		Compliance: *spec.Compliance,
		Workers:    spec.Workers,
		Columns:    spec.Columns,
		Retry:      cfg.Retry,
		Export:     spec.Export,
		Logger:     logger,
		Metrics:    m,
		Tracker:    pipeline.NewTracker(),
	})
	if params.metricsFile != "" {
		if werr := m.WriteTextfile(params.metricsFile); werr != nil {
			logger.Sugar().Warnw("write metrics file", "path", params.metricsFile, "error", werr)
		}
	}
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), jobID, report, results)
	return nil
}

func printSummary(w io.Writer, jobID string, report *model.Report, results []model.ExportResult) {
	fmt.Fprintf(w, "job %s: %d records, %d valid, %d outliers\n",
		jobID, report.TotalCount, report.ValidCount, report.OutlierCount)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tCYCLES\tMEAN GAP (d)\tGAP OK %\tALKALI OK %\tNEG GAPS")
	for _, s := range report.EntityStats {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%d\n",
			s.Entity, s.CycleCount,
			dash(s.GapDays.Mean, report.Compliance.Precision),
			dash(s.GapComplianceRate, report.Compliance.Precision),
			dash(s.AlkaliComplianceRate, report.Compliance.Precision),
			s.NegativeGapCount)
	}
	tw.Flush()

	for _, r := range results {
		if r.Success {
			fmt.Fprintf(w, "wrote %s (%d rows)\n", r.Path, r.RecordCount)
		} else {
			fmt.Fprintf(w, "failed %s %s: %s\n", r.Type, r.Table, r.Error)
		}
	}
}

func dash(v *float64, precision int) string {
	if v == nil {
		return "-"
	}
	return utils.FormatFloat(utils.Float(utils.Round(*v, precision)))
}
