package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"cip-pipeline/internal/model"
	"cip-pipeline/pkg/utils"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"
)

// Export formats.
const (
	FormatCSV     = "csv"
	FormatJSON    = "json"
	FormatParquet = "parquet"
)

// Output table names.
const (
	TableCleaned      = "cleaned"
	TableEntityStats  = "entity_stats"
	TableGroupStats   = "group_stats"
	TableOutliers     = "outliers"
	TableProfiles     = "profiles"
	TableCorrelations = "correlations"
	TableReport       = "report"
)

// Export writes report in every configured format under spec.Dir/jobID.
// A failed file does not stop the others; the joined error is returned
// alongside all results.
func Export(ctx context.Context, report *model.Report, jobID string, spec model.Export, logger *zap.Logger) ([]model.ExportResult, error) {
	om := utils.NewOutputManager(spec.Dir)
	formats := spec.Formats
	if len(formats) == 0 {
		formats = []string{FormatCSV}
	}

	var results []model.ExportResult
	var errs []error
	record := func(format, table, file string, count int, err error) {
		res := model.ExportResult{
			Type:        format,
			Table:       table,
			Path:        file,
			RecordCount: count,
			Success:     err == nil,
			Timestamp:   time.Now().UTC(),
		}
		if err != nil {
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s %s: %w", format, table, err))
			logger.Error("export failed", zap.String("table", table), zap.String("format", format), zap.Error(err))
		} else {
			logger.Info("exported", zap.String("table", table), zap.String("path", file), zap.Int("records", count))
		}
		results = append(results, res)
	}

	for _, format := range formats {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		switch format {
		case FormatCSV:
			for _, t := range reportTables(report) {
				file, err := om.GetOutputFilePath(jobID, t.name+".csv")
				if err == nil {
					err = writeCSV(file, t)
				}
				record(format, t.name, file, len(t.rows), err)
			}
		case FormatJSON:
			file, err := om.GetOutputFilePath(jobID, TableReport+".json")
			if err == nil {
				err = writeJSON(file, report)
			}
			record(format, TableReport, file, len(report.Records), err)
		case FormatParquet:
			file, err := om.GetOutputFilePath(jobID, TableCleaned+".parquet")
			if err == nil {
				err = writeParquet(file, report.Records)
			}
			record(format, TableCleaned, file, len(report.Records), err)
		default:
			record(format, "", "", 0, fmt.Errorf("unsupported export format %q", format))
		}
	}
	return results, errors.Join(errs...)
}

// table is one rectangular output.
type table struct {
	name   string
	header []string
	rows   [][]string
}

func reportTables(r *model.Report) []table {
	tables := []table{
		cleanedTable(r),
		statsTable(TableEntityStats, r.EntityStats),
	}
	if len(r.GroupStats) > 0 {
		tables = append(tables, statsTable(TableGroupStats, r.GroupStats))
	}
	return append(tables, outliersTable(r), profilesTable(r), correlationsTable(r))
}

func writeCSV(path string, t table) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(t.header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := w.WriteAll(t.rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return file.Close()
}

func writeJSON(path string, report *model.Report) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := EncodeReport(file, report); err != nil {
		return err
	}
	return file.Close()
}

// EncodeReport writes the indented JSON form of report.
func EncodeReport(w io.Writer, report *model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func extraValues(rec model.RawRecord, columns []string) []string {
	out := make([]string, len(columns))
	for i := range columns {
		if i < len(rec.Extra) {
			out[i] = rec.Extra[i].Value
		}
	}
	return out
}

func cleanedTable(r *model.Report) table {
	t := table{name: TableCleaned}
	t.header = append(t.header, model.RequiredColumns...)
	t.header = append(t.header, r.ExtraColumns...)
	t.header = append(t.header,
		"entity", "start", "end", "alkali_start", "alkali_end",
		"alkali_duration_minutes", "alkali_duration_status",
		"hotwater_duration_minutes", "hotwater_duration_status",
		"total_duration_minutes", "time_gap_days", "flags")

	for _, rec := range r.Records {
		row := append(rec.Values(), extraValues(rec.RawRecord, r.ExtraColumns)...)
		row = append(row,
			rec.Entity.String(),
			formatTime(rec.Start),
			formatTime(rec.End),
			formatTime(rec.AlkaliStart),
			formatTime(rec.AlkaliEnd),
			strconv.FormatFloat(rec.AlkaliMinutes, 'f', -1, 64),
			string(rec.AlkaliStatus),
			strconv.FormatFloat(rec.HotwaterMinutes, 'f', -1, 64),
			string(rec.HotwaterStatus),
			utils.FormatFloat(rec.TotalMinutes),
			utils.FormatFloat(rec.TimeGapDays),
			rec.Flags.String(),
		)
		t.rows = append(t.rows, row)
	}
	return t
}

func outliersTable(r *model.Report) table {
	t := table{name: TableOutliers}
	t.header = append(t.header, model.RequiredColumns...)
	t.header = append(t.header, r.ExtraColumns...)
	t.header = append(t.header, "reasons")

	for _, rec := range r.Outliers {
		row := append(rec.Values(), extraValues(rec.RawRecord, r.ExtraColumns)...)
		t.rows = append(t.rows, append(row, strings.Join(rec.Reasons, "|")))
	}
	return t
}

var statsHeader = []string{
	"line", "circuit", "device", "level", "cycle_count",
	"gap_count", "gap_mean_days", "gap_min_days", "gap_max_days", "gap_stddev_days",
	"gap_compliant_count", "gap_compliance_rate", "negative_gap_count",
	"total_duration_mean_minutes", "duration_invalid_count",
	"alkali_count", "alkali_mean_minutes", "alkali_compliant_count", "alkali_compliance_rate",
	"hotwater_mean_minutes",
	"alkali_temp_delta_mean", "hotwater_temp_delta_mean",
	"alkali_conductivity_mean", "return_flow_mean",
}

func statsTable(name string, stats []model.EntityStats) table {
	t := table{name: name, header: statsHeader}
	for _, s := range stats {
		t.rows = append(t.rows, []string{
			s.Entity.Line, s.Entity.Circuit, s.Entity.Device, string(s.Level),
			strconv.Itoa(s.CycleCount),
			strconv.Itoa(s.GapDays.Count),
			utils.FormatFloat(s.GapDays.Mean),
			utils.FormatFloat(s.GapDays.Min),
			utils.FormatFloat(s.GapDays.Max),
			utils.FormatFloat(s.GapDays.StdDev),
			strconv.Itoa(s.GapCompliantCount),
			utils.FormatFloat(s.GapComplianceRate),
			strconv.Itoa(s.NegativeGapCount),
			utils.FormatFloat(s.TotalMinutes.Mean),
			strconv.Itoa(s.DurationInvalidCount),
			strconv.Itoa(s.AlkaliMinutes.Count),
			utils.FormatFloat(s.AlkaliMinutes.Mean),
			strconv.Itoa(s.AlkaliCompliantCount),
			utils.FormatFloat(s.AlkaliComplianceRate),
			utils.FormatFloat(s.HotwaterMinutes.Mean),
			utils.FormatFloat(s.AlkaliTempDelta.Mean),
			utils.FormatFloat(s.HotwaterTempDelta.Mean),
			utils.FormatFloat(s.AlkaliConductivity.Mean),
			utils.FormatFloat(s.ReturnFlow.Mean),
		})
	}
	return t
}

func profilesTable(r *model.Report) table {
	t := table{
		name:   TableProfiles,
		header: []string{"line", "parameter", "count", "mean", "std", "min", "p25", "p50", "p75", "max"},
	}
	for _, p := range r.Profiles {
		for _, d := range p.Distributions {
			t.rows = append(t.rows, []string{
				p.Line, d.Parameter, strconv.Itoa(d.Count),
				utils.FormatFloat(d.Mean),
				utils.FormatFloat(d.StdDev),
				utils.FormatFloat(d.Min),
				utils.FormatFloat(d.P25),
				utils.FormatFloat(d.P50),
				utils.FormatFloat(d.P75),
				utils.FormatFloat(d.Max),
			})
		}
	}
	return t
}

func correlationsTable(r *model.Report) table {
	t := table{name: TableCorrelations}
	t.header = append([]string{"line", "parameter"}, ProfileParameterNames()...)
	for _, p := range r.Profiles {
		for i, name := range p.Correlation.Parameters {
			row := []string{p.Line, name}
			for _, v := range p.Correlation.Values[i] {
				row = append(row, utils.FormatFloat(v))
			}
			t.rows = append(t.rows, row)
		}
	}
	return t
}

// cleanedParquetRow is the parquet schema of the cleaned table. Undefined
// numeric values are written as NaN.
type cleanedParquetRow struct {
	Row             int64   `parquet:"name=row, type=INT64"`
	Line            string  `parquet:"name=line, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Circuit         string  `parquet:"name=circuit, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Device          string  `parquet:"name=device, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Program         string  `parquet:"name=program, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	StartUTCISO     string  `parquet:"name=start_utc_iso, type=BYTE_ARRAY, convertedtype=UTF8"`
	EndUTCISO       string  `parquet:"name=end_utc_iso, type=BYTE_ARRAY, convertedtype=UTF8"`
	AlkaliMinutes   float64 `parquet:"name=alkali_duration_minutes, type=DOUBLE"`
	AlkaliStatus    string  `parquet:"name=alkali_duration_status, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	HotwaterMinutes float64 `parquet:"name=hotwater_duration_minutes, type=DOUBLE"`
	HotwaterStatus  string  `parquet:"name=hotwater_duration_status, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TotalMinutes    float64 `parquet:"name=total_duration_minutes, type=DOUBLE"`
	TimeGapDays     float64 `parquet:"name=time_gap_days, type=DOUBLE"`
	ReturnFlow      float64 `parquet:"name=return_flow_rate, type=DOUBLE"`
	AlkaliStartTemp float64 `parquet:"name=alkali_start_temp, type=DOUBLE"`
	AlkaliEndTemp   float64 `parquet:"name=alkali_end_temp, type=DOUBLE"`
	AlkaliCond      float64 `parquet:"name=alkali_conductivity, type=DOUBLE"`
	HotwaterStart   float64 `parquet:"name=hotwater_start_temp, type=DOUBLE"`
	HotwaterEnd     float64 `parquet:"name=hotwater_end_temp, type=DOUBLE"`
	Flags           string  `parquet:"name=flags, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// MarshalCleanedParquet encodes records as a SNAPPY-compressed parquet file.
func MarshalCleanedParquet(records []model.CleanedRecord) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(cleanedParquetRow), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, rec := range records {
		row := cleanedParquetRow{
			Row:             int64(rec.Row),
			Line:            rec.Line,
			Circuit:         rec.Circuit,
			Device:          rec.Device,
			Program:         rec.Program,
			StartUTCISO:     formatTime(rec.Start),
			EndUTCISO:       formatTime(rec.End),
			AlkaliMinutes:   rec.AlkaliMinutes,
			AlkaliStatus:    string(rec.AlkaliStatus),
			HotwaterMinutes: rec.HotwaterMinutes,
			HotwaterStatus:  string(rec.HotwaterStatus),
			TotalMinutes:    valueOrNaN(rec.TotalMinutes),
			TimeGapDays:     valueOrNaN(rec.TimeGapDays),
			ReturnFlow:      valueOrNaN(rec.ReturnFlow),
			AlkaliStartTemp: valueOrNaN(rec.AlkaliStartTempC),
			AlkaliEndTemp:   valueOrNaN(rec.AlkaliEndTempC),
			AlkaliCond:      valueOrNaN(rec.AlkaliCond),
			HotwaterStart:   valueOrNaN(rec.HotwaterStartTempC),
			HotwaterEnd:     valueOrNaN(rec.HotwaterEndTempC),
			Flags:           rec.Flags.String(),
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}

func writeParquet(path string, records []model.CleanedRecord) error {
	data, err := MarshalCleanedParquet(records)
	if err != nil {
		return fmt.Errorf("failed to encode parquet: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
