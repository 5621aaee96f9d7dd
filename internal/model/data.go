package model

import "time"

// Summary holds descriptive statistics over the non-null samples of one
// metric. Every pointer is nil when undefined for the sample count.
type Summary struct {
	Count  int      `json:"count" msgpack:"count"`
	Mean   *float64 `json:"mean" msgpack:"mean"`
	Min    *float64 `json:"min" msgpack:"min"`
	Max    *float64 `json:"max" msgpack:"max"`
	StdDev *float64 `json:"stddev" msgpack:"stddev"` // sample (n-1); nil below 2 samples
}

// EntityStats aggregates the cycles of one key at one grouping level.
type EntityStats struct {
	Entity     EntityKey  `json:"entity" msgpack:"entity"`
	Level      GroupLevel `json:"level" msgpack:"level"`
	CycleCount int        `json:"cycle_count" msgpack:"cycle_count"`

	GapDays           Summary  `json:"gap_days" msgpack:"gap_days"`
	GapCompliantCount int      `json:"gap_compliant_count" msgpack:"gap_compliant_count"`
	GapComplianceRate *float64 `json:"gap_compliance_rate" msgpack:"gap_compliance_rate"`
	NegativeGapCount  int      `json:"negative_gap_count" msgpack:"negative_gap_count"`

	TotalMinutes Summary `json:"total_duration_minutes" msgpack:"total_duration_minutes"`
	// DurationInvalidCount counts cycles left out of TotalMinutes for ending before they start.
	DurationInvalidCount int `json:"duration_invalid_count" msgpack:"duration_invalid_count"`

	AlkaliMinutes        Summary  `json:"alkali_duration_minutes" msgpack:"alkali_duration_minutes"`
	AlkaliCompliantCount int      `json:"alkali_compliant_count" msgpack:"alkali_compliant_count"`
	AlkaliComplianceRate *float64 `json:"alkali_compliance_rate" msgpack:"alkali_compliance_rate"`
	HotwaterMinutes      Summary  `json:"hotwater_duration_minutes" msgpack:"hotwater_duration_minutes"`

	AlkaliTempDelta    Summary `json:"alkali_temp_delta" msgpack:"alkali_temp_delta"`
	HotwaterTempDelta  Summary `json:"hotwater_temp_delta" msgpack:"hotwater_temp_delta"`
	AlkaliConductivity Summary `json:"alkali_conductivity" msgpack:"alkali_conductivity"`
	ReturnFlow         Summary `json:"return_flow" msgpack:"return_flow"`
}

// Distribution is a describe()-style summary of one parameter.
type Distribution struct {
	Parameter string   `json:"parameter" msgpack:"parameter"`
	Count     int      `json:"count" msgpack:"count"`
	Mean      *float64 `json:"mean" msgpack:"mean"`
	StdDev    *float64 `json:"std" msgpack:"std"`
	Min       *float64 `json:"min" msgpack:"min"`
	P25       *float64 `json:"p25" msgpack:"p25"`
	P50       *float64 `json:"p50" msgpack:"p50"`
	P75       *float64 `json:"p75" msgpack:"p75"`
	Max       *float64 `json:"max" msgpack:"max"`
}

// Correlation is a Pearson matrix; Values[i][j] correlates Parameters[i]
// with Parameters[j] and is nil when undefined.
type Correlation struct {
	Parameters []string     `json:"parameters" msgpack:"parameters"`
	Values     [][]*float64 `json:"values" msgpack:"values"`
}

// LineProfile describes the parameter distributions of one production line.
type LineProfile struct {
	Line          string         `json:"line" msgpack:"line"`
	Distributions []Distribution `json:"distributions" msgpack:"distributions"`
	Correlation   Correlation    `json:"correlation" msgpack:"correlation"`
}

// Report is the assembled output of one pipeline run. It carries no
// wall-clock values, so identical input produces identical encodings.
type Report struct {
	TotalCount   int              `json:"total_count" msgpack:"total_count"`
	ValidCount   int              `json:"valid_count" msgpack:"valid_count"`
	OutlierCount int              `json:"outlier_count" msgpack:"outlier_count"`
	Compliance   ComplianceConfig `json:"compliance" msgpack:"compliance"`
	ExtraColumns []string         `json:"extra_columns,omitempty" msgpack:"extra_columns,omitempty"`

	EntityStats []EntityStats `json:"entity_stats" msgpack:"entity_stats"`
	GroupStats  []EntityStats `json:"group_stats" msgpack:"group_stats"`
	Profiles    []LineProfile `json:"profiles" msgpack:"profiles"`

	Records  []CleanedRecord `json:"records" msgpack:"records"`
	Outliers []OutlierRecord `json:"outliers" msgpack:"outliers"`
}

// Select returns the cleaned records matching filter, in report order.
// Empty filter parts match every value.
func (r *Report) Select(filter EntityKey) []CleanedRecord {
	out := make([]CleanedRecord, 0)
	for _, rec := range r.Records {
		if rec.Entity.Matches(filter) {
			out = append(out, rec)
		}
	}
	return out
}

// Stats returns the entity statistics matching filter.
func (r *Report) Stats(filter EntityKey) []EntityStats {
	out := make([]EntityStats, 0)
	for _, s := range r.EntityStats {
		if s.Entity.Matches(filter) {
			out = append(out, s)
		}
	}
	return out
}

// ExportResult represents the result of an export operation
type ExportResult struct {
	Type        string    `json:"type"` // "csv", "json", "parquet"
	Table       string    `json:"table"`
	Path        string    `json:"path"`
	RecordCount int       `json:"record_count"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
