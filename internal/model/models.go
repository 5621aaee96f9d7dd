package model

// Documented compliance defaults.
const (
	DefaultMaxGapDays       = 5.0
	DefaultMinAlkaliMinutes = 30.0
	DefaultPrecision        = 2
	DefaultGroupBy          = LevelDevice
)

// ComplianceConfig parameterizes the metrics aggregator.
type ComplianceConfig struct {
	// MaxGapDays: a gap is compliant when <= this.
	MaxGapDays float64 `json:"maxGapDays" yaml:"max_gap_days" msgpack:"max_gap_days"`
	// MinAlkaliMinutes: an alkali step is compliant when >= this.
	MinAlkaliMinutes float64    `json:"minAlkaliMinutes" yaml:"min_alkali_minutes" msgpack:"min_alkali_minutes"`
	Precision        int        `json:"precision" yaml:"precision" msgpack:"precision"` // decimal places for rates
	GroupBy          GroupLevel `json:"groupBy" yaml:"group_by" msgpack:"group_by"`
}

// DefaultCompliance returns the documented defaults.
func DefaultCompliance() ComplianceConfig {
	return ComplianceConfig{
		MaxGapDays:       DefaultMaxGapDays,
		MinAlkaliMinutes: DefaultMinAlkaliMinutes,
		Precision:        DefaultPrecision,
		GroupBy:          DefaultGroupBy,
	}
}

// Source represents a data source for the pipeline
type Source struct {
	Type string `json:"type" yaml:"type"` // csv, json
	URL  string `json:"url" yaml:"url"`   // file path or http(s) URL
}

// Export defines export targets
type Export struct {
	Dir     string   `json:"dir" yaml:"dir"`         // output root, one subdirectory per job
	Formats []string `json:"formats" yaml:"formats"` // csv, json, parquet
}

// PipelineJobSpec is the body of POST /api/v1/pipelines. Zero fields are
// filled from the server configuration.
type PipelineJobSpec struct {
	Source     Source            `json:"source"`
	Columns    map[string]string `json:"columns,omitempty"` // canonical name -> source header
	Compliance *ComplianceConfig `json:"compliance,omitempty"`
	Export     *Export           `json:"export,omitempty"`
	Workers    Workers           `json:"workers"`
}
