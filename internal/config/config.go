package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cip-pipeline/internal/model"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultStorePath = "pipeline.db"
	DefaultAddr      = ":8080"
	DefaultExportDir = "output"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Config is the top-level configuration. Fields map 1:1 to cip.yaml.
type Config struct {
	// Compliance holds the aggregator thresholds.
	Compliance model.ComplianceConfig `yaml:"compliance"`

	Pipeline PipelineConfig `yaml:"pipeline"`

	// Columns maps a canonical column name to the header the source uses for it.
	Columns map[string]string `yaml:"columns"`

	// Source is the default input for `pipeline run`.
	Source model.Source `yaml:"source"`

	Export model.Export      `yaml:"export"`
	Store  StoreConfig       `yaml:"store"`
	Server ServerConfig      `yaml:"server"`
	Log    LogConfig         `yaml:"log"`
	Retry  model.RetryConfig `yaml:"retry"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	Workers model.Workers `yaml:"workers"`
}

// StoreConfig configures job persistence.
type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" keeps everything in RAM.
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// DataRoot is the directory API jobs may read local sources from.
	// Empty allows only http(s) sources.
	DataRoot string `yaml:"data_root"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
	// Format is one of: json | console.
	Format string `yaml:"format"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaults()
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Compliance: model.DefaultCompliance(),
		Pipeline: PipelineConfig{
			Workers: model.Workers{Gap: model.DefaultGapWorkers},
		},
		Source: model.Source{Type: "csv"},
		Export: model.Export{
			Dir:     DefaultExportDir,
			Formats: []string{"csv", "json"},
		},
		Store:  StoreConfig{Path: DefaultStorePath},
		Server: ServerConfig{Addr: DefaultAddr},
		Log:    LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Retry:  model.DefaultRetry(),
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	c := cfg.Compliance
	if c.MaxGapDays <= 0 {
		return fmt.Errorf("compliance.max_gap_days must be positive")
	}
	if c.MinAlkaliMinutes < 0 {
		return fmt.Errorf("compliance.min_alkali_minutes must not be negative")
	}
	if c.Precision < 0 || c.Precision > 10 {
		return fmt.Errorf("compliance.precision must be between 0 and 10")
	}
	if !c.GroupBy.Valid() {
		return fmt.Errorf("compliance.group_by: unknown level %q", c.GroupBy)
	}
	if cfg.Pipeline.Workers.Gap < 0 {
		return fmt.Errorf("pipeline.workers.gap must not be negative")
	}

	required := make(map[string]bool, len(model.RequiredColumns))
	for _, col := range model.RequiredColumns {
		required[col] = true
	}
	for col, header := range cfg.Columns {
		if !required[col] {
			return fmt.Errorf("columns: unknown column %q", col)
		}
		if strings.TrimSpace(header) == "" {
			return fmt.Errorf("columns.%s: header is empty", col)
		}
	}

	switch cfg.Source.Type {
	case "", "csv", "json":
	default:
		return fmt.Errorf("source.type: unknown type %q", cfg.Source.Type)
	}
	for i, f := range cfg.Export.Formats {
		switch f {
		case "csv", "json", "parquet":
		default:
			return fmt.Errorf("export.formats[%d]: unknown format %q", i, f)
		}
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Log.Format)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if cfg.Retry.InitialDelay < 0 || cfg.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	return nil
}

// DecodeSpec reads a JSON job spec from r and resolves it against cfg. A
// compliance object in the body is decoded over a copy of cfg.Compliance, so
// keys it omits keep the configured thresholds.
func (cfg *Config) DecodeSpec(r io.Reader) (model.PipelineJobSpec, error) {
	compliance := cfg.Compliance
	spec := model.PipelineJobSpec{Compliance: &compliance}
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return model.PipelineJobSpec{}, err
	}
	return cfg.Resolve(spec), nil
}

// LocalSource maps a local source path onto Server.DataRoot. It rejects
// paths that escape the root, and every local path when no root is set.
// Remote sources are returned unchanged.
func (cfg *Config) LocalSource(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	root := cfg.Server.DataRoot
	if root == "" {
		return "", fmt.Errorf("source.url: local files are disabled, set server.data_root")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("server.data_root: %w", err)
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("source.url: %q is outside server.data_root", path)
	}
	return full, nil
}

// Resolve fills the zero fields of a submitted job spec from cfg. The
// returned spec is fully populated; spec itself is not modified. A non-nil
// spec.Compliance is used as given apart from an empty GroupBy; DecodeSpec
// is the entry point for partial request bodies.
func (cfg *Config) Resolve(spec model.PipelineJobSpec) model.PipelineJobSpec {
	out := spec
	if out.Source.Type == "" {
		out.Source.Type = cfg.Source.Type
	}
	if out.Source.URL == "" {
		out.Source.URL = cfg.Source.URL
	}

	if len(cfg.Columns) > 0 || len(spec.Columns) > 0 {
		cols := make(map[string]string, len(cfg.Columns)+len(spec.Columns))
		for k, v := range cfg.Columns {
			cols[k] = v
		}
		for k, v := range spec.Columns {
			cols[k] = v
		}
		out.Columns = cols
	}

	compliance := cfg.Compliance
	if spec.Compliance != nil {
		compliance = *spec.Compliance
		if compliance.GroupBy == "" {
			compliance.GroupBy = cfg.Compliance.GroupBy
		}
	}
	out.Compliance = &compliance

	export := cfg.Export
	if spec.Export != nil {
		export = *spec.Export
		if export.Dir == "" {
			export.Dir = cfg.Export.Dir
		}
		if len(export.Formats) == 0 {
			export.Formats = cfg.Export.Formats
		}
	}
	out.Export = &export

	if out.Workers.Gap == 0 {
		out.Workers.Gap = cfg.Pipeline.Workers.Gap
	}
	return out
}
