// Package config loads and watches the pipeline configuration file (cip.yaml).
//
// Top-level sections:
//   - compliance: max_gap_days, min_alkali_minutes, precision, group_by
//   - pipeline.workers.gap: concurrent entity groups in the gap calculator
//   - columns: canonical column name -> source header alias
//   - source: default input (type csv|json, url path or http(s) URL)
//   - export: dir, formats (csv|json|parquet)
//   - store.path, server.addr, server.data_root, log.level, log.format
//   - retry: max_attempts, initial_delay, max_delay, backoff_multiplier, jitter
//
// Load(path) reads the YAML file, applies defaults (5 day gap limit, 30 minute
// alkali minimum, precision 2, device grouping), then validates enums and
// ranges. DecodeSpec reads an API job spec over the loaded defaults and
// Resolve fills its remaining zero fields. LocalSource confines local API
// sources to server.data_root.
//
// Watch(ctx, path, logger, onChange) uses fsnotify so `pipeline serve` picks
// up edited defaults for jobs submitted after the change.
package config
