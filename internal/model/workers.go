package model

// DefaultGapWorkers is used when no worker count is configured.
const DefaultGapWorkers = 4

// Workers defines the fan-out of the per-entity stages.
type Workers struct {
	Gap int `json:"gap" yaml:"gap"` // concurrent entity groups in the gap calculator
}

// GapOrDefault returns the configured gap worker count or the default.
func (w Workers) GapOrDefault() int {
	if w.Gap <= 0 {
		return DefaultGapWorkers
	}
	return w.Gap
}
