// Package metrics exposes pipeline counters for prometheus scraping and for
// node-exporter style textfile dumps.
package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cip-pipeline/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "cip"

// Pipeline holds the collectors of one registry. A nil *Pipeline is valid and
// observes nothing.
type Pipeline struct {
	registry *prometheus.Registry

	ingested      prometheus.Counter
	valid         prometheus.Counter
	outliers      prometheus.Counter
	runs          *prometheus.CounterVec
	duration      prometheus.Histogram
	gapCompliance *prometheus.GaugeVec
}

// New registers the pipeline collectors on a fresh registry.
func New() *Pipeline {
	p := &Pipeline{
		registry: prometheus.NewRegistry(),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Raw records read from sources.",
		}),
		valid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_valid_total",
			Help:      "Records that passed the outlier filter.",
		}),
		outliers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_outlier_total",
			Help:      "Records excluded as outliers.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by final status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		gapCompliance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gap_compliance_rate",
			Help:      "Percentage of cleaning gaps within the allowed interval, per device.",
		}, []string{"line", "circuit", "device"}),
	}
	p.registry.MustRegister(p.ingested, p.valid, p.outliers, p.runs, p.duration, p.gapCompliance)
	return p
}

// ObserveReport adds the counts of report and publishes its per-device gap
// compliance. Devices with an undefined rate are not published.
func (p *Pipeline) ObserveReport(report *model.Report) {
	if p == nil || report == nil {
		return
	}
	p.ingested.Add(float64(report.TotalCount))
	p.valid.Add(float64(report.ValidCount))
	p.outliers.Add(float64(report.OutlierCount))
	for _, s := range report.EntityStats {
		if s.GapComplianceRate == nil {
			continue
		}
		p.gapCompliance.WithLabelValues(s.Entity.Line, s.Entity.Circuit, s.Entity.Device).Set(*s.GapComplianceRate)
	}
}

// ObserveRun counts a finished run.
func (p *Pipeline) ObserveRun(status string, elapsed time.Duration) {
	if p == nil {
		return
	}
	p.runs.WithLabelValues(status).Inc()
	p.duration.Observe(elapsed.Seconds())
}

// Handler serves the registry in the prometheus exposition format.
func (p *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Gather returns the current metric families.
func (p *Pipeline) Gather() ([]*dto.MetricFamily, error) {
	return p.registry.Gather()
}

// WriteTextfile writes the registry in text format to path, replacing the file
// atomically.
func (p *Pipeline) WriteTextfile(path string) error {
	families, err := p.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create metrics dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return os.Rename(tmp, path)
}
