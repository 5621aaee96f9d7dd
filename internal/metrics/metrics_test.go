package metrics

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cip-pipeline/internal/model"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rate(v float64) *float64 { return &v }

// gathered returns the metric family called name, failing the test if absent.
func gathered(t *testing.T, p *Pipeline, name string) *dto.MetricFamily {
	t.Helper()
	families, err := p.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func sampleReport() *model.Report {
	return &model.Report{
		TotalCount:   5,
		ValidCount:   4,
		OutlierCount: 1,
		EntityStats: []model.EntityStats{
			{Entity: model.EntityKey{Line: "L1", Circuit: "C1", Device: "D1"}, GapComplianceRate: rate(100)},
			{Entity: model.EntityKey{Line: "L1", Circuit: "C1", Device: "D2"}},
			{Entity: model.EntityKey{Line: "L2", Circuit: "C9", Device: "D7"}, GapComplianceRate: rate(50)},
		},
	}
}

func TestObserveReport(t *testing.T) {
	p := New()
	p.ObserveReport(sampleReport())
	p.ObserveReport(sampleReport())

	assert.Equal(t, 10.0, gathered(t, p, "cip_records_ingested_total").GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 8.0, gathered(t, p, "cip_records_valid_total").GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 2.0, gathered(t, p, "cip_records_outlier_total").GetMetric()[0].GetCounter().GetValue())

	gauges := gathered(t, p, "cip_gap_compliance_rate").GetMetric()
	require.Len(t, gauges, 2, "devices without a rate are skipped")
	values := map[string]float64{}
	for _, m := range gauges {
		values[labelValue(m, "device")] = m.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{"D1": 100, "D7": 50}, values)
}

func TestObserveRun(t *testing.T) {
	p := New()
	p.ObserveRun(model.StatusCompleted, 20*time.Millisecond)
	p.ObserveRun(model.StatusFailed, time.Second)
	p.ObserveRun(model.StatusCompleted, 30*time.Millisecond)

	runs := map[string]float64{}
	for _, m := range gathered(t, p, "cip_pipeline_runs_total").GetMetric() {
		runs[labelValue(m, "status")] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{model.StatusCompleted: 2, model.StatusFailed: 1}, runs)

	h := gathered(t, p, "cip_pipeline_duration_seconds").GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(3), h.GetSampleCount())
	assert.InDelta(t, 1.05, h.GetSampleSum(), 1e-9)
}

func TestNilPipeline(t *testing.T) {
	var p *Pipeline
	assert.NotPanics(t, func() {
		p.ObserveReport(sampleReport())
		p.ObserveRun(model.StatusCompleted, time.Second)
	})
}

func TestWriteTextfile(t *testing.T) {
	p := New()
	p.ObserveReport(sampleReport())
	p.ObserveRun(model.StatusCompleted, time.Second)

	path := filepath.Join(t.TempDir(), "textfile", "cip.prom")
	require.NoError(t, p.WriteTextfile(path))
	assert.NoFileExists(t, path+".tmp")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	require.NoError(t, err)
	require.Contains(t, families, "cip_records_ingested_total")
	assert.Equal(t, 5.0, families["cip_records_ingested_total"].GetMetric()[0].GetCounter().GetValue())
	require.Contains(t, families, "cip_gap_compliance_rate")
	assert.Len(t, families["cip_gap_compliance_rate"].GetMetric(), 2)
	assert.Contains(t, families, "cip_pipeline_duration_seconds")
}

func TestHandler(t *testing.T) {
	p := New()
	p.ObserveReport(sampleReport())

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `cip_gap_compliance_rate{circuit="C1",device="D1",line="L1"} 100`)
}
