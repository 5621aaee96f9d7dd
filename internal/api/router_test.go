package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cip-pipeline/internal/api/handler"
	"cip-pipeline/internal/config"
	"cip-pipeline/internal/metrics"
	"cip-pipeline/internal/model"
	"cip-pipeline/internal/store"
	"cip-pipeline/pkg/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var cipRows = []string{
	"L1,C1,D1,P1,12.5,5/3/24 10:00,5/3/24 11:00,0:35,0:20,80,78,1.9,85,82,5/3/24 10:00,5/3/24 11:00",
	"L1,C1,D1,P1,12.0,1/3/24 07:00,1/3/24 08:00,0:31,0:15,80,78,1.9,85,82,1/3/24 07:00,1/3/24 08:00",
	"L1,C1,D2,P1,11.0,2/3/24 09:00,2/3/24 10:00,0:25,0:10,80,78,1.9,85,82,2/3/24 09:00,2/3/24 10:00",
	"L1,C1,D2,P1,11.0,3/3/24 09:00,3/3/24 10:00,0:00,0:10,80,78,1.9,85,82,3/3/24 09:00,3/3/24 10:00",
	"L2,C9,D7,P1,9.5,4/3/24 06:00,4/3/24 07:30,1:05,0:30,80,78,1.9,85,82,4/3/24 06:00,4/3/24 07:30",
}

type testServer struct {
	t       *testing.T
	h       *handler.PipelineHandler
	r       *router.Router
	dataDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	require.NoError(t, store.InitDB(":memory:"))
	t.Cleanup(func() { store.Close() })

	dataDir := t.TempDir()
	cfg := config.Default()
	cfg.Server.DataRoot = dataDir
	cfg.Export.Dir = t.TempDir()
	cfg.Export.Formats = []string{"csv", "json"}
	cfg.Retry.InitialDelay = time.Millisecond

	m := metrics.New()
	h := handler.NewPipelineHandler(cfg, m, zap.NewNop())
	r := router.New(zap.NewNop())
	RegisterRoutes(r, h, m)
	return &testServer{t: t, h: h, r: r, dataDir: dataDir}
}

func (s *testServer) writeFile(name, body string) string {
	path := filepath.Join(s.dataDir, name)
	require.NoError(s.t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	s.r.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// submit creates a job for the CSV at path and waits for it to finish.
func (s *testServer) submit(spec map[string]interface{}) string {
	rec := s.do(http.MethodPost, "/api/v1/pipelines", spec)
	require.Equal(s.t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID, _ := decode(s.t, rec)["jobID"].(string)
	require.NotEmpty(s.t, jobID)
	s.h.Wait()
	return jobID
}

func cipCSV() string {
	return strings.Join(model.RequiredColumns, ",") + "\n" + strings.Join(cipRows, "\n") + "\n"
}

func TestPipelineLifecycle(t *testing.T) {
	s := newTestServer(t)
	path := s.writeFile("cip.csv", cipCSV())
	jobID := s.submit(map[string]interface{}{"source": map[string]string{"url": path}})
	base := "/api/v1/pipelines/" + jobID

	job := decode(t, s.do(http.MethodGet, base, nil))
	assert.Equal(t, model.StatusCompleted, job["status"])

	results := decode(t, s.do(http.MethodGet, base+"/results", nil))
	assert.Equal(t, 5.0, results["total_count"])
	assert.Equal(t, 4.0, results["valid_count"])
	assert.Equal(t, 1.0, results["outlier_count"])
	assert.Len(t, results["entity_stats"], 3)
	assert.Len(t, results["profiles"], 2)
	files, _ := results["files"].([]interface{})
	assert.NotEmpty(t, files)

	records := decode(t, s.do(http.MethodGet, base+"/records?device=D1", nil))
	assert.Equal(t, 2.0, records["total"])
	list, _ := records["records"].([]interface{})
	require.Len(t, list, 2)
	first := list[0].(map[string]interface{})
	assert.InDelta(t, 4.0833, first["time_gap_days"], 1e-4)

	paged := decode(t, s.do(http.MethodGet, base+"/records?limit=1&offset=1", nil))
	assert.Equal(t, 4.0, paged["total"])
	assert.Len(t, paged["records"], 1)

	stats := decode(t, s.do(http.MethodGet, base+"/stats?line=L2", nil))
	assert.Equal(t, 1.0, stats["count"])

	outliers := decode(t, s.do(http.MethodGet, base+"/outliers", nil))
	assert.Equal(t, 1.0, outliers["total"])

	progress := decode(t, s.do(http.MethodGet, base+"/progress", nil))
	stages, _ := progress["stages"].([]interface{})
	assert.Len(t, stages, 6)

	errs := decode(t, s.do(http.MethodGet, base+"/errors", nil))
	assert.Equal(t, 0.0, errs["count"])

	file := s.do(http.MethodGet, base+"/files/cleaned.csv", nil)
	assert.Equal(t, http.StatusOK, file.Code)
	assert.Equal(t, "text/csv", file.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(file.Body.String(), "line,circuit,device"))

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, base+"/files/missing.csv", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, base+"/files/cip.db", nil).Code)

	list2 := s.do(http.MethodGet, "/api/v1/pipelines", nil)
	assert.Equal(t, http.StatusOK, list2.Code)
	var jobs []model.Job
	require.NoError(t, json.Unmarshal(list2.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 1)
}

func TestPipelineStructuralFailure(t *testing.T) {
	s := newTestServer(t)
	path := s.writeFile("short.csv", "line,circuit\nL1,C1\n")
	jobID := s.submit(map[string]interface{}{"source": map[string]string{"url": path}})
	base := "/api/v1/pipelines/" + jobID

	job := decode(t, s.do(http.MethodGet, base, nil))
	assert.Equal(t, model.StatusFailed, job["status"])

	errs := decode(t, s.do(http.MethodGet, base+"/errors", nil))
	assert.Equal(t, 1.0, errs["count"])
	list := errs["errors"].([]interface{})
	entry := list[0].(map[string]interface{})
	assert.Equal(t, model.StageIngest, entry["stage"])
	assert.Contains(t, entry["message"], "missing required columns")

	assert.Equal(t, http.StatusConflict, s.do(http.MethodGet, base+"/results", nil).Code)

	// fix the input and retry the same job
	s.writeFile("short.csv", cipCSV())
	rec := s.do(http.MethodPost, base+"/retry", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	s.h.Wait()

	job = decode(t, s.do(http.MethodGet, base, nil))
	assert.Equal(t, model.StatusCompleted, job["status"])
	errs = decode(t, s.do(http.MethodGet, base+"/errors", nil))
	assert.Equal(t, 0.0, errs["count"])
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, base+"/results", nil).Code)
}

func TestCreatePipelineRejects(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pipelines", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/pipelines", map[string]interface{}{}).Code)

	bad := map[string]interface{}{
		"source":     map[string]string{"url": "x.csv"},
		"compliance": map[string]interface{}{"maxGapDays": 5, "groupBy": "plant"},
	}
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/pipelines", bad).Code)
}

func TestCreatePipelinePartialCompliance(t *testing.T) {
	s := newTestServer(t)
	s.writeFile("cip.csv", cipCSV())
	jobID := s.submit(map[string]interface{}{
		"source":     map[string]string{"url": "cip.csv"},
		"compliance": map[string]interface{}{"maxGapDays": 7},
	})

	job, err := store.GetJob(jobID)
	require.NoError(t, err)
	require.NotNil(t, job.Spec.Compliance)
	assert.Equal(t, 7.0, job.Spec.Compliance.MaxGapDays)
	assert.Equal(t, model.DefaultMinAlkaliMinutes, job.Spec.Compliance.MinAlkaliMinutes)
	assert.Equal(t, model.DefaultPrecision, job.Spec.Compliance.Precision)
	assert.Equal(t, filepath.Join(s.dataDir, "cip.csv"), job.Spec.Source.URL)
	assert.Equal(t, model.StatusCompleted, job.Status)
}

func TestCreatePipelineSourceOutsideRoot(t *testing.T) {
	s := newTestServer(t)
	for _, url := range []string{"../secret.csv", "/etc/passwd"} {
		rec := s.do(http.MethodPost, "/api/v1/pipelines", map[string]interface{}{"source": map[string]string{"url": url}})
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
		assert.Contains(t, rec.Body.String(), "outside server.data_root", url)
	}
}

func TestUnknownJob(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{
		"/api/v1/pipelines/nope",
		"/api/v1/pipelines/nope/results",
		"/api/v1/pipelines/nope/errors",
		"/api/v1/pipelines/nope/files/cleaned.csv",
	} {
		assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, path, nil).Code, path)
	}
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/v1/pipelines/nope/retry", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.submit(map[string]interface{}{"source": map[string]string{"url": s.writeFile("cip.csv", cipCSV())}})

	rec := s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cip_records_ingested_total 5")
	assert.Contains(t, rec.Body.String(), `cip_pipeline_runs_total{status="completed"} 1`)
}
