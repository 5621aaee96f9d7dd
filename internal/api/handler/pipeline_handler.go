package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"cip-pipeline/internal/config"
	"cip-pipeline/internal/metrics"
	"cip-pipeline/internal/model"
	"cip-pipeline/internal/pipeline"
	"cip-pipeline/internal/store"
	"cip-pipeline/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const pipelinesPrefix = "/api/v1/pipelines/"

// PipelineHandler serves the job API. Jobs run in background goroutines
// against the package-level store.
type PipelineHandler struct {
	cfg     atomic.Pointer[config.Config]
	metrics *metrics.Pipeline
	logger  *zap.Logger

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// NewPipelineHandler creates a handler using cfg for job defaults.
func NewPipelineHandler(cfg *config.Config, m *metrics.Pipeline, logger *zap.Logger) *PipelineHandler {
	h := &PipelineHandler{metrics: m, logger: logger, running: make(map[string]bool)}
	h.cfg.Store(cfg)
	return h
}

// SetConfig swaps the defaults applied to jobs submitted from now on.
func (h *PipelineHandler) SetConfig(cfg *config.Config) {
	h.cfg.Store(cfg)
}

// Wait blocks until every started job has finished.
func (h *PipelineHandler) Wait() {
	h.wg.Wait()
}

// CreatePipeline creates a new pipeline job
// @Summary Create a new pipeline
// @Description Validate the job spec, store it and run the CIP compliance pipeline in the background
// @Tags pipelines
// @Accept json
// @Produce json
// @Param pipeline body model.PipelineJobSpec true "Pipeline configuration"
// @Success 202 {object} map[string]interface{} "Pipeline accepted"
// @Failure 400 {object} map[string]interface{} "Invalid request payload"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /pipelines [post]
func (h *PipelineHandler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfg.Load()
	spec, err := cfg.DecodeSpec(r.Body)
	if err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := validateSpec(spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if spec.Source.URL, err = cfg.LocalSource(spec.Source.URL); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID := uuid.New().String()
	if err := store.SaveJob(jobID, spec); err != nil {
		h.logger.Error("save job", zap.String("job_id", jobID), zap.Error(err))
		http.Error(w, "Failed to save job", http.StatusInternalServerError)
		return
	}

	h.start(jobID, spec)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Pipeline created successfully!",
		"jobID":   jobID,
		"status":  model.StatusPending,
	})
}

func validateSpec(spec model.PipelineJobSpec) error {
	if strings.TrimSpace(spec.Source.URL) == "" {
		return errors.New("source.url is required")
	}
	switch spec.Source.Type {
	case "", "csv", "json":
	default:
		return errors.New("source.type must be csv or json")
	}
	c := spec.Compliance
	if c.MaxGapDays <= 0 {
		return errors.New("compliance.maxGapDays must be positive")
	}
	if c.MinAlkaliMinutes < 0 {
		return errors.New("compliance.minAlkaliMinutes must not be negative")
	}
	if c.Precision < 0 || c.Precision > 10 {
		return errors.New("compliance.precision must be between 0 and 10")
	}
	if !c.GroupBy.Valid() {
		return errors.New("compliance.groupBy must be device, circuit or line")
	}
	for _, f := range spec.Export.Formats {
		switch f {
		case pipeline.FormatCSV, pipeline.FormatJSON, pipeline.FormatParquet:
		default:
			return errors.New("export.formats: unsupported format " + strconv.Quote(f))
		}
	}
	return nil
}

// start runs a job in the background unless it is already running.
func (h *PipelineHandler) start(jobID string, spec model.PipelineJobSpec) bool {
	h.mu.Lock()
	if h.running[jobID] {
		h.mu.Unlock()
		return false
	}
	h.running[jobID] = true
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			delete(h.running, jobID)
			h.mu.Unlock()
		}()
		h.run(context.Background(), jobID, spec)
	}()
	return true
}

func (h *PipelineHandler) run(ctx context.Context, jobID string, spec model.PipelineJobSpec) {
	logger := h.logger.With(zap.String("job_id", jobID))
	if err := store.UpdateJobStatus(jobID, model.StatusRunning); err != nil {
		logger.Error("update job status", zap.Error(err))
	}

	cfg := h.cfg.Load()
	tracker := pipeline.NewTracker()
	opts := pipeline.Options{
		Compliance: *spec.Compliance,
		Workers:    spec.Workers,
		Columns:    spec.Columns,
		Retry:      cfg.Retry,
		Export:     spec.Export,
		Logger:     h.logger,
		Metrics:    h.metrics,
		Tracker:    tracker,
	}
	report, _, runErr := pipeline.Run(ctx, jobID, spec.Source, opts)

	for _, s := range tracker.Stages() {
		if err := store.SaveStageProgress(jobID, s); err != nil {
			logger.Error("save stage progress", zap.String("stage", s.Stage), zap.Error(err))
		}
	}
	for _, e := range tracker.Errors() {
		if err := store.SaveJobError(jobID, e.Stage, errors.New(e.Message)); err != nil {
			logger.Error("save job error", zap.Error(err))
		}
	}

	status := model.StatusCompleted
	if runErr != nil {
		status = model.StatusFailed
	}
	if report != nil {
		if err := store.SaveReport(jobID, report); err != nil {
			logger.Error("save report", zap.Error(err))
			_ = store.SaveJobError(jobID, model.StageAssemble, err)
			status = model.StatusFailed
		}
	}
	if err := store.UpdateJobStatus(jobID, status); err != nil {
		logger.Error("update job status", zap.Error(err))
	}
}

// ListPipelines retrieves all pipeline jobs
// @Summary List all pipelines
// @Description Get a list of all pipeline jobs with their current status
// @Tags pipelines
// @Produce json
// @Success 200 {array} model.Job "List of pipelines"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /pipelines [get]
func (h *PipelineHandler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	jobs, err := store.ListJobs()
	if err != nil {
		http.Error(w, "Failed to fetch pipelines", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// jobIDFromPath extracts {id} from /api/v1/pipelines/{id}<suffix>.
func jobIDFromPath(path, suffix string) (string, bool) {
	if !strings.HasPrefix(path, pipelinesPrefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	jobID := path[len(pipelinesPrefix) : len(path)-len(suffix)]
	if jobID == "" || strings.Contains(jobID, "/") {
		return "", false
	}
	return jobID, true
}

// lookupJob resolves the job of the request or writes the error response.
func lookupJob(w http.ResponseWriter, r *http.Request, suffix string) (*model.Job, bool) {
	jobID, ok := jobIDFromPath(r.URL.Path, suffix)
	if !ok {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return nil, false
	}
	job, err := store.GetJob(jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, "Failed to fetch job", http.StatusInternalServerError)
		return nil, false
	}
	return job, true
}

// lookupReport resolves the report of the request or writes the error
// response. A job without a report yet answers 409.
func lookupReport(w http.ResponseWriter, r *http.Request, suffix string) (*model.Job, *model.Report, bool) {
	job, ok := lookupJob(w, r, suffix)
	if !ok {
		return nil, nil, false
	}
	report, err := store.GetReport(job.ID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Results not available, job is "+job.Status, http.StatusConflict)
		return nil, nil, false
	}
	if err != nil {
		http.Error(w, "Failed to retrieve results", http.StatusInternalServerError)
		return nil, nil, false
	}
	return job, report, true
}

// GetPipeline retrieves a specific pipeline job
// @Summary Get pipeline
// @Description Retrieve details of a specific pipeline job
// @Tags pipelines
// @Produce json
// @Param id path string true "Pipeline ID"
// @Success 200 {object} model.Job "Pipeline details"
// @Failure 400 {object} map[string]interface{} "Invalid pipeline ID"
// @Failure 404 {object} map[string]interface{} "Pipeline not found"
// @Router /pipelines/{id} [get]
func (h *PipelineHandler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	job, ok := lookupJob(w, r, "")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetPipelineErrors retrieves errors for a pipeline
// @Summary Get pipeline errors
// @Description Retrieve all errors that occurred during pipeline execution
// @Tags pipelines
// @Produce json
// @Param id path string true "Pipeline ID"
// @Success 200 {object} map[string]interface{} "Pipeline errors"
// @Failure 404 {object} map[string]interface{} "Pipeline not found"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /pipelines/{id}/errors [get]
func (h *PipelineHandler) GetPipelineErrors(w http.ResponseWriter, r *http.Request) {
	job, ok := lookupJob(w, r, "/errors")
	if !ok {
		return
	}
	errs, err := store.GetJobErrors(job.ID)
	if err != nil {
		http.Error(w, "Failed to retrieve errors", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": job.ID,
		"errors": errs,
		"count":  len(errs),
	})
}

// GetPipelineProgress retrieves per-stage progress for a pipeline
// @Summary Get pipeline progress
// @Description Retrieve the status, timing and record counts of each stage
// @Tags pipelines
// @Produce json
// @Param id path string true "Pipeline ID"
// @Success 200 {object} map[string]interface{} "Stage progress"
// @Failure 404 {object} map[string]interface{} "Pipeline not found"
// @Router /pipelines/{id}/progress [get]
func (h *PipelineHandler) GetPipelineProgress(w http.ResponseWriter, r *http.Request) {
	job, ok := lookupJob(w, r, "/progress")
	if !ok {
		return
	}
	stages, err := store.GetStageProgress(job.ID)
	if err != nil {
		http.Error(w, "Failed to retrieve progress", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
		"stages": stages,
	})
}

// GetPipelineResults retrieves the report summary of a pipeline
// @Summary Get pipeline results
// @Description Counts, compliance parameters, per-entity and grouped statistics, line profiles and exported files
// @Tags pipelines
// @Produce json
// @Param id path string true "Pipeline ID"
// @Success 200 {object} map[string]interface{} "Pipeline results"
// @Failure 404 {object} map[string]interface{} "Pipeline not found"
// @Failure 409 {object} map[string]interface{} "Results not available yet"
// @Router /pipelines/{id}/results [get]
func (h *PipelineHandler) GetPipelineResults(w http.ResponseWriter, r *http.Request) {
	job, report, ok := lookupReport(w, r, "/results")
	if !ok {
		return
	}

	files := []map[string]string{}
	if job.Spec.Export != nil {
		om := utils.NewOutputManager(job.Spec.Export.Dir)
		names, err := om.ListJobFiles(job.ID)
		if err != nil && !os.IsNotExist(err) {
			h.logger.Warn("list job files", zap.String("job_id", job.ID), zap.Error(err))
		}
		for _, name := range names {
			files = append(files, map[string]string{
				"name": name,
				"type": om.GetFileType(name),
				"url":  om.GetDownloadURL(job.ID, name),
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":        job.ID,
		"total_count":   report.TotalCount,
		"valid_count":   report.ValidCount,
		"outlier_count": report.OutlierCount,
		"compliance":    report.Compliance,
		"entity_stats":  report.EntityStats,
		"group_stats":   report.GroupStats,
		"profiles":      report.Profiles,
		"files":         files,
	})
}

// filterFromQuery reads the line/circuit/device query parameters.
func filterFromQuery(r *http.Request) model.EntityKey {
	q := r.URL.Query()
	return model.EntityKey{Line: q.Get("line"), Circuit: q.Get("circuit"), Device: q.Get("device")}
}

// pageFromQuery reads limit/offset; limit defaults to 100.
func pageFromQuery(r *http.Request) (limit, offset int) {
	limit = 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// GetPipelineRecords lists cleaned records of a pipeline
// @Summary Get cleaned records
// @Description Cleaned cycles ordered by entity and start, optionally filtered by line, circuit and device
// @Tags pipelines
// @Produce json
// @Param id path string true "Pipeline ID"
// @Param line query string false "Production line"
// @Param circuit query string false "Circuit"
// @Param device query string false "Device"
// @Param limit query int false "Page size" default(100)
// @Param offset query int false "Page offset"
// @Success 200 {object} map[string]interface{} "Cleaned records"
// @Failure 404 {object} map[string]interface{} "Pipeline not found"
// @Failure 409 {object} map[string]interface{} "Results not available yet"
// @Router /pipelines/{id}/records [get]
func (h *PipelineHandler) GetPipelineRecords(w http.ResponseWriter, r *http.Request) {
	job, report, ok := lookupReport(w, r, "/records")
	if !ok {
		return
	}
	records := report.Select(filterFromQuery(r))
	limit, offset := pageFromQuery(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":  job.ID,
		"records": page(records, limit, offset),
		"total":   len(records),
		"limit":   limit,
		"offset":  offset,
	})
}

// GetPipelineStats lists per-entity statistics of a pipeline
// @Summary Get entity statistics
// @Description Per-device gap, duration and compliance statistics, optionally filtered
// @Tags pipelines
// @Produce json
// @Param id path string true "Pipeline ID"
// @Param line query string false "Production line"
// @Param circuit query string false "Circuit"
// @Param device query string false "Device"
// @Success 200 {object} map[string]interface{} "Entity statistics"
// @Failure 404 {object} map[string]interface{} "Pipeline not found"
// @Failure 409 {object} map[string]interface{} "Results not available yet"
// @Router /pipelines/{id}/stats [get]
func (h *PipelineHandler) GetPipelineStats(w http.ResponseWriter, r *http.Request) {
	job, report, ok := lookupReport(w, r, "/stats")
	if !ok {
		return
	}
	stats := report.Stats(filterFromQuery(r))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": job.ID,
		"stats":  stats,
		"count":  len(stats),
	})
}

// GetPipelineOutliers lists the excluded records of a pipeline
// @Summary Get outliers
// @Description Records excluded by the outlier filter, unchanged, with their reasons
// @Tags pipelines
// @Produce json
// @Param id path string true "Pipeline ID"
// @Param limit query int false "Page size" default(100)
// @Param offset query int false "Page offset"
// @Success 200 {object} map[string]interface{} "Outliers"
// @Failure 404 {object} map[string]interface{} "Pipeline not found"
// @Failure 409 {object} map[string]interface{} "Results not available yet"
// @Router /pipelines/{id}/outliers [get]
func (h *PipelineHandler) GetPipelineOutliers(w http.ResponseWriter, r *http.Request) {
	job, report, ok := lookupReport(w, r, "/outliers")
	if !ok {
		return
	}
	limit, offset := pageFromQuery(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":   job.ID,
		"outliers": page(report.Outliers, limit, offset),
		"total":    len(report.Outliers),
		"limit":    limit,
		"offset":   offset,
	})
}

// DownloadFile serves one exported file of a pipeline
// @Summary Download an exported file
// @Tags pipelines
// @Produce octet-stream
// @Param id path string true "Pipeline ID"
// @Param name path string true "File name"
// @Success 200 {file} file "Exported file"
// @Failure 404 {object} map[string]interface{} "File not found"
// @Router /pipelines/{id}/files/{name} [get]
func (h *PipelineHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, pipelinesPrefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "files" || parts[0] == "" || parts[2] == "" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	job, err := store.GetJob(parts[0])
	if err != nil || job.Spec.Export == nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	om := utils.NewOutputManager(job.Spec.Export.Dir)
	name := filepath.Base(parts[2])
	if om.GetFileType(name) == "unknown" {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	path := filepath.Join(om.JobDir(job.ID), name)
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", om.ContentType(name))
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(name))
	http.ServeFile(w, r, path)
}

// RetryPipeline reruns a failed or completed pipeline job
// @Summary Retry pipeline
// @Description Clear the job's errors, progress and results and run it again with the stored configuration
// @Tags pipelines
// @Produce json
// @Param id path string true "Pipeline ID"
// @Success 202 {object} map[string]interface{} "Retry initiated"
// @Failure 404 {object} map[string]interface{} "Pipeline not found"
// @Failure 409 {object} map[string]interface{} "Pipeline still running"
// @Router /pipelines/{id}/retry [post]
func (h *PipelineHandler) RetryPipeline(w http.ResponseWriter, r *http.Request) {
	job, ok := lookupJob(w, r, "/retry")
	if !ok {
		return
	}
	if job.Status == model.StatusPending || job.Status == model.StatusRunning {
		http.Error(w, "Pipeline is "+job.Status, http.StatusConflict)
		return
	}
	if err := store.ResetJob(job.ID); err != nil {
		http.Error(w, "Failed to reset job", http.StatusInternalServerError)
		return
	}
	if !h.start(job.ID, job.Spec) {
		http.Error(w, "Pipeline is running", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Retry initiated",
		"job_id":  job.ID,
		"status":  model.StatusPending,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
