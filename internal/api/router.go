package api

import (
	"cip-pipeline/internal/api/handler"
	"cip-pipeline/internal/metrics"
	"cip-pipeline/pkg/router"

	httpSwagger "github.com/swaggo/http-swagger"

	_ "cip-pipeline/docs"
)

func RegisterRoutes(r *router.Router, h *handler.PipelineHandler, m *metrics.Pipeline) {
	r.POST("/api/v1/pipelines", h.CreatePipeline)
	r.GET("/api/v1/pipelines", h.ListPipelines)
	// More specific routes first
	r.GET("/api/v1/pipelines/*/errors", h.GetPipelineErrors)
	r.GET("/api/v1/pipelines/*/progress", h.GetPipelineProgress)
	r.GET("/api/v1/pipelines/*/results", h.GetPipelineResults)
	r.GET("/api/v1/pipelines/*/records", h.GetPipelineRecords)
	r.GET("/api/v1/pipelines/*/stats", h.GetPipelineStats)
	r.GET("/api/v1/pipelines/*/outliers", h.GetPipelineOutliers)
	r.GET("/api/v1/pipelines/*/files/*", h.DownloadFile)
	r.POST("/api/v1/pipelines/*/retry", h.RetryPipeline)
	// Generic pipeline route last
	r.GET("/api/v1/pipelines/*", h.GetPipeline)

	r.Handle("/metrics", m.Handler())
	r.Handle("/swagger/", httpSwagger.WrapHandler)
}
