package api

import (
	httpSwagger "github.com/swaggo/http-swagger"

	"go-report-pipeline/internal/api/handler"
	"go-report-pipeline/pkg/router"

	_ "go-report-pipeline/docs"
)

func RegisterRoutes(r *router.Router, h *handler.ReportHandler) {
	r.POST("/api/v1/reports", h.StartReport)
	r.GET("/api/v1/reports", h.ListReports)
	// More specific routes first
	r.GET("/api/v1/reports/*/status", h.GetReportStatus)
	r.GET("/api/v1/reports/*/pages/*", h.GetReportPage)
	r.GET("/api/v1/reports/*/errors", h.GetReportErrors)
	r.GET("/api/v1/reports/*/download", h.DownloadReport)
	r.GET("/health", handler.Health)

	r.Handle("/swagger/", httpSwagger.WrapHandler)
}
