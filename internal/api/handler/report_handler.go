package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go-report-pipeline/internal/dispatch"
	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/store"
	"go-report-pipeline/internal/token"
	"go-report-pipeline/pkg/router"
)

// Reports is the dispatcher surface the HTTP layer drives.
type Reports interface {
	StartJob(ctx context.Context, req model.StartRequest) (*model.StartResult, error)
	PollStatus(ctx context.Context, jobID, monitorToken string) (*model.JobView, error)
	FetchPage(ctx context.Context, jobID, monitorToken string, pageIndex, pageSize int) (*model.Page, error)
	DownloadArtifact(ctx context.Context, jobID, downloadToken string) (*dispatch.Download, error)
	JobErrors(ctx context.Context, jobID, monitorToken string) ([]model.JobError, error)
	ListJobs(ctx context.Context, tenantID, userID string) ([]*model.Job, error)
}

// TokenHeader carries the artifact token when it is not in the query string.
const TokenHeader = "X-Report-Token"

// StartResponse is returned by StartReport
type StartResponse struct {
	model.StartResult
	StatusURL   string `json:"statusURL"`
	DownloadURL string `json:"downloadURL"`
}

// JobSummary is one entry of ListReports
type JobSummary struct {
	JobID            string          `json:"jobID"`
	Scope            model.Scope     `json:"scope"`
	Status           model.JobStatus `json:"status"`
	RecordsCompleted int             `json:"recordsCompleted"`
	RecordsToProcess int             `json:"recordsToProcess"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	ExpiresAt        time.Time       `json:"expiresAt"`
}

// ErrorsResponse lists the diagnostics of a job
type ErrorsResponse struct {
	JobID  string           `json:"jobID"`
	Errors []model.JobError `json:"errors"`
	Count  int              `json:"count"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// ReportHandler serves the report endpoints.
type ReportHandler struct {
	reports Reports
	logger  *slog.Logger
}

func NewReportHandler(reports Reports, logger *slog.Logger) *ReportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportHandler{reports: reports, logger: logger}
}

// StartReport starts a report job or returns the active one for the scope
// @Summary Start a report
// @Description Queue the report registered for scope.jobType, narrowed by filters and period. Requests carrying other fields, such as a query, are rejected. An active job for the same scope is returned instead of creating a new one.
// @Tags reports
// @Accept json
// @Produce json
// @Param request body model.StartRequest true "Report request"
// @Success 201 {object} StartResponse "Report job created"
// @Success 200 {object} StartResponse "Active report job reused"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 502 {object} ErrorResponse "Worker could not be launched"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /reports [post]
func (h *ReportHandler) StartReport(w http.ResponseWriter, r *http.Request) {
	var req model.StartRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON payload: " + err.Error()})
		return
	}

	res, err := h.reports.StartJob(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, StartResponse{
		StartResult: *res,
		StatusURL:   fmt.Sprintf("/api/v1/reports/%s/status", res.JobID),
		DownloadURL: fmt.Sprintf("/api/v1/reports/%s/download", res.JobID),
	})
}

// ListReports lists the report jobs of a user
// @Summary List reports
// @Description List report jobs, newest first, optionally filtered by tenant and user
// @Tags reports
// @Produce json
// @Param tenant query string false "Tenant ID"
// @Param user query string false "User ID"
// @Success 200 {array} JobSummary "Report jobs"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /reports [get]
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.reports.ListJobs(r.Context(), r.URL.Query().Get("tenant"), r.URL.Query().Get("user"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobSummary{
			JobID:            j.ID,
			Scope:            j.Scope,
			Status:           j.Status,
			RecordsCompleted: j.RecordsCompleted,
			RecordsToProcess: j.RecordsToProcess,
			ErrorMessage:     j.ErrorMessage,
			CreatedAt:        j.CreatedAt,
			ExpiresAt:        j.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetReportStatus reports the progress of a job
// @Summary Get report status
// @Description Poll the progress of a report job with its monitor token
// @Tags reports
// @Produce json
// @Param id path string true "Job ID"
// @Param token query string false "Monitor token (or X-Report-Token header)"
// @Success 200 {object} model.JobView "Job progress"
// @Failure 403 {object} ErrorResponse "Token rejected"
// @Failure 404 {object} ErrorResponse "Job not found"
// @Failure 410 {object} ErrorResponse "Job failed or went stale, start a new one"
// @Router /reports/{id}/status [get]
func (h *ReportHandler) GetReportStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.reports.PollStatus(r.Context(), router.Param(r, 0), requestToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetReportPage returns one page of a completed report
// @Summary Get report page
// @Description Read one page of rows of a completed report. The last page carries the totals row.
// @Tags reports
// @Produce json
// @Param id path string true "Job ID"
// @Param page path int true "Zero-based page index"
// @Param size query int false "Rows per page"
// @Param token query string false "Monitor token (or X-Report-Token header)"
// @Success 200 {object} model.Page "Report page"
// @Failure 400 {object} ErrorResponse "Invalid page or size"
// @Failure 403 {object} ErrorResponse "Token rejected"
// @Failure 404 {object} ErrorResponse "Job or page not found"
// @Failure 409 {object} ErrorResponse "Report not completed yet"
// @Failure 410 {object} ErrorResponse "Job failed, went stale or lost its index, start a new one"
// @Router /reports/{id}/pages/{page} [get]
func (h *ReportHandler) GetReportPage(w http.ResponseWriter, r *http.Request) {
	pageIndex, err := strconv.Atoi(router.Param(r, 1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Page must be a number", Field: "page"})
		return
	}
	size := 0
	if s := r.URL.Query().Get("size"); s != "" {
		if size, err = strconv.Atoi(s); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Size must be a number", Field: "size"})
			return
		}
	}

	page, err := h.reports.FetchPage(r.Context(), router.Param(r, 0), requestToken(r), pageIndex, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetReportErrors lists the diagnostics recorded for a job
// @Summary Get report errors
// @Description Retrieve the error history of a report job
// @Tags reports
// @Produce json
// @Param id path string true "Job ID"
// @Param token query string false "Monitor token (or X-Report-Token header)"
// @Success 200 {object} ErrorsResponse "Job errors"
// @Failure 403 {object} ErrorResponse "Token rejected"
// @Failure 404 {object} ErrorResponse "Job not found"
// @Router /reports/{id}/errors [get]
func (h *ReportHandler) GetReportErrors(w http.ResponseWriter, r *http.Request) {
	jobID := router.Param(r, 0)
	errs, err := h.reports.JobErrors(r.Context(), jobID, requestToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if errs == nil {
		errs = []model.JobError{}
	}
	writeJSON(w, http.StatusOK, ErrorsResponse{JobID: jobID, Errors: errs, Count: len(errs)})
}

// DownloadReport streams the finished CSV
// @Summary Download report
// @Description Download the complete CSV of a finished report with its download token
// @Tags reports
// @Produce text/csv
// @Param id path string true "Job ID"
// @Param token query string false "Download token (or X-Report-Token header)"
// @Success 200 {file} file "Report CSV"
// @Failure 403 {object} ErrorResponse "Token rejected"
// @Failure 404 {object} ErrorResponse "Job not found"
// @Failure 409 {object} ErrorResponse "Report not completed yet"
// @Failure 410 {object} ErrorResponse "Job failed or went stale, start a new one"
// @Router /reports/{id}/download [get]
func (h *ReportHandler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	dl, err := h.reports.DownloadArtifact(r.Context(), router.Param(r, 0), requestToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer dl.File.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Name))
	http.ServeContent(w, r, dl.Name, dl.ModTime, dl.File)
}

// Health reports that the service is up
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string "Service is healthy"
// @Router /health [get]
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return r.Header.Get(TokenHeader)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps dispatcher errors onto HTTP statuses.
func (h *ReportHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *dispatch.ValidationError
		tokenErr      *token.TokenError
		launchErr     *dispatch.LaunchError
	)
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: validationErr.Error(), Field: validationErr.Field})
	case errors.As(err, &tokenErr):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: tokenErr.Reason})
	case errors.Is(err, store.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Job not found"})
	case errors.Is(err, dispatch.ErrPageOutOfRange):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Field: "page"})
	case errors.Is(err, dispatch.ErrIndexIncomplete), errors.Is(err, dispatch.ErrRestartRequired):
		writeJSON(w, http.StatusGone, ErrorResponse{Error: err.Error()})
	case errors.Is(err, dispatch.ErrNotReady):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.As(err, &launchErr):
		h.logger.Error("report launch failed", "job_id", launchErr.JobID, "error", launchErr.Err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "Report worker could not be started"})
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	}
}
