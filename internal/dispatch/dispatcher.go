// Package dispatch accepts report requests, hands them to detached workers
// and serves status, pages and downloads of the resulting artifacts.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"go-report-pipeline/internal/index"
	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/pipeline"
	"go-report-pipeline/internal/store"
	"go-report-pipeline/pkg/utils"
)

// JobStore is the part of the job store the dispatcher needs.
type JobStore interface {
	ClaimJob(ctx context.Context, job *model.Job, reusable func(*model.Job) bool) (*model.Job, bool, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, tenantID, userID string) ([]*model.Job, error)
	ListExpired(ctx context.Context, now time.Time) ([]*model.Job, error)
	Fail(ctx context.Context, jobID, reason string) error
	Release(ctx context.Context, jobID string) error
	DeleteJob(ctx context.Context, jobID string) error
	GetJobErrors(ctx context.Context, jobID string) ([]model.JobError, error)
}

// TokenGate issues and checks artifact tokens.
type TokenGate interface {
	Issue(ctx context.Context, jobID string, kind model.ArtifactKind, tenantID, userID string, expiresAt time.Time) (string, error)
	Validate(ctx context.Context, value, jobID string, kind model.ArtifactKind) error
	Forget(jobID string)
}

// ReportCatalog binds a scope to the report registered for its job type.
type ReportCatalog interface {
	Bind(scope model.Scope) (model.QueryDefinition, []model.Column, error)
}

// Options configure a Dispatcher.
type Options struct {
	StaleAfter      time.Duration // queued/running jobs without progress this long are stale
	JobTTL          time.Duration // lifetime of a job and its tokens
	DefaultPageSize int
	MaxPageSize     int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		StaleAfter:      10 * time.Minute,
		JobTTL:          24 * time.Hour,
		DefaultPageSize: 100,
		MaxPageSize:     1000,
	}
}

// Download is an open report file ready to be streamed. The caller closes File.
type Download struct {
	Name    string
	Size    int64
	ModTime time.Time
	File    *os.File
}

// Dispatcher is the synchronous front of the pipeline.
type Dispatcher struct {
	jobs    JobStore
	gate    TokenGate
	catalog ReportCatalog
	sources pipeline.SourceResolver
	spawner Spawner
	outputs *utils.OutputManager
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a dispatcher.
func New(jobs JobStore, gate TokenGate, catalog ReportCatalog, sources pipeline.SourceResolver,
	spawner Spawner, outputs *utils.OutputManager, opts Options, logger *slog.Logger) *Dispatcher {
	defaults := DefaultOptions()
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaults.StaleAfter
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = defaults.JobTTL
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaults.MaxPageSize
	}
	if opts.DefaultPageSize <= 0 || opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = min(defaults.DefaultPageSize, opts.MaxPageSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		jobs:    jobs,
		gate:    gate,
		catalog: catalog,
		sources: sources,
		spawner: spawner,
		outputs: outputs,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// claimAttempts bounds retries when a concurrent request wins the scope.
const claimAttempts = 3

// StartJob creates a report job for req.Scope, or returns the active one if
// it can still serve the caller. New jobs are handed to the spawner before
// StartJob returns; the worker itself runs detached.
func (d *Dispatcher) StartJob(ctx context.Context, req model.StartRequest) (*model.StartResult, error) {
	def, cols, total, err := d.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	now := d.now().UTC()
	job := &model.Job{
		ID:               id,
		Scope:            req.Scope,
		RecordsToProcess: total,
		Stats:            model.Stats{Query: def, Columns: cols},
		Artifacts: model.ArtifactPaths{
			CSV:   d.outputs.GetOutputFilePath(id, utils.ReportFileName),
			Index: d.outputs.GetOutputFilePath(id, utils.IndexFileName),
			Log:   d.outputs.GetOutputFilePath(id, utils.LogFileName),
		},
		CreatedAt: now,
		ExpiresAt: now.Add(d.opts.JobTTL),
	}

	var (
		claimed *model.Job
		created bool
	)
	for attempt := 1; ; attempt++ {
		claimed, created, err = d.jobs.ClaimJob(ctx, job, d.reusable)
		if !errors.Is(err, store.ErrScopeConflict) || attempt == claimAttempts {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("claim job for %s: %w", req.Scope, err)
	}

	tokens, err := d.issueTokens(ctx, claimed)
	if err != nil {
		return nil, err
	}
	result := &model.StartResult{JobID: claimed.ID, Status: claimed.Status, Tokens: tokens, Reused: !created}
	if !created {
		d.logger.Info("reusing active report job", "job_id", claimed.ID, "scope", req.Scope.String(), "status", claimed.Status)
		return result, nil
	}

	if err := d.launch(ctx, claimed.ID); err != nil {
		if ferr := d.jobs.Fail(ctx, claimed.ID, "launch failed: "+err.Error()); ferr != nil {
			d.logger.Error("failed to mark job as not launched", "job_id", claimed.ID, "error", ferr)
		}
		return nil, &LaunchError{JobID: claimed.ID, Err: err}
	}
	d.logger.Info("report job queued", "job_id", claimed.ID, "scope", req.Scope.String(), "records", total)
	return result, nil
}

// validate binds the request to its catalog report and counts the records
// it selects. The caller never supplies the query itself.
func (d *Dispatcher) validate(ctx context.Context, req model.StartRequest) (model.QueryDefinition, []model.Column, int, error) {
	var def model.QueryDefinition
	switch {
	case strings.TrimSpace(req.Scope.TenantID) == "":
		return def, nil, 0, &ValidationError{Field: "scope.tenantID", Reason: "is required"}
	case strings.TrimSpace(req.Scope.UserID) == "":
		return def, nil, 0, &ValidationError{Field: "scope.userID", Reason: "is required"}
	case strings.TrimSpace(req.Scope.JobType) == "":
		return def, nil, 0, &ValidationError{Field: "scope.jobType", Reason: "is required"}
	}

	def, cols, err := d.catalog.Bind(req.Scope)
	if err != nil {
		return def, nil, 0, &ValidationError{Field: "scope.jobType", Reason: err.Error()}
	}
	if len(req.Columns) > 0 {
		cols = req.Columns
	}
	if err := pipeline.ValidateColumns(cols); err != nil {
		return def, nil, 0, &ValidationError{Field: "columns", Reason: err.Error()}
	}

	def.Filters = req.Filters
	def.Period = req.Period
	if err := pipeline.ValidateQuery(def); err != nil {
		return def, nil, 0, &ValidationError{Field: "filters", Reason: err.Error()}
	}

	src, err := d.sources.Resolve(def)
	if err != nil {
		return def, nil, 0, &ValidationError{Field: "query", Reason: err.Error()}
	}
	total, err := src.Count(ctx)
	if err != nil {
		return def, nil, 0, fmt.Errorf("count records: %w", err)
	}
	if total == 0 {
		return def, nil, 0, &ValidationError{Field: "query", Reason: "no records match the request"}
	}
	return def, cols, total, nil
}

// reusable decides whether an active job can answer a new request for its
// scope.
func (d *Dispatcher) reusable(job *model.Job) bool {
	now := d.now()
	if job.Expired(now) {
		return false
	}
	switch job.Status {
	case model.JobStatusQueued:
		return !d.stale(job, now)
	case model.JobStatusRunning:
		return !d.stale(job, now) && (job.RecordsCompleted == 0 || d.outputs.FileExists(job.Artifacts.CSV))
	case model.JobStatusCompleted:
		return d.outputs.FileExists(job.Artifacts.CSV)
	}
	return false
}

func (d *Dispatcher) stale(job *model.Job, now time.Time) bool {
	return now.Sub(job.UpdatedAt) > d.opts.StaleAfter
}

func (d *Dispatcher) issueTokens(ctx context.Context, job *model.Job) (model.Tokens, error) {
	var tokens model.Tokens
	var err error
	tokens.Monitor, err = d.gate.Issue(ctx, job.ID, model.ArtifactMonitor, job.Scope.TenantID, job.Scope.UserID, job.ExpiresAt)
	if err != nil {
		return tokens, fmt.Errorf("issue monitor token: %w", err)
	}
	tokens.Download, err = d.gate.Issue(ctx, job.ID, model.ArtifactDownload, job.Scope.TenantID, job.Scope.UserID, job.ExpiresAt)
	if err != nil {
		return tokens, fmt.Errorf("issue download token: %w", err)
	}
	return tokens, nil
}

func (d *Dispatcher) launch(ctx context.Context, jobID string) error {
	if _, err := d.outputs.CreateJobOutputDir(jobID); err != nil {
		return err
	}
	return d.spawner.Spawn(ctx, jobID)
}

// PollStatus returns the progress of a job. Jobs that failed or went stale
// return an error wrapping ErrRestartRequired.
func (d *Dispatcher) PollStatus(ctx context.Context, jobID, monitorToken string) (*model.JobView, error) {
	if err := d.gate.Validate(ctx, monitorToken, jobID, model.ArtifactMonitor); err != nil {
		return nil, err
	}
	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := d.checkHealth(ctx, job); err != nil {
		return nil, err
	}
	view := job.View()
	return &view, nil
}

// checkHealth turns failed, stale and orphaned jobs into errors. Stale
// queued or running jobs are failed so that the next StartJob replaces them.
func (d *Dispatcher) checkHealth(ctx context.Context, job *model.Job) error {
	now := d.now()
	var reason string
	switch job.Status {
	case model.JobStatusError:
		return &RuntimeError{JobID: job.ID, Message: job.ErrorMessage}
	case model.JobStatusCompleted:
		if d.outputs.FileExists(job.Artifacts.CSV) {
			return nil
		}
		if err := d.jobs.Release(ctx, job.ID); err != nil {
			d.logger.Warn("failed to release orphaned job", "job_id", job.ID, "error", err)
		}
		return &StaleJobError{JobID: job.ID, Reason: "report file is missing"}
	case model.JobStatusRunning:
		if job.RecordsCompleted > 0 && !d.outputs.FileExists(job.Artifacts.CSV) {
			reason = "report file is missing"
		}
	}
	if reason == "" && d.stale(job, now) {
		reason = fmt.Sprintf("no progress since %s", job.UpdatedAt.UTC().Format(time.RFC3339))
	}
	if reason == "" {
		return nil
	}

	err := d.jobs.Fail(ctx, job.ID, "stale: "+reason)
	if errors.Is(err, store.ErrInvalidTransition) {
		// the worker finished in the meantime
		fresh, gerr := d.jobs.GetJob(ctx, job.ID)
		if gerr != nil {
			return gerr
		}
		if fresh.Status != job.Status {
			return d.checkHealth(ctx, fresh)
		}
	} else if err != nil {
		return err
	}
	d.logger.Warn("report job marked stale", "job_id", job.ID, "reason", reason)
	return &StaleJobError{JobID: job.ID, Reason: reason}
}

// FetchPage reads one page of data rows from a completed report using only
// the index slots that bound it. The last page also carries the totals row.
func (d *Dispatcher) FetchPage(ctx context.Context, jobID, monitorToken string, pageIndex, pageSize int) (*model.Page, error) {
	if err := d.gate.Validate(ctx, monitorToken, jobID, model.ArtifactMonitor); err != nil {
		return nil, err
	}
	if pageSize == 0 {
		pageSize = d.opts.DefaultPageSize
	}
	if pageSize < 0 || pageSize > d.opts.MaxPageSize {
		return nil, &ValidationError{Field: "size", Reason: fmt.Sprintf("must be between 1 and %d", d.opts.MaxPageSize)}
	}
	if pageIndex < 0 {
		return nil, fmt.Errorf("%w: %d", ErrPageOutOfRange, pageIndex)
	}

	job, err := d.completedJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	idx, err := index.Open(job.Artifacts.Index)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, d.incomplete(ctx, job, "index file is missing")
		}
		return nil, err
	}
	defer idx.Close()
	total := job.RecordsToProcess
	if idx.Len() != total+2 {
		return nil, d.incomplete(ctx, job, fmt.Sprintf("%d entries for %d records", idx.Len(), total))
	}

	data, err := os.Open(job.Artifacts.CSV)
	if err != nil {
		return nil, d.orphaned(ctx, job, err)
	}
	defer data.Close()

	start, end, _, err := idx.PageRange(pageIndex, pageSize, total)
	if errors.Is(err, index.ErrOutOfRange) {
		return nil, fmt.Errorf("%w: %d", ErrPageOutOfRange, pageIndex)
	}
	if err != nil {
		return nil, err
	}
	rows, err := index.ReadRows(data, start, end)
	if err != nil {
		return nil, err
	}
	header, err := idx.ReadRow(data, 0)
	if err != nil {
		return nil, err
	}

	pageCount := (total + pageSize - 1) / pageSize
	page := &model.Page{
		JobID:     job.ID,
		PageIndex: pageIndex,
		PageSize:  pageSize,
		Header:    header,
		Rows:      rows,
		LastPage:  pageIndex == pageCount-1,
		PageCount: pageCount,
	}
	if page.LastPage {
		if page.Totals, err = idx.ReadRow(data, total+1); err != nil {
			return nil, err
		}
	}
	return page, nil
}

// DownloadArtifact opens the finished CSV for streaming.
func (d *Dispatcher) DownloadArtifact(ctx context.Context, jobID, downloadToken string) (*Download, error) {
	if err := d.gate.Validate(ctx, downloadToken, jobID, model.ArtifactDownload); err != nil {
		return nil, err
	}
	job, err := d.completedJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(job.Artifacts.CSV)
	if err != nil {
		return nil, d.orphaned(ctx, job, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat report file: %w", err)
	}
	return &Download{
		Name:    fmt.Sprintf("%s-%s.csv", job.Scope.JobType, job.ID),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		File:    f,
	}, nil
}

func (d *Dispatcher) completedJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case model.JobStatusCompleted:
		return job, nil
	case model.JobStatusError:
		return nil, &RuntimeError{JobID: job.ID, Message: job.ErrorMessage}
	default:
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotReady, job.ID, job.Status)
	}
}

// orphaned handles a completed job whose CSV cannot be opened.
func (d *Dispatcher) orphaned(ctx context.Context, job *model.Job, err error) error {
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("open report file: %w", err)
	}
	if rerr := d.jobs.Release(ctx, job.ID); rerr != nil {
		d.logger.Warn("failed to release orphaned job", "job_id", job.ID, "error", rerr)
	}
	return &StaleJobError{JobID: job.ID, Reason: "report file is missing"}
}

// incomplete releases a completed job whose index cannot serve pages, so the
// next StartJob builds the report again.
func (d *Dispatcher) incomplete(ctx context.Context, job *model.Job, detail string) error {
	if err := d.jobs.Release(ctx, job.ID); err != nil {
		d.logger.Warn("failed to release job with incomplete index", "job_id", job.ID, "error", err)
	}
	d.logger.Warn("report index incomplete", "job_id", job.ID, "detail", detail)
	return fmt.Errorf("%w (%s): %w", ErrIndexIncomplete, detail, ErrRestartRequired)
}

// JobErrors returns the diagnostics recorded for a job, oldest first.
func (d *Dispatcher) JobErrors(ctx context.Context, jobID, monitorToken string) ([]model.JobError, error) {
	if err := d.gate.Validate(ctx, monitorToken, jobID, model.ArtifactMonitor); err != nil {
		return nil, err
	}
	if _, err := d.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return d.jobs.GetJobErrors(ctx, jobID)
}

// ListJobs returns the jobs of a user, newest first. Empty filters match all.
func (d *Dispatcher) ListJobs(ctx context.Context, tenantID, userID string) ([]*model.Job, error) {
	return d.jobs.ListJobs(ctx, tenantID, userID)
}

// Prune deletes expired jobs together with their artifacts and returns how
// many were removed. Running jobs are skipped.
func (d *Dispatcher) Prune(ctx context.Context) (int, error) {
	expired, err := d.jobs.ListExpired(ctx, d.now())
	if err != nil {
		return 0, err
	}

	var result *multierror.Error
	removed := 0
	for _, job := range expired {
		if job.Status == model.JobStatusRunning && !d.stale(job, d.now()) {
			continue
		}
		if err := d.outputs.RemoveJobOutputDir(job.ID); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := d.jobs.DeleteJob(ctx, job.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("delete job %s: %w", job.ID, err))
			continue
		}
		d.gate.Forget(job.ID)
		removed++
		d.logger.Info("pruned expired report job", "job_id", job.ID, "status", job.Status)
	}
	return removed, result.ErrorOrNil()
}
