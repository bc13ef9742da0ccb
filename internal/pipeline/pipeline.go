package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	slogmulti "github.com/samber/slog-multi"

	"go-report-pipeline/internal/model"
	"go-report-pipeline/internal/store"
)

// JobStore is the part of the job store the worker writes through.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	MarkRunning(ctx context.Context, jobID string) error
	Checkpoint(ctx context.Context, jobID string, completed int) error
	Complete(ctx context.Context, jobID string, stats model.Stats) error
	Fail(ctx context.Context, jobID, reason string) error
}

// Options tune a Worker. Zero values fall back to defaults.
type Options struct {
	Policy     CheckpointPolicy
	Heartbeat  time.Duration
	NewEncoder func() RowEncoder
	Logger     *slog.Logger
}

// Worker drains one job's record source into its CSV and index artifacts.
type Worker struct {
	store      JobStore
	sources    SourceResolver
	policy     CheckpointPolicy
	heartbeat  time.Duration
	newEncoder func() RowEncoder
	logger     *slog.Logger
	now        func() time.Time
}

// NewWorker creates a worker.
func NewWorker(jobs JobStore, sources SourceResolver, opts Options) *Worker {
	w := &Worker{
		store:      jobs,
		sources:    sources,
		policy:     opts.Policy,
		heartbeat:  opts.Heartbeat,
		newEncoder: opts.NewEncoder,
		logger:     opts.Logger,
		now:        time.Now,
	}
	if w.policy == (CheckpointPolicy{}) {
		w.policy = DefaultCheckpointPolicy()
	}
	if w.heartbeat == 0 {
		w.heartbeat = time.Minute
	}
	if w.newEncoder == nil {
		w.newEncoder = func() RowEncoder { return &CSVEncoder{} }
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Run executes the job to completion or failure. It is meant to run detached
// from the request that created the job; nothing is retried.
func (w *Worker) Run(ctx context.Context, jobID string) error {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	log := w.logger.With("job_id", jobID)
	if err := os.MkdirAll(filepath.Dir(job.Artifacts.CSV), 0755); err != nil {
		return w.fail(ctx, job, log, fmt.Errorf("failed to create artifact directory: %w", err))
	}
	logFile, err := os.OpenFile(job.Artifacts.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return w.fail(ctx, job, log, fmt.Errorf("failed to open job log: %w", err))
	}
	defer logFile.Close()
	log = slog.New(slogmulti.Fanout(
		w.logger.Handler(),
		slog.NewJSONHandler(logFile, nil),
	)).With("job_id", jobID)

	if err := w.store.MarkRunning(ctx, jobID); err != nil {
		log.Error("job could not start", "status", job.Status, "error", err)
		return fmt.Errorf("start job %s: %w", jobID, err)
	}

	start := w.now()
	log.Info("report job started", "records", job.RecordsToProcess, "scope", job.Scope.String())
	if err := w.process(ctx, job, log); err != nil {
		return w.fail(ctx, job, log, err)
	}
	log.Info("report job completed",
		"records", job.RecordsToProcess,
		"duration_ms", w.now().Sub(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) fail(ctx context.Context, job *model.Job, log *slog.Logger, cause error) error {
	log.Error("report job failed", "records_completed", job.RecordsCompleted, "error", cause)
	if err := w.store.Fail(ctx, job.ID, cause.Error()); err != nil {
		log.Error("failed to record job failure", "error", err)
	}
	return cause
}

func (w *Worker) process(ctx context.Context, job *model.Job, log *slog.Logger) error {
	src, err := w.sources.Resolve(job.Stats.Query)
	if err != nil {
		return fmt.Errorf("resolve record source: %w", err)
	}
	it, err := src.Open(ctx)
	if err != nil {
		return fmt.Errorf("open record source: %w", err)
	}
	defer it.Close()

	out, err := createArtifacts(job.Artifacts.CSV, job.Artifacts.Index)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			out.Close()
		}
	}()

	cols := job.Stats.Columns
	enc := w.newEncoder()
	header, err := enc.Header(cols)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if err := out.WriteRow(header); err != nil {
		return err
	}

	total := job.RecordsToProcess
	totals := NewTotals(cols, nil)
	tracker := newProgressTracker(w.policy, w.heartbeat, total, w.now)
	n := 0
	for {
		rec, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read record %d: %w", n+1, err)
		}
		if n == total {
			return fmt.Errorf("record source yielded more than the %d counted records", total)
		}
		row, err := enc.Row(cols, rec)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", n+1, err)
		}
		if err := out.WriteRow(row); err != nil {
			return err
		}
		totals.Add(rec)
		n++

		// the final record is persisted together with the completed status
		if n < total && tracker.due(n) {
			if err := w.checkpoint(ctx, job.ID, n, out, log); err != nil {
				return err
			}
			tracker.mark()
		}
	}
	if n < total {
		return fmt.Errorf("record source ended after %d of %d counted records", n, total)
	}

	row, err := enc.Totals(totals)
	if err != nil {
		return fmt.Errorf("encode totals: %w", err)
	}
	if err := out.WriteRow(row); err != nil {
		return err
	}
	closed = true
	if err := out.Close(); err != nil {
		return err
	}

	stats := job.Stats
	stats.Sums = totals.Sums()
	if err := w.store.Complete(ctx, job.ID, stats); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// checkpoint flushes the artifacts and persists progress. A lost transition
// means someone else ended the job, which stops the worker; other store
// errors only cost progress visibility.
func (w *Worker) checkpoint(ctx context.Context, jobID string, n int, out *artifactWriter, log *slog.Logger) error {
	if err := out.Flush(); err != nil {
		return err
	}
	err := w.store.Checkpoint(ctx, jobID, n)
	switch {
	case err == nil:
		log.Debug("checkpoint", "records_completed", n)
		return nil
	case errors.Is(err, store.ErrInvalidTransition):
		return fmt.Errorf("job is no longer running: %w", err)
	default:
		log.Warn("checkpoint failed", "records_completed", n, "error", err)
		return nil
	}
}
