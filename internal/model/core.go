package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a report job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusError:
		return true
	}
	return false
}

// Scope identifies the owner of a job; at most one active job exists per scope.
type Scope struct {
	TenantID string `json:"tenantID"`
	UserID   string `json:"userID"`
	JobType  string `json:"jobType"`
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s/%s", s.TenantID, s.UserID, s.JobType)
}

// ArtifactPaths holds the files produced by one job
type ArtifactPaths struct {
	CSV   string `json:"csv"`
	Index string `json:"index"`
	Log   string `json:"log"`
}

// Column describes one CSV column and where its value comes from
type Column struct {
	Key      string `json:"key"`      // record field
	Label    string `json:"label"`    // header text
	Summable bool   `json:"summable"` // accumulated into the totals row
}

// Header returns the header text, falling back to the key.
func (c Column) Header() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Key
}

// QueryDefinition tells the worker which record source to drain and which
// records of it belong in the report. Source, Query and Path come from the
// server's report catalog; only Filters and Period come from the caller.
type QueryDefinition struct {
	Source  string            `json:"source"`          // sql, csv
	Query   string            `json:"query,omitempty"` // for sql
	Params  map[string]string `json:"params,omitempty"` // named sql parameters, e.g. :tenant
	Path    string            `json:"path,omitempty"`   // for csv, relative to the source dir
	Filters []RangeFilter     `json:"filters,omitempty"`
	Period  *DateRange        `json:"period,omitempty"`
}

// Stats is the worker-owned blob persisted with the job. The dispatcher only
// writes the initial query and column layout.
type Stats struct {
	Query   QueryDefinition    `json:"query"`
	Columns []Column           `json:"columns"`
	Sums    map[string]float64 `json:"sums"`
}

// Encode serializes the stats blob for storage.
func (s Stats) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeStats parses a stored stats blob.
func DecodeStats(b []byte) (Stats, error) {
	var s Stats
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("decode stats: %w", err)
	}
	return s, nil
}

// Job is the persisted control record of one export run
type Job struct {
	ID               string        `json:"id"`
	Scope            Scope         `json:"scope"`
	Status           JobStatus     `json:"status"`
	Active           bool          `json:"active"`
	RecordsToProcess int           `json:"recordsToProcess"`
	RecordsCompleted int           `json:"recordsCompleted"`
	Stats            Stats         `json:"stats"`
	Artifacts        ArtifactPaths `json:"artifacts"`
	ErrorMessage     string        `json:"errorMessage,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	ExpiresAt        time.Time     `json:"expiresAt"`
}

// Expired reports whether housekeeping may delete the job.
func (j *Job) Expired(now time.Time) bool {
	return !j.ExpiresAt.IsZero() && !now.Before(j.ExpiresAt)
}

// View returns the status projection handed to pollers.
func (j *Job) View() JobView {
	return JobView{
		JobID:            j.ID,
		Status:           j.Status,
		RecordsCompleted: j.RecordsCompleted,
		RecordsToProcess: j.RecordsToProcess,
	}
}
