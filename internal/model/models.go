package model

import "time"

// RangeFilter bounds a numeric field; either side may be open
type RangeFilter struct {
	Field string   `json:"field"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// DateRange limits the report period on a date field
type DateRange struct {
	Field string    `json:"field"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

// StartRequest is the body of POST /api/v1/reports. Scope.JobType selects a
// report registered on the server; the caller narrows it with filters and a
// period. Columns default to the report's own layout.
type StartRequest struct {
	Scope   Scope         `json:"scope"`
	Columns []Column      `json:"columns,omitempty"`
	Filters []RangeFilter `json:"filters,omitempty"`
	Period  *DateRange    `json:"period,omitempty"`
}

// Tokens are the capability values returned to the job's requester
type Tokens struct {
	Monitor  string `json:"monitor"`
	Download string `json:"download"`
}

// StartResult is returned by StartJob for both new and reused jobs
type StartResult struct {
	JobID  string    `json:"jobID"`
	Status JobStatus `json:"status"`
	Tokens Tokens    `json:"tokens"`
	Reused bool      `json:"reused"`
}
