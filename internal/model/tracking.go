package model

import "time"

// ArtifactKind names what a token grants access to
type ArtifactKind string

const (
	ArtifactMonitor  ArtifactKind = "monitor"
	ArtifactDownload ArtifactKind = "download"
)

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	return k == ArtifactMonitor || k == ArtifactDownload
}

// ArtifactToken binds an opaque value to one (job, kind) pair
type ArtifactToken struct {
	JobID     string       `json:"jobID"`
	Kind      ArtifactKind `json:"kind"`
	TenantID  string       `json:"tenantID"`
	UserID    string       `json:"userID"`
	Value     string       `json:"-"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// JobView is the progress snapshot returned by PollStatus
type JobView struct {
	JobID            string    `json:"jobID"`
	Status           JobStatus `json:"status"`
	RecordsCompleted int       `json:"recordsCompleted"`
	RecordsToProcess int       `json:"recordsToProcess"`
}

// JobError is one diagnostic recorded against a job
type JobError struct {
	JobID     string    `json:"jobID"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
