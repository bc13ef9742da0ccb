package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Artifact file names inside a job directory
const (
	ReportFileName = "report.csv"
	IndexFileName  = "report.idx"
	LogFileName    = "job.log"
)

// OutputManager handles output file organization and path management
type OutputManager struct {
	BaseOutputDir string
}

// NewOutputManager creates a new output manager
func NewOutputManager(baseOutputDir string) *OutputManager {
	return &OutputManager{
		BaseOutputDir: baseOutputDir,
	}
}

// JobDir returns the directory holding a job's artifacts
func (om *OutputManager) JobDir(jobID string) string {
	return filepath.Join(om.BaseOutputDir, jobID)
}

// CreateJobOutputDir creates the directory for a job's outputs
func (om *OutputManager) CreateJobOutputDir(jobID string) (string, error) {
	if err := checkJobID(jobID); err != nil {
		return "", err
	}
	jobDir := om.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job output directory: %w", err)
	}
	return jobDir, nil
}

// GetOutputFilePath returns the full path of an output file without creating anything
func (om *OutputManager) GetOutputFilePath(jobID, fileName string) string {
	// Clean the filename to remove any path separators
	return filepath.Join(om.JobDir(jobID), filepath.Base(fileName))
}

// RemoveJobOutputDir deletes a job's directory and everything in it
func (om *OutputManager) RemoveJobOutputDir(jobID string) error {
	if err := checkJobID(jobID); err != nil {
		return err
	}
	if err := os.RemoveAll(om.JobDir(jobID)); err != nil {
		return fmt.Errorf("failed to remove job output directory: %w", err)
	}
	return nil
}

// FileExists reports whether path names an existing regular file
func (om *OutputManager) FileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// EnsureOutputDirExists ensures the base output directory exists
func (om *OutputManager) EnsureOutputDirExists() error {
	return os.MkdirAll(om.BaseOutputDir, 0755)
}

func checkJobID(jobID string) error {
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	return nil
}
