package models

import "encoding/json"

// JobStatus is the lifecycle state of a remote asynchronous computation.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusUploading  JobStatus = "uploading"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is a snapshot of a server-side computation as reported by the remote
// service. The service mutates it; we only observe it by polling.
// Result is present only when Status is completed, Error only when failed.
type Job struct {
	ID       string          `json:"job_id"`
	Status   JobStatus       `json:"status"`
	Progress int             `json:"progress"`
	Message  string          `json:"message,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Visualization asset types produced by the plant-count model.
const (
	AssetCounting      = "counting"
	AssetSizeAnnotated = "size_annotated"
	AssetSizeColored   = "size_colored"
	AssetHeatmap       = "heatmap"
)

// ValidAssetType reports whether t names a downloadable result image.
func ValidAssetType(t string) bool {
	switch t {
	case AssetCounting, AssetSizeAnnotated, AssetSizeColored, AssetHeatmap:
		return true
	}
	return false
}
