package entity

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of an async job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JobKind identifies the type of deferred work
type JobKind string

const (
	JobKindIngestDocument JobKind = "ingest_document"
	JobKindGenerateBatch  JobKind = "generate_batch"
	JobKindExportReport   JobKind = "export_report"
	JobKindCleanup        JobKind = "cleanup_artifact"
)

// AsyncJob represents one unit of deferred work executed by the job runner
type AsyncJob struct {
	JobID   string  `json:"job_id"`
	Kind    JobKind `json:"kind"`
	Payload []byte  `json:"payload"`

	// Progress is a coarse-grained completion percentage in [0,100].
	Progress int       `json:"progress"`
	Status   JobStatus `json:"status"`

	ResultArtifactPath string    `json:"result_artifact_path,omitempty"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	EnqueuedAt         time.Time `json:"enqueued_at"`
	StartedAt          time.Time `json:"started_at,omitempty"`
	FinishedAt         time.Time `json:"finished_at,omitempty"`

	// ScheduledCleanupAt is set once a result artifact exists; a delayed
	// cleanup job deletes the artifact after the retention window.
	ScheduledCleanupAt time.Time `json:"scheduled_cleanup_at,omitempty"`
}

// NewAsyncJob creates a queued job with a generated id
func NewAsyncJob(kind JobKind, payload []byte) *AsyncJob {
	return &AsyncJob{
		JobID:      uuid.New().String(),
		Kind:       kind,
		Payload:    payload,
		Status:     JobStatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}
}
