package domain

import (
	"database/sql"
	"time"
)

// JobStatus is the lifecycle state of a render job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusError    JobStatus = "error"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusError
}

// ErrorKind tells apart the reasons a job ended in JobStatusError.
type ErrorKind string

const (
	ErrorKindNone           ErrorKind = ""
	ErrorKindCancelled      ErrorKind = "cancelled"
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindEncodingFailed ErrorKind = "encoding_failed"
	ErrorKindInternal       ErrorKind = "internal"
)

// RenderJob is the persisted record of one render request.
type RenderJob struct {
	ID           string
	Status       JobStatus
	Mode         RenderMode
	Progress     float64 // percent, 0-100
	ErrorMessage string
	ErrorKind    ErrorKind
	OutputPath   string
	OutputName   string
	UploadID     string
	InputPath    string
	CreatedAt    time.Time
	StartedAt    sql.NullTime
	FinishedAt   sql.NullTime
}

// NewRenderJob returns a queued job created now.
func NewRenderJob(id string, mode RenderMode, inputPath, uploadID string) *RenderJob {
	return &RenderJob{
		ID:        id,
		Status:    JobStatusQueued,
		Mode:      mode,
		InputPath: inputPath,
		UploadID:  uploadID,
		CreatedAt: time.Now().UTC(),
	}
}

func (j *RenderJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

func (j *RenderJob) MarkRunning(now time.Time) {
	j.Status = JobStatusRunning
	j.StartedAt = sql.NullTime{Time: now, Valid: true}
}

// MarkComplete records a successful render. Output fields and status are set
// together so a snapshot never shows complete without an output.
func (j *RenderJob) MarkComplete(outputPath, outputName string, now time.Time) {
	j.Status = JobStatusComplete
	j.Progress = 100
	j.OutputPath = outputPath
	j.OutputName = outputName
	j.ErrorMessage = ""
	j.ErrorKind = ErrorKindNone
	j.FinishedAt = sql.NullTime{Time: now, Valid: true}
}

// MarkFailed moves the job to error with the given kind and message.
func (j *RenderJob) MarkFailed(kind ErrorKind, message string, now time.Time) {
	j.Status = JobStatusError
	j.ErrorKind = kind
	j.ErrorMessage = message
	j.OutputPath = ""
	j.FinishedAt = sql.NullTime{Time: now, Valid: true}
}

// Cancelled reports whether the job was stopped on request.
func (j *RenderJob) Cancelled() bool {
	return j.Status == JobStatusError && j.ErrorKind == ErrorKindCancelled
}
