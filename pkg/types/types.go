package types

import (
	"fmt"
	"time"
)

// Mode selects the output format of an extraction.
type Mode string

const (
	ModeText     Mode = "text"
	ModeMarkdown Mode = "markdown"
)

// ParseMode validates a mode string, defaulting empty input to text.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeText, nil
	case ModeText, ModeMarkdown:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unrecognized mode: %q", s)
	}
}

// JobStatus represents the lifecycle state of an extraction job
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusDownloading JobStatus = "downloading"
	StatusExtracting  JobStatus = "extracting"
	StatusUploading   JobStatus = "uploading"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible without a
// fresh submission.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether the job is queued or being worked on.
func (s JobStatus) IsActive() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusExtracting, StatusUploading:
		return true
	}
	return false
}

// ExtractRequest represents a text extraction submission
type ExtractRequest struct {
	DocumentID      string `json:"document_id" binding:"required,uuid"`
	SourceReference string `json:"source_reference" binding:"required"`
	Mode            string `json:"mode,omitempty" binding:"omitempty,oneof=text markdown"`
}

// ExtractResponse represents the response to a submission
type ExtractResponse struct {
	DocumentID   string `json:"document_id"`
	Mode         Mode   `json:"mode"`
	Accepted     bool   `json:"accepted"`
	Deduplicated bool   `json:"deduplicated"`
	JobToken     string `json:"job_token,omitempty"`
	Message      string `json:"message"`
}

// StatusResponse represents the response to a status query
type StatusResponse struct {
	DocumentID      string     `json:"document_id"`
	Mode            Mode       `json:"mode"`
	Status          JobStatus  `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	PageCount       int        `json:"page_count"`
	TextLength      int        `json:"text_length"`
	RetryCount      int        `json:"retry_count"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	JobToken        string     `json:"job_token,omitempty"`
	ResultLocation  string     `json:"result_location,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// CancelResponse represents the response to a cancellation request
type CancelResponse struct {
	DocumentID string `json:"document_id"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version"`
	ActiveJobs int       `json:"active_jobs"`
	Queue      string    `json:"queue"`
}
