package jobs

import (
	"time"

	"github.com/lexiqai/caption-gateway/internal/stt"
)

// Status is the lifecycle state of an upload transcription job
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further transitions are allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Result is the reshaped transcript of a completed job
type Result struct {
	SourceText string      `json:"sourceText"`
	TargetText string      `json:"targetText"`
	RawTokens  []stt.Token `json:"rawTokens"`
}

// Job is a snapshot of one upload transcription job
type Job struct {
	ID              string    `json:"id"`
	Status          Status    `json:"status"`
	Progress        int       `json:"progress"`
	FilePath        string    `json:"filePath"`
	TranscriptionID string    `json:"transcriptionId,omitempty"`
	Result          *Result   `json:"result,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// isValidTransition enforces the forward-only job state machine
func isValidTransition(from, to Status) bool {
	switch from {
	case StatusUploading:
		return to == StatusProcessing || to == StatusError
	case StatusProcessing:
		return to == StatusCompleted || to == StatusError
	default:
		return false
	}
}
