package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrJobNotFound is returned for unknown job ids
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned for a backward or terminal transition
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Registry is the process-wide job table. Each job is written only by its
// own pipeline goroutine; reads return copies.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Create registers a new job in the uploading state
func (r *Registry) Create(filePath string) Job {
	now := r.now()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusUploading,
		FilePath:  filePath,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
	return *job
}

// Get returns a snapshot of the job
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// update applies fn to the job under the write lock
func (r *Registry) update(id string, fn func(job *Job) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if err := fn(job); err != nil {
		return err
	}
	job.UpdatedAt = r.now()
	return nil
}

func transition(job *Job, to Status) error {
	if !isValidTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}
	job.Status = to
	return nil
}

// Transition moves the job to a new non-terminal or terminal status
func (r *Registry) Transition(id string, to Status) error {
	return r.update(id, func(job *Job) error {
		return transition(job, to)
	})
}

// SetProgress raises the progress of a running job. Lower values are
// ignored so progress never goes backwards.
func (r *Registry) SetProgress(id string, progress int) error {
	return r.update(id, func(job *Job) error {
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: job is %s", ErrInvalidTransition, job.Status)
		}
		progress = min(max(progress, 0), 100)
		if progress > job.Progress {
			job.Progress = progress
		}
		return nil
	})
}

func (r *Registry) SetTranscriptionID(id, transcriptionID string) error {
	return r.update(id, func(job *Job) error {
		job.TranscriptionID = transcriptionID
		return nil
	})
}

// Complete stores the result and finishes the job at 100%
func (r *Registry) Complete(id string, result *Result) error {
	return r.update(id, func(job *Job) error {
		if err := transition(job, StatusCompleted); err != nil {
			return err
		}
		job.Progress = 100
		job.Result = result
		return nil
	})
}

// Fail finishes the job with a human-readable error
func (r *Registry) Fail(id string, message string) error {
	return r.update(id, func(job *Job) error {
		if err := transition(job, StatusError); err != nil {
			return err
		}
		job.Error = message
		return nil
	})
}
