package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/config"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/stt"
)

// Progress checkpoints of the upload pipeline
const (
	progressUploaded = 30
	progressCreated  = 50
	progressPollCap  = 95
)

// Transcriber is the provider's file transcription API
type Transcriber interface {
	UploadFile(ctx context.Context, path string) (string, error)
	CreateTranscription(ctx context.Context, fileID string) (string, error)
	GetTranscription(ctx context.Context, transcriptionID string) (*stt.TranscriptionStatus, error)
	GetTranscript(ctx context.Context, transcriptionID string) (*stt.Transcript, error)
}

// Options bounds the polling of one job
type Options struct {
	PollInterval time.Duration
	ProgressStep int
	MaxWait      time.Duration // 0 waits until Shutdown
}

// OptionsFromConfig builds orchestrator options from service configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval: cfg.JobPollInterval(),
		ProgressStep: cfg.JobProgressStep,
		MaxWait:      cfg.JobMaxWait(),
	}
}

// Orchestrator runs upload transcription jobs in the background
type Orchestrator struct {
	registry *Registry
	client   Transcriber
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

func NewOrchestrator(registry *Registry, client Transcriber, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		registry: registry,
		client:   client,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		logger:   observability.WithComponent("jobs"),
	}
}

// Registry returns the job table queried by status and result handlers
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Submit creates a job for an uploaded file and returns its id at once
func (o *Orchestrator) Submit(filePath string) string {
	job := o.registry.Create(filePath)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(job.ID, filePath)
	}()
	return job.ID
}

// Shutdown cancels running jobs and waits for their goroutines
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) run(jobID, filePath string) {
	logger := observability.WithJobID(jobID)
	start := time.Now()

	ctx := o.ctx
	if o.opts.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.MaxWait)
		defer cancel()
	}

	logger.Info().Str("file", filePath).Msg("Transcription job started")

	status := StatusCompleted
	if err := o.pipeline(ctx, jobID, filePath); err != nil {
		status = StatusError
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("transcription did not finish within %s", o.opts.MaxWait)
		}
		if ferr := o.registry.Fail(jobID, msg); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to mark job as failed")
		}
		logger.Error().Err(err).Msg("Transcription job failed")
	} else {
		logger.Info().Dur("elapsed", time.Since(start)).Msg("Transcription job completed")
	}

	observability.RecordJobFinished(string(status), time.Since(start))
}

func (o *Orchestrator) pipeline(ctx context.Context, jobID, filePath string) error {
	fileID, err := o.client.UploadFile(ctx, filePath)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	if err := o.registry.Transition(jobID, StatusProcessing); err != nil {
		return err
	}
	_ = o.registry.SetProgress(jobID, progressUploaded)

	transcriptionID, err := o.client.CreateTranscription(ctx, fileID)
	if err != nil {
		return fmt.Errorf("create transcription failed: %w", err)
	}
	_ = o.registry.SetTranscriptionID(jobID, transcriptionID)
	_ = o.registry.SetProgress(jobID, progressCreated)

	progress := progressCreated
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st, err := o.client.GetTranscription(ctx, transcriptionID)
		if err != nil {
			return fmt.Errorf("poll failed: %w", err)
		}

		switch st.Status {
		case stt.AsyncCompleted:
			transcript, err := o.client.GetTranscript(ctx, transcriptionID)
			if err != nil {
				return fmt.Errorf("fetch transcript failed: %w", err)
			}
			return o.registry.Complete(jobID, Reshape(transcript.Tokens))

		case stt.AsyncError:
			msg := st.ErrorMessage
			if msg == "" {
				msg = "unknown provider error"
			}
			return fmt.Errorf("transcription failed: %s", msg)

		default:
			progress = min(progress+o.opts.ProgressStep, progressPollCap)
			_ = o.registry.SetProgress(jobID, progress)
		}
	}
}
