package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-gateway/internal/config"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/resilience"
)

// Asynchronous transcription states reported by the provider
const (
	AsyncQueued     = "queued"
	AsyncProcessing = "processing"
	AsyncCompleted  = "completed"
	AsyncError      = "error"
)

const asyncBreakerName = "soniox_async"

// TranscriptionStatus is the provider's view of one async transcription
type TranscriptionStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Transcript is the flat token list of a completed transcription
type Transcript struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Tokens []Token `json:"tokens"`
}

type fileResponse struct {
	ID string `json:"id"`
}

type createTranscriptionRequest struct {
	Model                    string             `json:"model"`
	FileID                   string             `json:"file_id"`
	LanguageHints            []string           `json:"language_hints,omitempty"`
	EnableSpeakerDiarization bool               `json:"enable_speaker_diarization"`
	Translation              *TranslationConfig `json:"translation,omitempty"`
}

// AsyncClient talks to the Soniox file transcription REST API. Every call
// goes through a circuit breaker shared by all jobs.
type AsyncClient struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client

	model          string
	languageHints  []string
	targetLanguage string
	breaker        *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewAsyncClient creates a REST client from service config
func NewAsyncClient(cfg *config.Config) *AsyncClient {
	return &AsyncClient{
		APIKey:         cfg.SonioxAPIKey,
		BaseURL:        strings.TrimRight(cfg.SonioxAPIURL, "/"),
		HTTPClient:     &http.Client{},
		model:          cfg.AsyncModel,
		languageHints:  cfg.LanguageHints,
		targetLanguage: cfg.TranslationTarget(),
		breaker: resilience.NewCircuitBreaker(
			asyncBreakerName,
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: observability.WithComponent("soniox_async"),
	}
}

// call runs fn under the circuit breaker and publishes its state
func (c *AsyncClient) call(fn func() error) error {
	err := c.breaker.Call(fn)
	observability.UpdateCircuitBreakerState(asyncBreakerName, int(c.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures(asyncBreakerName)
	}
	return err
}

// UploadFile streams a local file to the provider's file store and returns
// its file id
func (c *AsyncClient) UploadFile(ctx context.Context, path string) (string, error) {
	var fileID string
	err := c.call(func() error {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open upload: %w", err)
		}
		defer file.Close()

		pr, pw := io.Pipe()
		writer := multipart.NewWriter(pw)
		go func() {
			part, err := writer.CreateFormFile("file", filepath.Base(path))
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, file); err != nil {
				pw.CloseWithError(err)
				return
			}
			pw.CloseWithError(writer.Close())
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/files", pr)
		if err != nil {
			pr.Close()
			return err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())

		var out fileResponse
		if err := c.do(req, &out); err != nil {
			return fmt.Errorf("file upload failed: %w", err)
		}
		fileID = out.ID
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug().Str("file_id", fileID).Str("path", path).Msg("Uploaded file")
	return fileID, nil
}

// CreateTranscription starts an async transcription of an uploaded file
func (c *AsyncClient) CreateTranscription(ctx context.Context, fileID string) (string, error) {
	body := createTranscriptionRequest{
		Model:                    c.model,
		FileID:                   fileID,
		LanguageHints:            c.languageHints,
		EnableSpeakerDiarization: true,
	}
	if c.targetLanguage != "" {
		body.Translation = &TranslationConfig{Type: "one_way", TargetLanguage: c.targetLanguage}
	}

	var status TranscriptionStatus
	err := c.call(func() error {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/transcriptions", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		if err := c.do(req, &status); err != nil {
			return fmt.Errorf("create transcription failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return status.ID, nil
}

// GetTranscription returns the current status of a transcription
func (c *AsyncClient) GetTranscription(ctx context.Context, transcriptionID string) (*TranscriptionStatus, error) {
	var status TranscriptionStatus
	err := c.call(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/transcriptions/"+transcriptionID, nil)
		if err != nil {
			return err
		}
		if err := c.do(req, &status); err != nil {
			return fmt.Errorf("get transcription failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// GetTranscript fetches the token list of a completed transcription
func (c *AsyncClient) GetTranscript(ctx context.Context, transcriptionID string) (*Transcript, error) {
	var transcript Transcript
	err := c.call(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/transcriptions/"+transcriptionID+"/transcript", nil)
		if err != nil {
			return err
		}
		if err := c.do(req, &transcript); err != nil {
			return fmt.Errorf("get transcript failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &transcript, nil
}

// do sends an authenticated request and decodes a 2xx JSON response
func (c *AsyncClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status code: %d, response body: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
