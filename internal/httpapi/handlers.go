package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lexiqai/caption-gateway/internal/jobs"
	"github.com/lexiqai/caption-gateway/internal/transcript"
)

// Multipart fields accepted by the upload endpoint, in order of preference
var uploadFields = []string{"audio", "file"}

type errorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

type uploadResponse struct {
	JobID string `json:"jobId"`
}

type resultResponse struct {
	ID     string       `json:"id"`
	Status jobs.Status  `json:"status"`
	Result *jobs.Result `json:"result"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleExportSRT(w http.ResponseWriter, r *http.Request) {
	segments, err := transcript.ReadSegments(s.deps.TranscriptPath)
	if err != nil {
		s.logger.Error().Err(err).Str("path", s.deps.TranscriptPath).Msg("Failed to export SRT")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "export_failed"})
		return
	}

	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="lecture.srt"`)
	_, _ = io.WriteString(w, transcript.RenderSRT(segments))
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "async_unavailable"})
		return
	}

	if s.deps.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "file_too_large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	path, err := s.saveUpload(r)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no_file"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to store upload")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "upload_failed"})
		return
	}

	jobID := s.deps.Jobs.Submit(path)
	s.logger.Info().Str("job_id", jobID).Str("file", path).Msg("Upload accepted")
	writeJSON(w, http.StatusOK, uploadResponse{JobID: jobID})
}

// saveUpload copies the first accepted multipart file into the uploads dir
func (s *server) saveUpload(r *http.Request) (string, error) {
	for _, field := range uploadFields {
		src, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return "", err
		}
		defer src.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if len(ext) > 10 {
			ext = ""
		}
		path := filepath.Join(s.deps.UploadsDir, uuid.NewString()+ext)

		dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return "", fmt.Errorf("create upload file: %w", err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			os.Remove(path)
			return "", fmt.Errorf("write upload file: %w", err)
		}
		if err := dst.Close(); err != nil {
			return "", fmt.Errorf("close upload file: %w", err)
		}
		return path, nil
	}
	return "", http.ErrMissingFile
}

func (s *server) lookupJob(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	if s.deps.Jobs == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found"})
		return jobs.Job{}, false
	}
	job, err := s.deps.Jobs.Registry().Get(chi.URLParam(r, "jobID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found"})
		return jobs.Job{}, false
	}
	return job, true
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	job.Result = nil
	writeJSON(w, http.StatusOK, job)
}

func (s *server) handleResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Status != jobs.StatusCompleted {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "not_ready", Status: string(job.Status)})
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{ID: job.ID, Status: job.Status, Result: job.Result})
}
