package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bnema/lapclock/internal/adapter/http/validation"
	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/infrastructure/logger"
	"github.com/bnema/lapclock/internal/service"
)

// multipartMemory is how much of an upload is buffered in memory before the
// rest spills to a temporary file.
const multipartMemory = 32 << 20

// JobService is the part of the orchestrator driven over HTTP.
type JobService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (string, error)
	SubmitUpload(ctx context.Context, uploadID string, laps []domain.RawLap, mode domain.RenderMode, startOffset float64) (string, error)
	Status(id string) (domain.RenderJob, error)
	List() ([]domain.RenderJob, error)
	Cancel(id string) error
}

// UploadService accepts and lists uploaded session videos.
type UploadService interface {
	Add(filename string, src io.Reader) (*domain.Upload, error)
	Get(id string) (*domain.Upload, error)
	List() ([]*domain.Upload, error)
}

// Handlers serves the JSON job and upload API.
type Handlers struct {
	jobs            JobService
	uploads         UploadService
	maxSizeMB       int
	defaultMode     domain.RenderMode
	allowInputPaths bool
	log             zerolog.Logger
}

func NewHandlers(jobs JobService, uploads UploadService, cfg Config) *Handlers {
	return &Handlers{
		jobs:            jobs,
		uploads:         uploads,
		maxSizeMB:       cfg.MaxUploadSizeMB,
		defaultMode:     cfg.DefaultMode,
		allowInputPaths: cfg.AllowInputPaths,
		log:             logger.WithComponent("http"),
	}
}

type submitJobRequest struct {
	UploadID    string          `json:"upload_id"`
	InputPath   string          `json:"input_path"`
	Filename    string          `json:"filename"`
	Laps        []domain.RawLap `json:"laps"`
	Mode        string          `json:"mode"`
	StartOffset float64         `json:"start_offset"`
}

type jobResponse struct {
	ID         string            `json:"id"`
	Status     domain.JobStatus  `json:"status"`
	Mode       domain.RenderMode `json:"mode"`
	Progress   float64           `json:"progress"`
	ErrorKind  domain.ErrorKind  `json:"error_kind,omitempty"`
	Error      string            `json:"error,omitempty"`
	UploadID   string            `json:"upload_id,omitempty"`
	OutputName string            `json:"output_name,omitempty"`
	OutputURL  string            `json:"output_url,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

func newJobResponse(job domain.RenderJob) jobResponse {
	resp := jobResponse{
		ID:         job.ID,
		Status:     job.Status,
		Mode:       job.Mode,
		Progress:   job.Progress,
		ErrorKind:  job.ErrorKind,
		Error:      job.ErrorMessage,
		UploadID:   job.UploadID,
		OutputName: job.OutputName,
		CreatedAt:  job.CreatedAt,
	}
	if job.Status == domain.JobStatusComplete {
		resp.OutputURL = "/jobs/" + job.ID + "/output"
	}
	if job.StartedAt.Valid {
		t := job.StartedAt.Time
		resp.StartedAt = &t
	}
	if job.FinishedAt.Valid {
		t := job.FinishedAt.Time
		resp.FinishedAt = &t
	}
	return resp
}

type uploadResponse struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

func newUploadResponse(up *domain.Upload) uploadResponse {
	return uploadResponse{ID: up.ID, Filename: up.Filename, Size: up.Size, CreatedAt: up.CreatedAt}
}

// Upload stores a multipart "file" field after checking its size and magic
// bytes, and responds 201 with the upload record.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxSizeMB)*1024*1024)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close() //nolint:errcheck

	mime, allowed, err := validation.ValidateMagicBytes(file)
	if err != nil {
		h.log.Error().Err(err).Msg("read upload header")
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}
	if !allowed {
		h.log.Warn().
			Str("filename", logger.SanitizeForLog(header.Filename)).
			Str("mime", mime).
			Msg("rejected upload")
		writeError(w, http.StatusUnsupportedMediaType, validation.ErrDisallowedFileType.Error()+": "+mime)
		return
	}

	upload, err := h.uploads.Add(validation.SanitizeFilename(header.Filename), file)
	if err != nil {
		h.log.Error().Err(err).Str("filename", logger.SanitizeForLog(header.Filename)).Msg("store upload")
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	writeJSON(w, http.StatusCreated, newUploadResponse(upload))
}

func (h *Handlers) ListUploads(w http.ResponseWriter, _ *http.Request) {
	uploads, err := h.uploads.List()
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]uploadResponse, len(uploads))
	for i, up := range uploads {
		out[i] = newUploadResponse(up)
	}
	writeJSON(w, http.StatusOK, out)
}

// SubmitJob queues a render for an upload or, when enabled, a server path.
func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	switch {
	case req.UploadID == "" && req.InputPath == "":
		writeError(w, http.StatusBadRequest, "one of upload_id or input_path is required")
		return
	case req.UploadID != "" && req.InputPath != "":
		writeError(w, http.StatusBadRequest, "upload_id and input_path are mutually exclusive")
		return
	case req.InputPath != "" && !h.allowInputPaths:
		writeError(w, http.StatusForbidden, "input_path is disabled on this server")
		return
	}

	mode := domain.ParseMode(req.Mode)
	if mode == "" {
		mode = h.defaultMode
	}

	var (
		id  string
		err error
	)
	if req.UploadID != "" {
		id, err = h.jobs.SubmitUpload(r.Context(), req.UploadID, req.Laps, mode, req.StartOffset)
	} else {
		id, err = h.jobs.Submit(r.Context(), service.SubmitRequest{
			InputPath:   req.InputPath,
			Filename:    req.Filename,
			Laps:        req.Laps,
			Mode:        mode,
			StartOffset: req.StartOffset,
		})
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/jobs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *Handlers) ListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs, err := h.jobs.List()
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]jobResponse, len(jobs))
	for i, job := range jobs {
		out[i] = newJobResponse(job)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Status(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

// CancelJob requests cancellation and responds 202; the job settles
// asynchronously.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.jobs.Cancel(id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// Output serves the rendered video. ?inline=1 lets a browser play it in place.
func (h *Handlers) Output(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Status(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if job.Status != domain.JobStatusComplete {
		writeError(w, http.StatusConflict, "job has no output: status "+string(job.Status))
		return
	}

	f, err := os.Open(job.OutputPath)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID).Msg("open output")
		writeError(w, http.StatusNotFound, "output file missing")
		return
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stat output")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", validation.ContentDisposition(job.OutputName, r.URL.Query().Get("inline") == "1"))
	http.ServeContent(w, r, job.OutputName, info.ModTime(), f)
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidLapData),
		errors.Is(err, domain.ErrOverlappingWindows),
		errors.Is(err, domain.ErrInvalidVideo):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInputNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTerminal):
		return http.StatusConflict
	case errors.Is(err, service.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
