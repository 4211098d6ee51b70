/**
 * HTTP API for the MRZ worker
 *
 * - GET  /health                   dependency checks
 * - GET  /metrics                  Prometheus exposition
 * - GET  /stats                    queue and storage statistics
 * - POST /api/v1/mrz/parse         decode caller supplied OCR text
 * - POST /api/v1/mrz/scan          synchronous scan of an uploaded file
 * - POST /api/v1/mrz/jobs          queue a scan (upload or fileUrl)
 * - GET  /api/v1/mrz/jobs/{id}     job status with its record
 * - GET  /api/v1/mrz/records/{id}  stored record
 */

package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
	"github.com/adverant/nexus/mrz-worker/internal/processor"
	"github.com/adverant/nexus/mrz-worker/internal/queue"
	"github.com/adverant/nexus/mrz-worker/internal/storage"
)

// maxTextBody bounds /parse request bodies.
const maxTextBody = 64 << 10

// JobStore reads jobs and records back.
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*storage.Job, error)
	GetRecord(ctx context.Context, recordID string) (*storage.StoredRecord, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// StatsSource reports statistics for one subsystem.
type StatsSource func(ctx context.Context) (map[string]interface{}, error)

// Config wires the handler. Producer, Jobs and Metrics may be nil; the
// corresponding routes then answer 503 (or fall back to the default registry).
type Config struct {
	Processor     processor.ScanProcessorInterface
	Producer      queue.Producer
	Jobs          JobStore
	Checks        map[string]HealthCheck
	Stats         map[string]StatsSource
	Metrics       http.Handler
	MaxUploadSize int64
	Logger        *slog.Logger
}

// Handler serves the MRZ HTTP API.
type Handler struct {
	processor processor.ScanProcessorInterface
	producer  queue.Producer
	jobs      JobStore
	checks    map[string]HealthCheck
	stats     map[string]StatsSource
	metrics   http.Handler
	maxUpload int64
	logger    *slog.Logger
}

// New creates a Handler.
func New(cfg Config) *Handler {
	h := &Handler{
		processor: cfg.Processor,
		producer:  cfg.Producer,
		jobs:      cfg.Jobs,
		checks:    cfg.Checks,
		stats:     cfg.Stats,
		metrics:   cfg.Metrics,
		maxUpload: cfg.MaxUploadSize,
		logger:    cfg.Logger,
	}
	if h.metrics == nil {
		h.metrics = promhttp.Handler()
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 20 << 20
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Router returns the chi router with all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.metrics)
	r.Get("/stats", h.handleStats)

	r.Route("/api/v1/mrz", func(r chi.Router) {
		r.Post("/parse", h.handleParse)
		r.Post("/scan", h.handleScan)
		r.Post("/jobs", h.handleCreateJob)
		r.Get("/jobs/{id}", h.handleGetJob)
		r.Get("/records/{id}", h.handleGetRecord)
	})

	return r
}

type parseRequest struct {
	Text string `json:"text"`
}

// parseResponse carries the verdict next to the full record.
type parseResponse struct {
	Status string      `json:"status"`
	Errors []string    `json:"errors"`
	Record interface{} `json:"record"`
}

func (h *Handler) handleParse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req parseRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTextBody)).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeBadRequest(w, "text is required")
		return
	}

	rec, err := h.processor.ParseText(ctx, req.Text)
	if err != nil {
		h.logger.InfoContext(ctx, "parse produced no record",
			"request_id", middleware.GetReqID(ctx),
			"error", err,
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, parseResponse{
		Status: string(rec.Status),
		Errors: rec.ErrorMessages(),
		Record: rec,
	})
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	upload, err := h.readUpload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	req := &processor.ScanRequest{
		JobID:      uuid.New().String(),
		Filename:   upload.filename,
		MimeType:   upload.mimeType,
		FileSize:   int64(len(upload.data)),
		FileBuffer: upload.data,
	}

	result, err := h.processor.ProcessScan(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "scan failed",
			"request_id", middleware.GetReqID(ctx),
			"job_id", req.JobID,
			"error", err,
		)
		writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "scan complete",
		"request_id", middleware.GetReqID(ctx),
		"job_id", req.JobID,
		"status", result.Record.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, result)
}

type createJobRequest struct {
	FileURL  string                 `json:"fileUrl"`
	Filename string                 `json:"filename,omitempty"`
	MimeType string                 `json:"mimeType,omitempty"`
	FileSize int64                  `json:"fileSize,omitempty"`
	UserID   string                 `json:"userId,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type createJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (h *Handler) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.producer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "QUEUE_UNAVAILABLE"})
		return
	}

	payload := &queue.JobPayload{JobID: uuid.New().String()}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		upload, err := h.readUpload(w, r)
		if err != nil {
			writeError(w, err)
			return
		}
		payload.Filename = upload.filename
		payload.MimeType = upload.mimeType
		payload.FileSize = int64(len(upload.data))
		payload.FileBuffer = upload.data
	} else {
		var req createJobRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxTextBody)).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		if req.FileURL == "" {
			writeBadRequest(w, "fileUrl is required")
			return
		}
		payload.FileURL = req.FileURL
		payload.Filename = req.Filename
		payload.MimeType = req.MimeType
		payload.FileSize = req.FileSize
		payload.UserID = req.UserID
		payload.Metadata = req.Metadata
	}

	if err := h.processor.UpdateJobStatus(ctx, payload.JobID, storage.JobStatusQueued, map[string]interface{}{
		"filename": payload.Filename,
		"mimeType": payload.MimeType,
	}); err != nil {
		h.logger.ErrorContext(ctx, "failed to record queued job", "job_id", payload.JobID, "error", err)
		writeError(w, apperrors.NewDatabaseFailedError(payload.JobID, "create job", err))
		return
	}

	jobID, err := h.producer.Enqueue(ctx, payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to enqueue job", "job_id", payload.JobID, "error", err)
		writeError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/mrz/jobs/"+jobID)
	writeJSON(w, http.StatusAccepted, createJobResponse{JobID: jobID, Status: storage.JobStatusQueued})
}

type jobResponse struct {
	*storage.Job
	Record *storage.StoredRecord `json:"record,omitempty"`
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "STORAGE_UNAVAILABLE"})
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeBadRequest(w, "job id must be a UUID")
		return
	}

	job, err := h.jobs.GetJobByID(ctx, id)
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}

	resp := jobResponse{Job: job}
	if job.RecordID != "" {
		rec, err := h.jobs.GetRecord(ctx, job.RecordID)
		if err != nil {
			h.writeLookupError(w, r, err)
			return
		}
		resp.Record = rec
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "STORAGE_UNAVAILABLE"})
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeBadRequest(w, "record id must be a UUID")
		return
	}

	rec, err := h.jobs.GetRecord(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if stderrors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Description: err.Error()})
		return
	}
	h.logger.ErrorContext(r.Context(), "lookup failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "INTERNAL_ERROR"})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}

// handleStats collects every source; a failing source reports its error
// in place of its numbers.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	out := make(map[string]interface{}, len(h.stats))
	for name, source := range h.stats {
		stats, err := source(ctx)
		if err != nil {
			h.logger.WarnContext(ctx, "stats source failed", "source", name, "error", err)
			out[name] = map[string]interface{}{"error": err.Error()}
			continue
		}
		out[name] = stats
	}

	writeJSON(w, http.StatusOK, out)
}

type upload struct {
	filename string
	mimeType string
	data     []byte
}

// readUpload reads the multipart "file" field within the upload limit.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return nil, apperrors.NewInvalidInputError("", fmt.Sprintf("invalid multipart body: %v", err))
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, apperrors.NewInvalidInputError("", "multipart field \"file\" is required")
	}
	defer file.Close()

	data, err := readLimited(file, h.maxUpload)
	if err != nil {
		return nil, err
	}

	return &upload{
		filename: header.Filename,
		mimeType: header.Header.Get("Content-Type"),
		data:     data,
	}, nil
}

func readLimited(file multipart.File, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, apperrors.NewInvalidInputError("", fmt.Sprintf("read upload: %v", err))
	}
	if int64(len(data)) > limit {
		return nil, apperrors.NewInvalidInputError("", fmt.Sprintf("file exceeds %d bytes", limit))
	}
	return data, nil
}
