/**
 * Scan Processor for the MRZ worker
 *
 * Turns one uploaded document into a verified MRZ record:
 * - load bytes from the job buffer or a download URL
 * - prepare an OCR frame (grayscale, upscaled raster or PDF page)
 * - OCR cascade (Tesseract, then MageAgent when no MRZ was found)
 * - extract, normalize, resolve and verify the MRZ
 * - persist the record and link near-duplicate scans
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
	"github.com/adverant/nexus/mrz-worker/internal/imagesource"
	"github.com/adverant/nexus/mrz-worker/internal/logging"
	"github.com/adverant/nexus/mrz-worker/internal/metrics"
	"github.com/adverant/nexus/mrz-worker/internal/mrz"
	"github.com/adverant/nexus/mrz-worker/internal/ocr"
	"github.com/adverant/nexus/mrz-worker/internal/storage"
)

// engineText names the pseudo engine used for plain-text uploads.
const engineText = "text"

var tracer = otel.Tracer("github.com/adverant/nexus/mrz-worker/internal/processor")

// ScanProcessorInterface is what queue consumers and the HTTP API need.
type ScanProcessorInterface interface {
	ProcessScan(ctx context.Context, req *ScanRequest) (*ScanResult, error)
	ParseText(ctx context.Context, text string) (*mrz.Record, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error
}

// RecordStore persists jobs and decoded records.
type RecordStore interface {
	StoreRecord(ctx context.Context, input *storage.RecordInput) (*storage.StoredRecord, error)
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	MaxFileSize       int64
	MinImageWidth     int
	OCRLanguage       string
	ProcessingTimeout time.Duration

	// Engines are tried in order; the first whose text holds an MRZ wins.
	Engines []ocr.Engine

	// Store may be nil, in which case records are not persisted.
	Store   RecordStore
	Metrics *metrics.Metrics
}

// ScanRequest represents one document to scan
type ScanRequest struct {
	JobID      string
	Filename   string
	MimeType   string
	FileSize   int64
	FileURL    string
	FileBuffer []byte
	Metadata   map[string]interface{}
	Progress   ocr.ProgressFunc
}

// ScanResult represents the processing result
type ScanResult struct {
	JobID            string      `json:"jobId"`
	RecordID         string      `json:"recordId,omitempty"`
	Record           *mrz.Record `json:"record"`
	DuplicateOf      []string    `json:"duplicateOf,omitempty"`
	OCREngine        string      `json:"ocrEngine"`
	Confidence       float64     `json:"confidence"`
	ProcessingTimeMs int64       `json:"processingTimeMs"`
}

// ScanProcessor handles MRZ scans
type ScanProcessor struct {
	config       *ProcessorConfig
	engine       ocr.Engine
	store        RecordStore
	metrics      *metrics.Metrics
	httpClient   *http.Client
	retryBackoff time.Duration
	logger       *logging.Logger
}

// AcceptMRZ accepts OCR output that yields a decodable MRZ.
func AcceptMRZ(r *ocr.Result) bool {
	_, err := mrz.Process(ocr.CleanText(r.Text))
	return err == nil
}

// NewScanProcessor creates a new scan processor
func NewScanProcessor(cfg *ProcessorConfig) (*ScanProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var engine ocr.Engine
	if len(cfg.Engines) > 0 {
		engine = ocr.NewCascade(AcceptMRZ, cfg.Engines...)
	}

	return &ScanProcessor{
		config:  cfg,
		engine:  engine,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		retryBackoff: time.Second,
		logger:       logging.NewLogger("ScanProcessor"),
	}, nil
}

// ProcessScan runs the full pipeline for one document.
func (p *ScanProcessor) ProcessScan(ctx context.Context, req *ScanRequest) (*ScanResult, error) {
	if req == nil || req.JobID == "" {
		return nil, apperrors.NewInvalidInputError("", "job ID is required")
	}

	start := time.Now()
	log := p.logger.With("jobId", req.JobID)

	if p.config.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ProcessingTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "mrz.ProcessScan", trace.WithAttributes(
		attribute.String("job.id", req.JobID),
		attribute.String("file.mime_type", req.MimeType),
	))
	defer span.End()

	result, err := p.processScan(ctx, req, log)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) && apperrors.CodeOf(err) == "" {
			err = apperrors.NewProcessingTimeoutError(req.JobID, p.config.ProcessingTimeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("Scan failed", "error", err, "code", apperrors.CodeOf(err))
		return nil, err
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.String("mrz.format", result.Record.Format.String()),
		attribute.String("mrz.status", string(result.Record.Status)),
	)
	log.Info("Scan complete",
		"format", result.Record.Format.String(),
		"status", result.Record.Status,
		"engine", result.OCREngine,
		"durationMs", result.ProcessingTimeMs)

	return result, nil
}

func (p *ScanProcessor) processScan(ctx context.Context, req *ScanRequest, log *logging.Logger) (*ScanResult, error) {
	data, err := p.loadFile(ctx, req)
	if err != nil {
		return nil, err
	}

	frame, err := imagesource.Load(data, req.MimeType, imagesource.Options{MinWidth: p.config.MinImageWidth})
	if err != nil {
		return nil, withJobID(err, req.JobID)
	}
	log.Debug("Frame prepared", "kind", frame.Kind.String(), "source", frame.SourceMime,
		"width", frame.Width, "height", frame.Height)

	text, res, err := p.recognize(ctx, req, frame)
	if err != nil {
		return nil, err
	}

	rec, err := p.decode(ctx, req.JobID, text)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{
		JobID:      req.JobID,
		Record:     rec,
		OCREngine:  res.Engine,
		Confidence: res.Confidence,
	}

	if p.store != nil {
		stored, err := p.store.StoreRecord(ctx, &storage.RecordInput{JobID: req.JobID, Record: rec})
		if err != nil {
			return nil, apperrors.NewStorageFailedError(req.JobID, err)
		}
		result.RecordID = stored.ID
		result.DuplicateOf = stored.DuplicateOf
		if len(stored.DuplicateOf) > 0 {
			p.metrics.IncrementDuplicate()
			log.Info("Near-duplicate scan", "recordId", stored.ID, "duplicateOf", stored.DuplicateOf)
		}
	}

	return result, nil
}

// recognize returns the MRZ-cleaned text of a frame. Text frames bypass OCR.
func (p *ScanProcessor) recognize(ctx context.Context, req *ScanRequest, frame *imagesource.Frame) (string, *ocr.Result, error) {
	if frame.Kind == imagesource.KindText {
		return ocr.CleanText(frame.Text), &ocr.Result{Text: frame.Text, Engine: engineText, Confidence: 1}, nil
	}

	if p.engine == nil || !p.engine.Supports(frame.Kind) {
		return "", nil, apperrors.NewUnsupportedFormatError(req.JobID, frame.SourceMime)
	}

	ctx, span := tracer.Start(ctx, "mrz.OCR", trace.WithAttributes(
		attribute.String("frame.kind", frame.Kind.String()),
	))
	defer span.End()

	res, err := p.engine.Recognize(ctx, ocr.Input{
		JobID:    req.JobID,
		Frame:    frame,
		Language: p.config.OCRLanguage,
		Progress: req.Progress,
	})
	if err != nil {
		span.RecordError(err)
		return "", nil, withJobID(err, req.JobID)
	}

	p.metrics.ObserveOCRLatency(res.Engine, res.Duration)
	span.SetAttributes(attribute.String("ocr.engine", res.Engine))

	return ocr.CleanText(res.Text), res, nil
}

// ParseText runs the MRZ pipeline on OCR text supplied by the caller.
func (p *ScanProcessor) ParseText(ctx context.Context, text string) (*mrz.Record, error) {
	return p.decode(ctx, "", ocr.CleanText(text))
}

// decode runs the core pipeline and records its metrics. A missing MRZ is
// returned as a permanent NO_MRZ_MATCH error wrapping *mrz.NoMatchError.
func (p *ScanProcessor) decode(ctx context.Context, jobID, text string) (*mrz.Record, error) {
	_, span := tracer.Start(ctx, "mrz.Decode")
	defer span.End()

	rec, err := mrz.Process(text)
	if err != nil {
		var nm *mrz.NoMatchError
		if stderrors.As(err, &nm) {
			p.metrics.IncrementNoMatch(string(nm.Reason))
			span.SetAttributes(attribute.String("mrz.no_match", string(nm.Reason)))
			return nil, apperrors.NewNoMRZMatchError(jobID, string(nm.Reason), len(nm.Lines), nm)
		}
		return nil, err
	}

	p.metrics.IncrementScan(rec.Format.String(), string(rec.Status))
	p.metrics.ObserveResolveWindows(rec.WindowsTried)
	for _, ce := range rec.Errors {
		p.metrics.IncrementCheckFailure(ce.Field)
	}

	return rec, nil
}

// UpdateJobStatus updates job status in database
func (p *ScanProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error {
	if p.store == nil {
		return nil
	}

	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}

	if metadata != nil {
		if confidence, ok := metadata["confidence"].(float64); ok {
			update.Confidence = confidence
		}
		if processingTime, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if recordID, ok := metadata["recordId"].(string); ok {
			update.RecordID = recordID
		}
		if engine, ok := metadata["ocrEngine"].(string); ok {
			update.OCREngine = engine
		}
		if filename, ok := metadata["filename"].(string); ok {
			update.Filename = filename
		}
		if mimeType, ok := metadata["mimeType"].(string); ok {
			update.MimeType = mimeType
		}
		if code, ok := metadata["errorCode"].(string); ok {
			update.ErrorCode = code
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			if update.ErrorCode == "" {
				update.ErrorCode = "PROCESSING_ERROR"
			}
			update.ErrorMessage = errorMsg
		}
	}

	return p.store.UpdateJobStatus(ctx, update)
}

// loadFile loads file from URL or buffer
func (p *ScanProcessor) loadFile(ctx context.Context, req *ScanRequest) ([]byte, error) {
	if len(req.FileBuffer) > 0 {
		if p.config.MaxFileSize > 0 && int64(len(req.FileBuffer)) > p.config.MaxFileSize {
			return nil, apperrors.NewInvalidInputError(req.JobID,
				fmt.Sprintf("file size exceeds maximum: %d > %d bytes", len(req.FileBuffer), p.config.MaxFileSize))
		}
		return req.FileBuffer, nil
	}

	if req.FileURL != "" {
		p.logger.Info("Downloading file", "jobId", req.JobID, "url", req.FileURL, "fileSize", req.FileSize)
		return p.downloadFileFromURL(ctx, req.JobID, req.FileURL, req.FileSize)
	}

	return nil, apperrors.NewInvalidInputError(req.JobID, "no file source provided (buffer or URL)")
}

// downloadFileFromURL downloads a file with exponential backoff between attempts.
func (p *ScanProcessor) downloadFileFromURL(ctx context.Context, jobID string, fileURL string, expectedSize int64) ([]byte, error) {
	const maxRetries = 5

	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			wait := p.backoff(attempt - 1)
			p.logger.Debug("Retrying download", "jobId", jobID, "attempt", attempt, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, apperrors.NewNetworkTimeoutError(jobID, fileURL, ctx.Err())
			}
		}

		data, retry, err := p.fetch(ctx, fileURL, expectedSize)
		if err == nil {
			return data, nil
		}
		lastErr = err
		p.logger.Warn("Download attempt failed", "jobId", jobID, "attempt", attempt, "error", err)
		if !retry {
			return nil, apperrors.NewInvalidInputError(jobID, err.Error())
		}
	}

	return nil, apperrors.NewNetworkTimeoutError(jobID, fileURL,
		fmt.Errorf("failed to download file after %d attempts: %w", maxRetries, lastErr))
}

// fetch performs one download attempt. retry is false for errors a new
// attempt cannot fix.
func (p *ScanProcessor) fetch(ctx context.Context, fileURL string, expectedSize int64) (data []byte, retry bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid file URL: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > 0 && expectedSize > 0 && resp.ContentLength != expectedSize {
		p.logger.Warn("Content-Length mismatch", "expected", expectedSize, "got", resp.ContentLength)
	}

	limit := p.config.MaxFileSize
	if limit > 0 && resp.ContentLength > limit {
		return nil, false, fmt.Errorf("file size exceeds maximum: %d > %d bytes", resp.ContentLength, limit)
	}
	if limit <= 0 {
		limit = 1 << 30
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, true, err
	}
	if int64(len(data)) > limit {
		return nil, false, fmt.Errorf("file size exceeds maximum: more than %d bytes", limit)
	}
	return data, false, nil
}

// backoff doubles from retryBackoff per attempt, capped at 32 times the base.
func (p *ScanProcessor) backoff(attempt int) time.Duration {
	factor := math.Min(math.Pow(2, float64(attempt-1)), 32)
	return time.Duration(float64(p.retryBackoff) * factor)
}

func withJobID(err error, jobID string) error {
	var pe *apperrors.ProcessingError
	if stderrors.As(err, &pe) && pe.JobID == "" {
		pe.JobID = jobID
	}
	return err
}
