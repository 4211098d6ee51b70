package queue

import (
	"context"
	"time"

	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
	"github.com/adverant/nexus/mrz-worker/internal/logging"
	"github.com/adverant/nexus/mrz-worker/internal/ocr"
	"github.com/adverant/nexus/mrz-worker/internal/processor"
	"github.com/adverant/nexus/mrz-worker/internal/storage"
)

// runner drives one job through the processor and mirrors its lifecycle
// into the job table. Both queue backends share it.
type runner struct {
	processor processor.ScanProcessorInterface
	timeout   time.Duration
	logger    *logging.Logger
}

func newRunner(p processor.ScanProcessorInterface, timeoutMs int64, logger *logging.Logger) *runner {
	timeout := 5 * time.Minute
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return &runner{processor: p, timeout: timeout, logger: logger}
}

// start marks the job as processing; the row is created when missing.
func (r *runner) start(ctx context.Context, p *JobPayload) {
	if err := r.processor.UpdateJobStatus(ctx, p.JobID, storage.JobStatusProcessing, map[string]interface{}{
		"filename": p.Filename,
		"mimeType": p.MimeType,
		"fileSize": p.FileSize,
		"userId":   p.UserID,
	}); err != nil {
		r.logger.Warn("Failed to update status to processing", "jobId", p.JobID, "error", err)
	}
}

// process runs the scan under the configured timeout.
func (r *runner) process(ctx context.Context, p *JobPayload, progress ocr.ProgressFunc) (*processor.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := p.scanRequest()
	req.Progress = progress

	start := time.Now()
	result, err := r.processor.ProcessScan(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded && apperrors.CodeOf(err) != apperrors.ErrorProcessingTimeout {
			err = apperrors.NewProcessingTimeoutError(p.JobID, r.timeout, err)
		}
		r.logger.Warn("Job failed", "jobId", p.JobID, "duration", time.Since(start), "error", err)
		return nil, err
	}

	return result, nil
}

func (r *runner) complete(ctx context.Context, result *processor.ScanResult) {
	if err := r.processor.UpdateJobStatus(ctx, result.JobID, storage.JobStatusCompleted, completedMetadata(result)); err != nil {
		r.logger.Error("Failed to update status to completed", "jobId", result.JobID, "error", err)
	}
}

func (r *runner) fail(ctx context.Context, jobID string, err error, attempts int) {
	meta := failureMetadata(err)
	meta["attempts"] = attempts
	if updateErr := r.processor.UpdateJobStatus(ctx, jobID, storage.JobStatusFailed, meta); updateErr != nil {
		r.logger.Error("Failed to update status to failed", "jobId", jobID, "error", updateErr)
	}
}

func completedMetadata(res *processor.ScanResult) map[string]interface{} {
	meta := map[string]interface{}{
		"confidence":     res.Confidence,
		"processingTime": res.ProcessingTimeMs,
		"recordId":       res.RecordID,
		"ocrEngine":      res.OCREngine,
	}
	if res.Record != nil {
		meta["format"] = res.Record.Format.String()
		meta["verificationStatus"] = string(res.Record.Status)
		meta["checkErrors"] = len(res.Record.Errors)
	}
	if len(res.DuplicateOf) > 0 {
		meta["duplicateOf"] = res.DuplicateOf
	}
	return meta
}

func failureMetadata(err error) map[string]interface{} {
	meta := map[string]interface{}{
		"error": err.Error(),
	}
	if code := apperrors.CodeOf(err); code != "" {
		meta["errorCode"] = string(code)
	}
	return meta
}
