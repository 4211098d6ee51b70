/**
 * Tesseract OCR - local engine for MRZ scans
 *
 * Free, offline OCR using Tesseract through gosseract. Recognition is
 * restricted to the MRZ repertoire and run as a single uniform block, which
 * is how the two or three MRZ lines appear once the image is cropped or
 * upscaled.
 */

package tesseract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
	"github.com/adverant/nexus/mrz-worker/internal/imagesource"
	"github.com/adverant/nexus/mrz-worker/internal/logging"
	"github.com/adverant/nexus/mrz-worker/internal/ocr"
)

// Engine handles MRZ OCR using Tesseract
type Engine struct {
	language      string
	pageSegMode   gosseract.PageSegMode
	clientFactory func() *gosseract.Client
	logger        *logging.Logger
}

// Config holds Tesseract configuration
type Config struct {
	// Language is the trained data to load, e.g. "eng" or "ocrb".
	Language string
	// PageSegMode zero selects a single uniform block of text.
	PageSegMode gosseract.PageSegMode
}

// New creates a new Tesseract engine
func New(cfg Config) *Engine {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.PageSegMode == 0 {
		cfg.PageSegMode = gosseract.PSM_SINGLE_BLOCK
	}
	return &Engine{
		language:      cfg.Language,
		pageSegMode:   cfg.PageSegMode,
		clientFactory: gosseract.NewClient,
		logger:        logging.NewLogger("TesseractOCR"),
	}
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Supports(kind imagesource.Kind) bool {
	return kind == imagesource.KindRaster
}

// Recognize performs OCR using Tesseract
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (*ocr.Result, error) {
	if !e.Supports(in.Frame.Kind) {
		return nil, apperrors.NewUnsupportedFormatError(in.JobID, in.Frame.MimeType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	startTime := time.Now()

	client := e.clientFactory()
	defer client.Close()

	text, confidence, err := e.recognize(client, in)
	if err != nil {
		return nil, apperrors.NewOCRFailedError(in.JobID, e.Name(), err)
	}
	if in.Progress != nil {
		in.Progress(100)
	}

	result := &ocr.Result{
		Text:       text,
		Confidence: confidence,
		Engine:     e.Name(),
		Model:      "tesseract-" + e.language,
		Duration:   time.Since(startTime),
	}

	e.logger.Debug("Tesseract OCR complete",
		"jobId", in.JobID,
		"confidence", confidence,
		"textLength", len(text),
		"duration", result.Duration)

	return result, nil
}

func (e *Engine) recognize(client *gosseract.Client, in ocr.Input) (string, float64, error) {
	language := e.language
	if in.Language != "" {
		language = in.Language
	}
	if err := client.SetLanguage(strings.Split(language, "+")...); err != nil {
		return "", 0, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetPageSegMode(e.pageSegMode); err != nil {
		return "", 0, fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := client.SetWhitelist(ocr.Whitelist); err != nil {
		return "", 0, fmt.Errorf("set whitelist: %w", err)
	}
	if err := client.SetImageFromBytes(in.Frame.Data); err != nil {
		return "", 0, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", 0, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	return text, wordConfidence(client), nil
}

// wordConfidence averages Tesseract's per-word confidence into 0-1.
func wordConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes)) / 100.0
}
