/**
 * OCR - engine contract shared by local Tesseract and remote MageAgent OCR
 *
 * Engines receive a prepared imagesource.Frame and return plain text. The
 * MRZ parser only needs text; word boxes are used for confidence only.
 */

package ocr

import (
	"context"
	"time"

	"github.com/adverant/nexus/mrz-worker/internal/imagesource"
)

// Whitelist is the MRZ character repertoire.
const Whitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789<"

// ProgressFunc receives progress updates in percent (0-100).
type ProgressFunc func(percent int)

// Input is one OCR request.
type Input struct {
	JobID    string
	Frame    *imagesource.Frame
	Language string
	Progress ProgressFunc
}

func (in Input) report(percent int) {
	if in.Progress != nil {
		in.Progress(percent)
	}
}

// Result is the text an engine read from a frame.
type Result struct {
	Text       string
	Confidence float64 // 0-1
	Engine     string
	Model      string
	Duration   time.Duration
}

// Engine reads text from frames of the kinds it supports.
type Engine interface {
	Name() string
	Supports(kind imagesource.Kind) bool
	Recognize(ctx context.Context, in Input) (*Result, error)
}
