package ocr

import (
	"context"
	"errors"

	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
	"github.com/adverant/nexus/mrz-worker/internal/imagesource"
	"github.com/adverant/nexus/mrz-worker/internal/logging"
)

// AcceptFunc decides whether a result is good enough to stop escalating.
type AcceptFunc func(*Result) bool

// Cascade tries engines in order. Engines that do not support the frame
// kind are skipped; a failing engine or a rejected result escalates to the
// next one. With no accepted result the last successful one is returned.
type Cascade struct {
	engines []Engine
	accept  AcceptFunc
	logger  *logging.Logger
}

// NewCascade builds a cascade. A nil accept takes the first success.
func NewCascade(accept AcceptFunc, engines ...Engine) *Cascade {
	return &Cascade{
		engines: engines,
		accept:  accept,
		logger:  logging.NewLogger("OCRCascade"),
	}
}

func (c *Cascade) Name() string { return "cascade" }

func (c *Cascade) Supports(kind imagesource.Kind) bool {
	for _, e := range c.engines {
		if e.Supports(kind) {
			return true
		}
	}
	return false
}

func (c *Cascade) Recognize(ctx context.Context, in Input) (*Result, error) {
	var (
		last *Result
		errs []error
		ran  bool
	)

	for _, engine := range c.engines {
		if !engine.Supports(in.Frame.Kind) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ran = true

		res, err := engine.Recognize(ctx, in)
		if err != nil {
			c.logger.Warn("OCR engine failed, escalating",
				"jobId", in.JobID,
				"engine", engine.Name(),
				"error", err)
			errs = append(errs, err)
			continue
		}

		if c.accept == nil || c.accept(res) {
			return res, nil
		}
		c.logger.Info("OCR result rejected, escalating",
			"jobId", in.JobID,
			"engine", engine.Name())
		last = res
	}

	if last != nil {
		return last, nil
	}
	if !ran {
		return nil, apperrors.NewUnsupportedFormatError(in.JobID, in.Frame.MimeType)
	}
	return nil, apperrors.NewOCRFailedError(in.JobID, c.Name(), errors.Join(errs...))
}
