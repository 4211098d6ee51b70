/**
 * MRZ processing entry point
 *
 * Pipeline: Extract -> Normalize -> Resolve (-> Decode).
 * The pipeline is synchronous and keeps no state between calls, so callers
 * may run it concurrently for different documents without coordination.
 */

package mrz

import (
	"fmt"
	"strings"
)

// NoMatchReason explains why no record could be produced.
type NoMatchReason string

const (
	ReasonTooFewLines NoMatchReason = "too-few-candidate-lines"
	ReasonNoFormatFit NoMatchReason = "no-format-fit"
)

// minLines is the smallest MRZ (TD3) line count.
const minLines = 2

// NoMatchError is returned when the text holds no decodable MRZ.
type NoMatchError struct {
	Reason NoMatchReason
	// Lines are the normalized lines that were considered.
	Lines []string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no MRZ match: %s (%d candidate lines)", e.Reason, len(e.Lines))
}

// Process runs the full pipeline over one block of OCR text and returns the
// decoded record, or a *NoMatchError.
func Process(ocrText string) (*Record, error) {
	raw := Extract(ocrText)
	normalized := NormalizeAll(raw)

	if len(normalized) < minLines {
		return nil, &NoMatchError{Reason: ReasonTooFewLines, Lines: normalized}
	}

	rec, err := Resolve(normalized)
	if err != nil {
		return nil, err
	}
	rec.Lines.Raw = raw
	rec.Lines.Normalized = normalized
	return rec, nil
}

// Text renders the resolved lines of a record as MRZ text.
func (r *Record) Text() string {
	return strings.Join(r.Lines.Resolved, "\n")
}
