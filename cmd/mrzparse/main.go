// mrzparse decodes the machine readable zone of a passport or ID card and
// prints the record as JSON.
//
// Usage:
//
//	mrzparse [options] [file]
//
// With no file, OCR text is read from stdin.
//
// Options:
//
//	-image string     Path to a raster scan (PNG, JPEG, GIF, BMP, TIFF or WebP) to OCR with Tesseract
//	-lang string      Tesseract language (default "eng")
//	-min-width int    Upscale rasters narrower than this before OCR (default 1600)
//	-compact          Print single-line JSON
//	-lines            Print the resolved MRZ lines instead of JSON
//
// Exit status is 0 when a record was decoded (valid or not), 2 when no MRZ
// was found and 1 on any other failure.
//
// Examples:
//
//	tesseract scan.png - | mrzparse
//	mrzparse -image passport.jpg
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
	"github.com/adverant/nexus/mrz-worker/internal/mrz"
	"github.com/adverant/nexus/mrz-worker/internal/ocr"
	"github.com/adverant/nexus/mrz-worker/internal/ocr/tesseract"
	"github.com/adverant/nexus/mrz-worker/internal/processor"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitNoMatch = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mrzparse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	imagePath := fs.String("image", "", "Path to a raster scan (PNG, JPEG, GIF, BMP, TIFF or WebP) to OCR with Tesseract")
	lang := fs.String("lang", "eng", "Tesseract language")
	minWidth := fs.Int("min-width", 1600, "Upscale rasters narrower than this before OCR")
	compact := fs.Bool("compact", false, "Print single-line JSON")
	linesOnly := fs.Bool("lines", false, "Print the resolved MRZ lines instead of JSON")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	cfg := &processor.ProcessorConfig{
		MaxFileSize:   64 << 20,
		MinImageWidth: *minWidth,
		OCRLanguage:   *lang,
	}
	if *imagePath != "" {
		cfg.Engines = []ocr.Engine{tesseract.New(tesseract.Config{Language: *lang})}
	}
	proc, err := processor.NewScanProcessor(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}

	ctx := context.Background()
	var rec *mrz.Record

	switch {
	case *imagePath != "":
		rec, err = scanImage(ctx, proc, *imagePath)
	case fs.NArg() > 0:
		rec, err = parseFile(ctx, proc, fs.Arg(0))
	default:
		var text []byte
		text, err = io.ReadAll(stdin)
		if err == nil {
			rec, err = proc.ParseText(ctx, string(text))
		}
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if apperrors.CodeOf(err) == apperrors.ErrorNoMRZMatch {
			return exitNoMatch
		}
		return exitFailure
	}

	if *linesOnly {
		fmt.Fprintln(stdout, rec.Text())
		return exitOK
	}

	enc := json.NewEncoder(stdout)
	if !*compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(rec); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func parseFile(ctx context.Context, proc *processor.ScanProcessor, path string) (*mrz.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return proc.ParseText(ctx, string(data))
}

func scanImage(ctx context.Context, proc *processor.ScanProcessor, path string) (*mrz.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	result, err := proc.ProcessScan(ctx, &processor.ScanRequest{
		JobID:      uuid.New().String(),
		Filename:   filepath.Base(path),
		FileSize:   int64(len(data)),
		FileBuffer: data,
	})
	if err != nil {
		return nil, err
	}
	return result.Record, nil
}
