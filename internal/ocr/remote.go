package ocr

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/mrz-worker/internal/clients"
	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
	"github.com/adverant/nexus/mrz-worker/internal/imagesource"
	"github.com/adverant/nexus/mrz-worker/internal/logging"
)

const mrzPrompt = "Transcribe the machine readable zone at the bottom of this identity document exactly, one line per MRZ line, using '<' for fillers."

// RemoteClient is the part of the MageAgent client the remote engine uses.
type RemoteClient interface {
	ExtractTextFromBytes(ctx context.Context, jobID string, imageData []byte, language, prompt string) (*clients.VisionOCRAsyncResponse, error)
	WaitForTaskCompletion(ctx context.Context, taskID string, pollInterval time.Duration, onProgress func(int)) (*clients.VisionOCRData, error)
	ProcessFile(ctx context.Context, req *clients.FileProcessRequest) (*clients.FileProcessResponse, error)
}

// RemoteEngine runs OCR through MageAgent: async vision tasks for rasters
// and /file-process for the first page of a PDF.
type RemoteEngine struct {
	client       RemoteClient
	pollInterval time.Duration
	logger       *logging.Logger
}

// NewRemoteEngine creates a MageAgent backed engine.
func NewRemoteEngine(client RemoteClient, pollInterval time.Duration) *RemoteEngine {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &RemoteEngine{
		client:       client,
		pollInterval: pollInterval,
		logger:       logging.NewLogger("RemoteOCR"),
	}
}

func (e *RemoteEngine) Name() string { return "mageagent" }

func (e *RemoteEngine) Supports(kind imagesource.Kind) bool {
	return kind == imagesource.KindRaster || kind == imagesource.KindPDF
}

// Recognize sends the frame to MageAgent and waits for the text.
func (e *RemoteEngine) Recognize(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()

	var (
		res *Result
		err error
	)
	switch in.Frame.Kind {
	case imagesource.KindRaster:
		res, err = e.recognizeImage(ctx, in)
	case imagesource.KindPDF:
		res, err = e.recognizePDF(ctx, in)
	default:
		return nil, apperrors.NewUnsupportedFormatError(in.JobID, in.Frame.MimeType)
	}
	if err != nil {
		return nil, apperrors.NewOCRFailedError(in.JobID, e.Name(), err)
	}

	res.Engine = e.Name()
	res.Duration = time.Since(start)
	in.report(100)

	e.logger.Info("Remote OCR complete",
		"jobId", in.JobID,
		"kind", in.Frame.Kind.String(),
		"model", res.Model,
		"textLength", len(res.Text),
		"duration", res.Duration)

	return res, nil
}

func (e *RemoteEngine) recognizeImage(ctx context.Context, in Input) (*Result, error) {
	started, err := e.client.ExtractTextFromBytes(ctx, in.JobID, in.Frame.Data, in.Language, mrzPrompt)
	if err != nil {
		return nil, err
	}

	data, err := e.client.WaitForTaskCompletion(ctx, started.Data.TaskID, e.pollInterval, func(p int) {
		in.report(p)
	})
	if err != nil {
		return nil, err
	}

	return &Result{Text: data.Text, Confidence: data.Confidence, Model: data.ModelUsed}, nil
}

func (e *RemoteEngine) recognizePDF(ctx context.Context, in Input) (*Result, error) {
	resp, err := e.client.ProcessFile(ctx, &clients.FileProcessRequest{
		FileBuffer: in.Frame.Data,
		Filename:   in.JobID + ".pdf",
		MimeType:   imagesource.MimePDF,
		Operations: []string{"extract_content"},
		Options:    clients.FileProcessOptions{EnableOCR: true, MaxPages: 1},
	})
	if err != nil {
		return nil, err
	}

	data := resp.Data
	text := data.Text
	confidence := data.Confidence
	if len(data.Pages) > 0 {
		text = data.Pages[0].Text
		confidence = data.Pages[0].Confidence
	}
	if text == "" {
		return nil, fmt.Errorf("no text on first page (%d pages)", data.PageCount)
	}
	return &Result{Text: text, Confidence: confidence, Model: data.ModelUsed}, nil
}
