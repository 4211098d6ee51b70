/**
 * MageAgent Client - remote vision OCR
 *
 * The worker only needs two MageAgent capabilities: asynchronous vision OCR
 * for raster scans (with task polling so progress can be reported) and the
 * /file-process endpoint, which renders and reads PDF pages server side.
 * Model selection stays entirely on the MageAgent side.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/mrz-worker/internal/logging"
)

const sourceHeader = "mrz-worker"

// MageAgentClient handles communication with MageAgent service
type MageAgentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// VisionOCRRequest represents a request to extract text from an image
type VisionOCRRequest struct {
	Image          string                 `json:"image"`  // Base64 encoded image
	Format         string                 `json:"format"` // "base64", "url", or "buffer"
	PreferAccuracy bool                   `json:"preferAccuracy"`
	Language       string                 `json:"language"`
	Prompt         string                 `json:"prompt,omitempty"` // Extraction hint passed to the vision model
	Metadata       map[string]interface{} `json:"metadata"`
	JobID          string                 `json:"jobId,omitempty"`
	Async          bool                   `json:"async,omitempty"`
}

// VisionOCRAsyncResponse represents an async (202 Accepted) response with taskId
type VisionOCRAsyncResponse struct {
	Success bool `json:"success"`
	Data    struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
	Message string    `json:"message"`
	Meta    AsyncMeta `json:"meta"`
}

// AsyncMeta contains metadata about async task
type AsyncMeta struct {
	PollURL           string `json:"pollUrl"`
	EstimatedDuration string `json:"estimatedDuration"`
	ModelSelection    string `json:"modelSelection"`
	JobID             string `json:"jobId,omitempty"`
}

// TaskStatusResponse represents the response from polling /api/tasks/:taskId
type TaskStatusResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Task TaskInfo `json:"task"`
	} `json:"data"`
	Message string `json:"message"`
}

// Task states reported by MageAgent.
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// TaskInfo contains detailed task information
type TaskInfo struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Status      string                 `json:"status"`
	Progress    int                    `json:"progress"` // 0-100
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   string                 `json:"createdAt"`
	CompletedAt string                 `json:"completedAt,omitempty"`
}

// VisionOCRData contains the extracted text and metadata
type VisionOCRData struct {
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ModelUsed      string  `json:"modelUsed"`
	ProcessingTime int64   `json:"processingTime"` // milliseconds
}

// FileProcessRequest represents a request to process a document file
type FileProcessRequest struct {
	FileBuffer []byte
	Filename   string
	MimeType   string
	Operations []string
	Options    FileProcessOptions
}

// FileProcessOptions contains options for file processing
type FileProcessOptions struct {
	EnableOCR bool `json:"enableOcr"`
	// MaxPages limits rendering to the first pages; 0 means all pages.
	MaxPages int `json:"maxPages,omitempty"`
}

// FileProcessResponse represents the response from /file-process endpoint
type FileProcessResponse struct {
	Success bool            `json:"success"`
	Data    FileProcessData `json:"data"`
	Message string          `json:"message"`
}

// FileProcessData contains the extracted document content
type FileProcessData struct {
	Text           string            `json:"text"`
	Pages          []FileProcessPage `json:"pages"`
	PageCount      int               `json:"pageCount"`
	Confidence     float64           `json:"confidence"`
	ModelUsed      string            `json:"modelUsed"`
	ProcessingTime int64             `json:"processingTime"`
}

// FileProcessPage represents a single page's content
type FileProcessPage struct {
	PageNumber int     `json:"pageNumber"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewMageAgentClient creates a new MageAgent client
func NewMageAgentClient(baseURL string) *MageAgentClient {
	return &MageAgentClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Vision tasks can take time
		},
		logger: logging.NewLogger("MageAgentClient"),
	}
}

// ExtractTextAsync starts an async OCR task and returns the taskId for polling
func (c *MageAgentClient) ExtractTextAsync(ctx context.Context, req *VisionOCRRequest) (*VisionOCRAsyncResponse, error) {
	c.logger.Info("Starting async text extraction",
		"language", req.Language,
		"jobId", req.JobID)

	req.Async = true

	var asyncResp VisionOCRAsyncResponse
	if err := c.postJSON(ctx, "/api/internal/vision/extract-text", req, http.StatusAccepted, &asyncResp); err != nil {
		return nil, err
	}
	if !asyncResp.Success {
		return nil, fmt.Errorf("MageAgent async operation failed: %s", asyncResp.Message)
	}

	c.logger.Info("Async OCR task created",
		"taskId", asyncResp.Data.TaskID,
		"estimatedDuration", asyncResp.Meta.EstimatedDuration,
		"modelSelection", asyncResp.Meta.ModelSelection)

	return &asyncResp, nil
}

// ExtractTextFromBytes base64-encodes an image and starts an async task.
func (c *MageAgentClient) ExtractTextFromBytes(ctx context.Context, jobID string, imageData []byte, language, prompt string) (*VisionOCRAsyncResponse, error) {
	return c.ExtractTextAsync(ctx, &VisionOCRRequest{
		Image:          base64.StdEncoding.EncodeToString(imageData),
		Format:         "base64",
		PreferAccuracy: true,
		Language:       language,
		Prompt:         prompt,
		JobID:          jobID,
		Metadata: map[string]interface{}{
			"source":    sourceHeader,
			"timestamp": time.Now().Unix(),
		},
	})
}

// GetTaskStatus polls for the status of an async task
func (c *MageAgentClient) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tasks/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("X-Source", sourceHeader)

	var statusResp TaskStatusResponse
	if err := c.do(req, http.StatusOK, &statusResp); err != nil {
		return nil, fmt.Errorf("status check for task %s: %w", taskID, err)
	}
	return &statusResp, nil
}

// WaitForTaskCompletion polls the task status until completion or until ctx
// is done. onProgress, when set, receives every progress update (0-100).
func (c *MageAgentClient) WaitForTaskCompletion(ctx context.Context, taskID string, pollInterval time.Duration, onProgress func(int)) (*VisionOCRData, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastProgress := -1
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled while waiting for task: %w", ctx.Err())

		case <-ticker.C:
			status, err := c.GetTaskStatus(ctx, taskID)
			if err != nil {
				c.logger.Warn("Failed to get task status", "taskId", taskID, "error", err)
				continue
			}

			task := status.Data.Task
			if onProgress != nil && task.Progress != lastProgress {
				lastProgress = task.Progress
				onProgress(task.Progress)
			}

			switch task.Status {
			case TaskCompleted:
				return &VisionOCRData{
					Text:           stringField(task.Result, "text"),
					Confidence:     floatField(task.Result, "confidence"),
					ModelUsed:      stringField(task.Result, "modelUsed"),
					ProcessingTime: int64(floatField(task.Result, "processingTime")),
				}, nil
			case TaskFailed:
				return nil, fmt.Errorf("task failed: %s", task.Error)
			case TaskPending, TaskProcessing:
			default:
				c.logger.Warn("Unknown task status", "taskId", taskID, "status", task.Status)
			}
		}
	}
}

// ProcessFile sends a document to /file-process, which renders PDF pages
// to images and reads them server side.
func (c *MageAgentClient) ProcessFile(ctx context.Context, req *FileProcessRequest) (*FileProcessResponse, error) {
	c.logger.Info("Processing file via MageAgent",
		"filename", req.Filename,
		"mimeType", req.MimeType,
		"fileSize", len(req.FileBuffer))

	body := map[string]interface{}{
		"fileBuffer": base64.StdEncoding.EncodeToString(req.FileBuffer),
		"filename":   req.Filename,
		"mimeType":   req.MimeType,
		"operations": req.Operations,
		"options":    req.Options,
	}

	var fileResp FileProcessResponse
	if err := c.postJSON(ctx, "/api/internal/file-process", body, http.StatusOK, &fileResp); err != nil {
		return nil, err
	}
	if !fileResp.Success {
		return nil, fmt.Errorf("MageAgent /file-process failed: %s", fileResp.Message)
	}

	c.logger.Info("File processing complete",
		"modelUsed", fileResp.Data.ModelUsed,
		"pageCount", fileResp.Data.PageCount,
		"textLength", len(fileResp.Data.Text))

	return &fileResp, nil
}

// HealthCheck verifies MageAgent service is available
func (c *MageAgentClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	if err := c.do(req, http.StatusOK, nil); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

func (c *MageAgentClient) postJSON(ctx context.Context, path string, payload interface{}, wantStatus int, out interface{}) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source", sourceHeader)
	req.Header.Set("X-Request-ID", fmt.Sprintf("mrz-%d", time.Now().UnixNano()))

	if err := c.do(req, wantStatus, out); err != nil {
		return fmt.Errorf("MageAgent %s: %w", path, err)
	}
	return nil
}

// do executes req, checks the status code and decodes the JSON body into
// out when out is non-nil.
func (c *MageAgentClient) do(req *http.Request, wantStatus int, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != wantStatus {
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// StatusError is returned when MageAgent answers with an unexpected status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func floatField(m map[string]interface{}, key string) float64 {
	if f, ok := m[key].(float64); ok {
		return f
	}
	return 0
}
