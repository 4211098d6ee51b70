/**
 * Asynq Queue Consumer for the MRZ worker
 *
 * Consumes `mrz:scan` tasks. Permanent failures (no MRZ, unsupported input)
 * are returned with asynq.SkipRetry so they are archived immediately.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
	"github.com/adverant/nexus/mrz-worker/internal/logging"
	"github.com/adverant/nexus/mrz-worker/internal/processor"
)

// Consumer handles job consumption from Redis queue
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	runner    *runner
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.ScanProcessorInterface
	ProcessingTimeout int64 // milliseconds
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("AsynqConsumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s ... capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			IsFailure: func(err error) bool {
				return !apperrors.IsPermanent(err)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn("Task processing error", "type", task.Type(), "error", err)
			}),
			Logger:   asynqLogger{logger},
			LogLevel: asynq.InfoLevel,
		},
	)

	c := &Consumer{
		client:    asynq.NewClient(redisOpt),
		server:    server,
		inspector: asynq.NewInspector(redisOpt),
		mux:       asynq.NewServeMux(),
		runner:    newRunner(cfg.Processor, cfg.ProcessingTimeout, logger),
		config:    cfg,
		logger:    logger,
	}

	c.mux.HandleFunc(TaskTypeScan, c.handleScan)

	return c, nil
}

// Start starts the queue consumer
func (c *Consumer) Start() error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	return c.server.Start(c.mux)
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()

	if err := c.inspector.Close(); err != nil {
		c.logger.Warn("Failed to close inspector", "error", err)
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	return nil
}

// Enqueue submits a scan task. The job ID doubles as the task ID, so a
// job cannot be queued twice while it is still pending.
func (c *Consumer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", apperrors.NewInvalidInputError(payload.JobID, err.Error())
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeScan, data),
		asynq.Queue(c.config.QueueName),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(defaultMaxRetries),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}

	c.logger.Info("Job enqueued", "jobId", payload.JobID, "taskId", info.ID, "queue", info.Queue)
	return payload.JobID, nil
}

// handleScan processes one mrz:scan task
func (c *Consumer) handleScan(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}

	c.runner.start(ctx, &payload)

	result, err := c.runner.process(ctx, &payload, func(pct int) {
		c.logger.Debug("OCR progress", "jobId", payload.JobID, "progress", pct)
	})
	if err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, ok := asynq.GetMaxRetry(ctx)
		if !ok {
			maxRetry = defaultMaxRetries
		}

		if apperrors.IsPermanent(err) {
			c.runner.fail(ctx, payload.JobID, err, retried+1)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if retried >= maxRetry {
			c.runner.fail(ctx, payload.JobID, err, retried+1)
		}
		return err
	}

	c.runner.complete(ctx, result)

	if w := task.ResultWriter(); w != nil {
		if data, err := json.Marshal(result); err == nil {
			if _, err := w.Write(data); err != nil {
				c.logger.Warn("Failed to write task result", "jobId", payload.JobID, "error", err)
			}
		}
	}

	return nil
}

// GetStats returns consumer and queue statistics
func (c *Consumer) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{
		"backend":     "asynq",
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
	if c.inspector == nil {
		return stats, nil
	}

	// A queue exists in Redis only once a task was enqueued to it.
	queues, err := c.inspector.Queues()
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	if !slices.Contains(queues, c.config.QueueName) {
		return stats, nil
	}

	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue info: %w", err)
	}

	stats["pending"] = info.Pending
	stats["active"] = info.Active
	stats["scheduled"] = info.Scheduled
	stats["retry"] = info.Retry
	stats["archived"] = info.Archived
	stats["completed"] = info.Completed
	stats["processedToday"] = info.Processed
	stats["failedToday"] = info.Failed
	stats["paused"] = info.Paused
	return stats, nil
}

// asynqLogger routes asynq's internal logging through the worker logger.
type asynqLogger struct {
	l *logging.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
