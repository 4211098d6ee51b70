/**
 * Direct Redis Queue Consumer for the MRZ worker
 *
 * Compatible with the TypeScript RedisQueue list protocol:
 * - `<queue>`             LIST of job IDs (LPUSH by producers, BRPOP here)
 * - `<queue>:data`        HASH job ID -> RedisJobData JSON
 * - `<queue>:processing`, `:completed`, `:failed` SETs of job IDs
 * - `<queue>:results`, `:errors` HASHes of final outcomes
 * - `<queue>:events`      pub/sub channel of job lifecycle events
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/adverant/nexus/mrz-worker/internal/errors"
	"github.com/adverant/nexus/mrz-worker/internal/logging"
	"github.com/adverant/nexus/mrz-worker/internal/processor"
	"github.com/adverant/nexus/mrz-worker/internal/storage"
)

var errNoJobs = errors.New("no jobs available")

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client *redis.Client
	runner *runner
	config *RedisConsumerConfig
	keys   queueKeys
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.ScanProcessorInterface
	ProcessingTimeout int64 // milliseconds
}

type queueKeys struct {
	list, data, processing, completed, failed, results, errors, events string
}

func newQueueKeys(queue string) queueKeys {
	return queueKeys{
		list:       queue,
		data:       queue + ":data",
		processing: queue + ":processing",
		completed:  queue + ":completed",
		failed:     queue + ":failed",
		results:    queue + ":results",
		errors:     queue + ":errors",
		events:     queue + ":events",
	}
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "mrz:scans"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger := logging.NewLogger("RedisConsumer")
	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client: client,
		runner: newRunner(cfg.Processor, cfg.ProcessingTimeout, logger),
		config: cfg,
		keys:   newQueueKeys(cfg.QueueName),
		logger: logger,
		ctx:    consumerCtx,
		cancel: cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// Enqueue stores the job envelope and pushes its ID onto the list.
func (c *RedisConsumer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", apperrors.NewInvalidInputError(payload.JobID, err.Error())
	}

	job := RedisJobData{
		ID:         uuid.New().String(),
		Type:       TaskTypeScan,
		Payload:    *payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: defaultMaxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.keys.data, job.ID, data)
		pipe.LPush(ctx, c.keys.list, job.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}

	c.publish(ctx, "queued", payload.JobID, nil)
	c.logger.Info("Job enqueued", "jobId", payload.JobID, "queueId", job.ID)
	return payload.JobID, nil
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			c.logger.Error("Worker error", "worker", id, "error", err)
			select {
			case <-time.After(time.Second):
			case <-c.ctx.Done():
			}
		}
	}
}

// bookkeepingTimeout bounds Redis and status writes made after a job ran.
const bookkeepingTimeout = 5 * time.Second

// jobLedger records a job's lifecycle outside the processor.
type jobLedger interface {
	markProcessing(ctx context.Context, jobID string)
	requeue(ctx context.Context, job *RedisJobData) error
	markCompleted(ctx context.Context, scan *processor.ScanResult)
	markFailed(ctx context.Context, jobID string, cause error, attempts int)
	publish(ctx context.Context, status, jobID string, extra map[string]interface{})
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.keys.list).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	queueID := result[1]

	// The job is off the list now; Stop must not cancel it halfway.
	jobCtx := context.WithoutCancel(c.ctx)

	raw, err := c.client.HGet(jobCtx, c.keys.data, queueID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.client.SAdd(jobCtx, c.keys.failed, queueID)
		return fmt.Errorf("failed to unmarshal job %s: %w", queueID, err)
	}
	if job.ID == "" {
		job.ID = queueID
	}

	runJob(jobCtx, &job, c.runner, c, c.logger)
	return nil
}

// runJob processes one popped job. ctx must not be tied to consumer
// shutdown: every outcome ends in the ledger, so a popped job is never lost.
func runJob(ctx context.Context, job *RedisJobData, r *runner, ledger jobLedger, logger *logging.Logger) {
	jobID := job.Payload.JobID
	r.start(ctx, &job.Payload)
	ledger.markProcessing(ctx, jobID)

	scan, err := r.process(ctx, &job.Payload, func(pct int) {
		ledger.publish(ctx, "progress", jobID, map[string]interface{}{"progress": pct})
	})

	bctx, cancel := context.WithTimeout(ctx, bookkeepingTimeout)
	defer cancel()

	if err != nil {
		job.Attempts++
		if shouldRetry(job, err) {
			if rqErr := ledger.requeue(bctx, job); rqErr != nil {
				logger.Error("Failed to re-queue job, marking failed", "jobId", jobID, "error", rqErr)
				r.fail(bctx, jobID, err, job.Attempts)
				ledger.markFailed(bctx, jobID, err, job.Attempts)
				return
			}
			logger.Info("Job re-queued for retry", "jobId", jobID, "attempt", job.Attempts, "maxRetries", job.MaxRetries)
			return
		}

		r.fail(bctx, jobID, err, job.Attempts)
		ledger.markFailed(bctx, jobID, err, job.Attempts)
		return
	}

	r.complete(bctx, scan)
	ledger.markCompleted(bctx, scan)
}

func (c *RedisConsumer) markProcessing(ctx context.Context, jobID string) {
	if err := c.client.SAdd(ctx, c.keys.processing, jobID).Err(); err != nil {
		c.logger.Warn("Failed to mark job processing in Redis", "jobId", jobID, "error", err)
	}
	c.publish(ctx, storage.JobStatusProcessing, jobID, nil)
}

// requeue stores the updated envelope and pushes its ID back on the list.
func (c *RedisConsumer) requeue(ctx context.Context, job *RedisJobData) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.keys.data, job.ID, data)
		pipe.SRem(ctx, c.keys.processing, job.Payload.JobID)
		pipe.LPush(ctx, c.keys.list, job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to re-queue job %s: %w", job.Payload.JobID, err)
	}
	return nil
}

// shouldRetry reports whether a failed job goes back on the list.
func shouldRetry(job *RedisJobData, err error) bool {
	if apperrors.IsPermanent(err) {
		return false
	}
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return job.Attempts < maxRetries
}

func (c *RedisConsumer) markCompleted(ctx context.Context, scan *processor.ScanResult) {
	data, _ := json.Marshal(scan)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, c.keys.processing, scan.JobID)
		pipe.SAdd(ctx, c.keys.completed, scan.JobID)
		pipe.HSet(ctx, c.keys.results, scan.JobID, data)
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to record completion in Redis", "jobId", scan.JobID, "error", err)
	}

	c.publish(ctx, storage.JobStatusCompleted, scan.JobID, map[string]interface{}{
		"recordId":           scan.RecordID,
		"verificationStatus": string(scan.Record.Status),
	})
}

func (c *RedisConsumer) markFailed(ctx context.Context, jobID string, cause error, attempts int) {
	meta := failureMetadata(cause)
	meta["attempts"] = attempts
	data, _ := json.Marshal(meta)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, c.keys.processing, jobID)
		pipe.SAdd(ctx, c.keys.failed, jobID)
		pipe.HSet(ctx, c.keys.errors, jobID, data)
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to record failure in Redis", "jobId", jobID, "error", err)
	}

	c.publish(ctx, storage.JobStatusFailed, jobID, meta)
}

// publish emits a job event for WebSocket streaming.
func (c *RedisConsumer) publish(ctx context.Context, status, jobID string, extra map[string]interface{}) {
	data, _ := json.Marshal(jobEvent(status, jobID, extra, time.Now()))
	if err := c.client.Publish(ctx, c.keys.events, data).Err(); err != nil {
		c.logger.Debug("Failed to publish event", "jobId", jobID, "error", err)
	}
}

func jobEvent(status, jobID string, extra map[string]interface{}, at time.Time) map[string]interface{} {
	event := map[string]interface{}{
		"event":     "job:" + status,
		"jobId":     jobID,
		"timestamp": at.UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		event[k] = v
	}
	return event
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.keys.list)
	processing := pipe.SCard(ctx, c.keys.processing)
	completed := pipe.SCard(ctx, c.keys.completed)
	failed := pipe.SCard(ctx, c.keys.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]interface{}{
		"backend":     "redis",
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"waiting":     waiting.Val(),
		"processing":  processing.Val(),
		"completed":   completed.Val(),
		"failed":      failed.Val(),
	}, nil
}
