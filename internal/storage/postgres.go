/**
 * PostgreSQL Client for the MRZ worker
 *
 * Persists scan jobs and decoded MRZ records in the `mrz` schema.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/mrz-worker/internal/mrz"
)

// Job statuses shared by the queue consumers and the API.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// ErrNotFound is returned when a job or record does not exist.
var ErrNotFound = errors.New("not found")

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	Confidence       float64
	ProcessingTimeMs int64
	RecordID         string
	ErrorCode        string
	ErrorMessage     string
	OCREngine        string
	Filename         string
	MimeType         string
	FileSize         int64
	Metadata         map[string]interface{}
}

// Job is a row of mrz.scan_jobs.
type Job struct {
	ID               string                 `json:"id"`
	Filename         string                 `json:"filename,omitempty"`
	MimeType         string                 `json:"mimeType,omitempty"`
	FileSize         int64                  `json:"fileSize,omitempty"`
	Status           string                 `json:"status"`
	Confidence       float64                `json:"confidence,omitempty"`
	ProcessingTimeMs int64                  `json:"processingTimeMs,omitempty"`
	RecordID         string                 `json:"recordId,omitempty"`
	ErrorCode        string                 `json:"errorCode,omitempty"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
	OCREngine        string                 `json:"ocrEngine,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

// StoredRecord is a decoded MRZ together with its storage identifiers.
type StoredRecord struct {
	ID          string      `json:"id"`
	JobID       string      `json:"jobId,omitempty"`
	PointID     string      `json:"pointId,omitempty"`
	DuplicateOf []string    `json:"duplicateOf,omitempty"`
	Record      *mrz.Record `json:"record"`
	CreatedAt   time.Time   `json:"createdAt"`
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS mrz;

	CREATE TABLE IF NOT EXISTS mrz.scan_jobs (
		id                 UUID PRIMARY KEY,
		filename           TEXT,
		mime_type          TEXT,
		file_size          BIGINT,
		status             TEXT NOT NULL,
		confidence         NUMERIC(5,4),
		processing_time_ms BIGINT,
		record_id          UUID,
		error_code         TEXT,
		error_message      TEXT,
		ocr_engine         TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS mrz.records (
		id                  UUID PRIMARY KEY,
		job_id              UUID,
		point_id            UUID,
		format              TEXT NOT NULL,
		document_code       TEXT,
		issuer              TEXT,
		document_number     TEXT,
		nationality         TEXT,
		birth_date          TEXT,
		sex                 TEXT,
		expiry_date         TEXT,
		surname             TEXT,
		given_names         TEXT,
		verification_status TEXT NOT NULL,
		check_failures      TEXT[] NOT NULL DEFAULT '{}',
		duplicate_of        TEXT[] NOT NULL DEFAULT '{}',
		record              JSONB NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS records_document_number_idx ON mrz.records (document_number);
	CREATE INDEX IF NOT EXISTS records_job_id_idx ON mrz.records (job_id);
`

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0.0, 1.0] so it fits the NUMERIC(5,4) column.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the mrz schema and its tables if they are missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row, so the worker can create the job when
// the producer did not.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	confidence := sanitizeConfidence(update.Confidence)

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO mrz.scan_jobs (
			id, filename, mime_type, file_size,
			status, confidence, processing_time_ms, record_id,
			error_code, error_message, ocr_engine, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, 0),
			$5, NULLIF($6::NUMERIC(5,4), 0), NULLIF($7, 0),
			CASE WHEN $8 = '' THEN NULL ELSE $8::uuid END,
			NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''),
			COALESCE(NULLIF($12, 'null')::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			confidence = COALESCE(EXCLUDED.confidence, mrz.scan_jobs.confidence),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, mrz.scan_jobs.processing_time_ms),
			record_id = COALESCE(EXCLUDED.record_id, mrz.scan_jobs.record_id),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			ocr_engine = COALESCE(EXCLUDED.ocr_engine, mrz.scan_jobs.ocr_engine),
			metadata = mrz.scan_jobs.metadata || EXCLUDED.metadata,
			filename = COALESCE(EXCLUDED.filename, mrz.scan_jobs.filename),
			mime_type = COALESCE(EXCLUDED.mime_type, mrz.scan_jobs.mime_type),
			file_size = COALESCE(EXCLUDED.file_size, mrz.scan_jobs.file_size),
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.Filename,         // $2
		update.MimeType,         // $3
		update.FileSize,         // $4
		update.Status,           // $5
		confidence,              // $6
		update.ProcessingTimeMs, // $7
		update.RecordID,         // $8
		update.ErrorCode,        // $9
		update.ErrorMessage,     // $10
		update.OCREngine,        // $11
		string(metadataJSON),    // $12
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s, confidence=%.4f): %w",
			update.JobID, update.Status, confidence, err)
	}

	return nil
}

// InsertRecord stores a decoded record and returns its creation time.
func (p *PostgresClient) InsertRecord(ctx context.Context, rec *StoredRecord) (time.Time, error) {
	if rec == nil || rec.Record == nil {
		return time.Time{}, fmt.Errorf("record is required")
	}
	if rec.ID == "" {
		return time.Time{}, fmt.Errorf("record ID is required")
	}

	recordJSON, err := json.Marshal(rec.Record)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to marshal record: %w", err)
	}

	r := rec.Record
	query := `
		INSERT INTO mrz.records (
			id, job_id, point_id, format,
			document_code, issuer, document_number, nationality,
			birth_date, sex, expiry_date, surname, given_names,
			verification_status, check_failures, duplicate_of, record,
			created_at
		) VALUES (
			$1::uuid,
			CASE WHEN $2 = '' THEN NULL ELSE $2::uuid END,
			CASE WHEN $3 = '' THEN NULL ELSE $3::uuid END,
			$4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			NOW()
		)
		RETURNING created_at
	`

	var createdAt time.Time
	err = p.db.QueryRowContext(
		ctx,
		query,
		rec.ID,
		rec.JobID,
		rec.PointID,
		r.Format.String(),
		r.DocumentCode,
		r.Issuer,
		r.DocumentNumber,
		r.Nationality,
		r.BirthDate,
		r.Sex,
		r.ExpiryDate,
		r.Surname,
		r.GivenNames,
		string(r.Status),
		pq.Array(checkFailures(r)),
		pq.Array(nonNil(rec.DuplicateOf)),
		recordJSON,
	).Scan(&createdAt)

	if err != nil {
		return time.Time{}, fmt.Errorf("failed to insert record (id=%s): %w", rec.ID, err)
	}

	return createdAt, nil
}

// GetRecord retrieves a stored record by ID
func (p *PostgresClient) GetRecord(ctx context.Context, recordID string) (*StoredRecord, error) {
	if recordID == "" {
		return nil, fmt.Errorf("record ID is required")
	}

	query := `
		SELECT id, job_id, point_id, duplicate_of, record, created_at
		FROM mrz.records
		WHERE id = $1::uuid
	`

	var (
		out            StoredRecord
		jobID, pointID sql.NullString
		duplicateOf    pq.StringArray
		recordJSON     []byte
	)

	err := p.db.QueryRowContext(ctx, query, recordID).Scan(
		&out.ID, &jobID, &pointID, &duplicateOf, &recordJSON, &out.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	out.JobID = jobID.String
	out.PointID = pointID.String
	out.DuplicateOf = []string(duplicateOf)

	out.Record = &mrz.Record{}
	if err := json.Unmarshal(recordJSON, out.Record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return &out, nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id,
			filename,
			mime_type,
			file_size,
			status,
			confidence,
			processing_time_ms,
			record_id,
			error_code,
			error_message,
			ocr_engine,
			metadata,
			created_at,
			updated_at
		FROM mrz.scan_jobs
		WHERE id = $1::uuid
	`

	var (
		job                               Job
		filename, mimeType                sql.NullString
		fileSize                          sql.NullInt64
		confidence                        sql.NullFloat64
		processingTimeMs                  sql.NullInt64
		recordID, errorCode, errorMessage sql.NullString
		ocrEngine                         sql.NullString
		metadataJSON                      []byte
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID, &filename, &mimeType, &fileSize, &job.Status,
		&confidence, &processingTimeMs, &recordID,
		&errorCode, &errorMessage, &ocrEngine,
		&metadataJSON, &job.CreatedAt, &job.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	job.Filename = filename.String
	job.MimeType = mimeType.String
	job.FileSize = fileSize.Int64
	job.Confidence = confidence.Float64
	job.ProcessingTimeMs = processingTimeMs.Int64
	job.RecordID = recordID.String
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMessage.String
	job.OCREngine = ocrEngine.String

	return &job, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

// checkFailures lists the field keys whose check digit failed.
func checkFailures(r *mrz.Record) []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Field)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
