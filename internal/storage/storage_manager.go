/**
 * Storage Manager for the MRZ worker
 *
 * Coordinates PostgreSQL (jobs, records) and Qdrant (MRZ fingerprints).
 * A record is written to Qdrant first and the point is removed again when
 * the PostgreSQL insert fails, so neither store references a missing row.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/mrz-worker/internal/mrz"
)

// duplicateSearchLimit caps how many earlier scans a record is linked to.
const duplicateSearchLimit = 5

// RecordDB is the relational side of the storage manager.
type RecordDB interface {
	UpdateJobStatus(ctx context.Context, update *JobUpdate) error
	InsertRecord(ctx context.Context, rec *StoredRecord) (time.Time, error)
	GetRecord(ctx context.Context, recordID string) (*StoredRecord, error)
	GetJobByID(ctx context.Context, jobID string) (*Job, error)
	Ping(ctx context.Context) error
	GetStats() sql.DBStats
	Close() error
}

// FingerprintIndex is the vector side of the storage manager.
type FingerprintIndex interface {
	UpsertFingerprint(ctx context.Context, point *FingerprintPoint) error
	SearchSimilar(ctx context.Context, vector []float32, limit int, threshold float32) ([]*Match, error)
	DeletePoint(ctx context.Context, id string) error
	GetCollectionInfo(ctx context.Context) (map[string]interface{}, error)
	Close() error
}

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	db        RecordDB
	index     FingerprintIndex
	threshold float32
}

// RecordInput is what the processor hands over for persistence.
type RecordInput struct {
	JobID  string
	Record *mrz.Record
}

// NewStorageManager connects to PostgreSQL and, when qdrantAddress is set,
// to Qdrant. The schema is created on first use.
func NewStorageManager(postgresURL, qdrantAddress, qdrantCollection string, threshold float64) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close()
		return nil, err
	}

	var index FingerprintIndex
	if qdrantAddress != "" {
		qc, err := NewQdrantClient(qdrantAddress, qdrantCollection)
		if err != nil {
			postgres.Close()
			return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
		}
		index = qc
	}

	return NewStorageManagerWith(postgres, index, threshold), nil
}

// NewStorageManagerWith assembles a manager from existing clients. index may
// be nil, which disables duplicate detection.
func NewStorageManagerWith(db RecordDB, index FingerprintIndex, threshold float64) *StorageManager {
	return &StorageManager{db: db, index: index, threshold: float32(threshold)}
}

// StoreRecord persists a decoded record. When a fingerprint index is
// configured, earlier records whose fingerprint scores at least the
// duplicate threshold are listed in DuplicateOf.
func (sm *StorageManager) StoreRecord(ctx context.Context, input *RecordInput) (*StoredRecord, error) {
	if input == nil || input.Record == nil {
		return nil, fmt.Errorf("record is required")
	}

	out := &StoredRecord{
		ID:     uuid.New().String(),
		JobID:  input.JobID,
		Record: input.Record,
	}

	if sm.index != nil {
		vector := Fingerprint(input.Record.Lines.Resolved)

		matches, err := sm.index.SearchSimilar(ctx, vector, duplicateSearchLimit, sm.threshold)
		if err != nil {
			return nil, fmt.Errorf("failed to search fingerprints: %w", err)
		}
		for _, m := range matches {
			if m.RecordID != "" {
				out.DuplicateOf = append(out.DuplicateOf, m.RecordID)
			}
		}

		out.PointID = uuid.New().String()
		point := &FingerprintPoint{
			ID:     out.PointID,
			Vector: vector,
			Metadata: map[string]interface{}{
				"record_id":       out.ID,
				"job_id":          input.JobID,
				"format":          input.Record.Format.String(),
				"document_number": input.Record.DocumentNumber,
				"status":          string(input.Record.Status),
				"created_at":      time.Now().Unix(),
			},
		}
		if err := sm.index.UpsertFingerprint(ctx, point); err != nil {
			return nil, fmt.Errorf("failed to store fingerprint in Qdrant: %w", err)
		}
	}

	createdAt, err := sm.db.InsertRecord(ctx, out)
	if err != nil {
		if out.PointID != "" {
			// Rollback: the fingerprint must not outlive its row
			_ = sm.index.DeletePoint(ctx, out.PointID)
		}
		return nil, fmt.Errorf("failed to store record in PostgreSQL: %w", err)
	}
	out.CreatedAt = createdAt

	return out, nil
}

// GetRecord retrieves a stored record by ID
func (sm *StorageManager) GetRecord(ctx context.Context, recordID string) (*StoredRecord, error) {
	return sm.db.GetRecord(ctx, recordID)
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.db.UpdateJobStatus(ctx, update)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (*Job, error) {
	return sm.db.GetJobByID(ctx, jobID)
}

// Ping checks that PostgreSQL is reachable.
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.db.Ping(ctx)
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pgStats := sm.db.GetStats()

	stats := map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
	}

	if sm.index != nil {
		qdrantStats, err := sm.index.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	return stats, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.db != nil {
		pgErr = sm.db.Close()
	}

	if sm.index != nil {
		qdErr = sm.index.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}
