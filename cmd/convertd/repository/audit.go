package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/convertd/common/db"
)

// AuditRepository persists one row per terminal conversion outcome, for
// usage reporting and billing. Writes are best effort from the caller's
// point of view; the lifecycle never depends on them.
type AuditRepository struct {
	db *db.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(database *db.DB) *AuditRepository {
	return &AuditRepository{db: database}
}

// ConversionRecord is one audited conversion
type ConversionRecord struct {
	SessionID  string
	Tool       string
	Outcome    string
	Cause      string
	InputSize  int64
	OutputSize int64
	DurationMS int64
	CreatedAt  time.Time
}

// EnsureSchema creates the audit table if missing
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS conversion_audit (
			id           BIGSERIAL PRIMARY KEY,
			session_id   TEXT NOT NULL,
			tool         TEXT NOT NULL,
			outcome      TEXT NOT NULL,
			cause        TEXT NOT NULL DEFAULT '',
			input_size   BIGINT NOT NULL,
			output_size  BIGINT NOT NULL,
			duration_ms  BIGINT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)
	`

	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure audit schema: %w", err)
	}
	return nil
}

// RecordConversion inserts one audit row. Satisfies service.Auditor.
func (r *AuditRepository) RecordConversion(ctx context.Context, sessionID, tool, outcome, cause string, inputSize, outputSize int64, duration time.Duration) error {
	query := `
		INSERT INTO conversion_audit (session_id, tool, outcome, cause, input_size, output_size, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		sessionID,
		tool,
		outcome,
		cause,
		inputSize,
		outputSize,
		duration.Milliseconds(),
		time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to record conversion: %w", err)
	}

	return nil
}

// ListRecent retrieves the most recent audit rows
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]*ConversionRecord, error) {
	query := `
		SELECT session_id, tool, outcome, cause, input_size, output_size, duration_ms, created_at
		FROM conversion_audit
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*ConversionRecord
	for rows.Next() {
		rec := &ConversionRecord{}
		err := rows.Scan(
			&rec.SessionID,
			&rec.Tool,
			&rec.Outcome,
			&rec.Cause,
			&rec.InputSize,
			&rec.OutputSize,
			&rec.DurationMS,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}

	return records, nil
}
