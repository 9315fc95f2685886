package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/batchdex/solver/internal/settlement"
)

// AuditLog persists a settlement's wire form once a batch reaches a
// terminal phase, so operators can independently re-derive or inspect a
// past settlement without replaying the whole batch.
type AuditLog struct {
	db *sql.DB
}

// NewAuditLog opens a Postgres connection pool from dsn ("postgres://...").
func NewAuditLog(dsn string) (*AuditLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open postgres connection: %w", err)
	}
	return &AuditLog{db: db}, nil
}

// Close releases the connection pool.
func (a *AuditLog) Close() error {
	return a.db.Close()
}

// Migrate creates the audit table if it doesn't already exist.
func (a *AuditLog) Migrate(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS settlements (
	batch_id TEXT PRIMARY KEY,
	pair_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	wire_bytes BYTEA NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("storage: failed to migrate settlements table: %w", err)
	}
	return nil
}

// Record appends a settlement to the audit log, keyed by batch id. A
// repeated settle of an already-terminal batch calls Record again with the
// same Settlement; ON CONFLICT DO NOTHING keeps the first row.
func (a *AuditLog) Record(ctx context.Context, batchID, pairID, phase string, s settlement.Settlement) error {
	const stmt = `
INSERT INTO settlements (batch_id, pair_id, phase, reason, wire_bytes)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (batch_id) DO NOTHING`
	_, err := a.db.ExecContext(ctx, stmt, batchID, pairID, phase, s.Reason, s.Encode())
	if err != nil {
		return fmt.Errorf("storage: failed to record settlement: %w", err)
	}
	return nil
}

// Fetch retrieves a previously recorded settlement's wire bytes by batch
// id, for reproducibility audits.
func (a *AuditLog) Fetch(ctx context.Context, batchID string) (settlement.Settlement, error) {
	var wireBytes []byte
	row := a.db.QueryRowContext(ctx, `SELECT wire_bytes FROM settlements WHERE batch_id = $1`, batchID)
	if err := row.Scan(&wireBytes); err != nil {
		return settlement.Settlement{}, fmt.Errorf("storage: failed to fetch settlement: %w", err)
	}
	return settlement.Decode(wireBytes)
}
