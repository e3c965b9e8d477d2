package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using an embedded SQLite
// database, for single-node deployments without a Postgres instance.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite audit store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS finalize_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		encounter_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		actor TEXT DEFAULT '',
		source TEXT NOT NULL,
		diagnosed_count INTEGER NOT NULL DEFAULT 0,
		elevated_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_patient_id ON finalize_audit(patient_id);
	CREATE INDEX IF NOT EXISTS idx_audit_encounter_id ON finalize_audit(encounter_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created_at ON finalize_audit(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save appends a finalize audit entry.
func (s *SQLiteStore) Save(ctx context.Context, record *Record) error {
	now := time.Now()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO finalize_audit (
			encounter_id, patient_id, actor, source,
			diagnosed_count, elevated_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		record.EncounterID,
		record.PatientID,
		record.Actor,
		record.Source,
		record.DiagnosedCount,
		record.ElevatedCount,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save audit record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit record id: %w", err)
	}

	record.ID = id
	record.CreatedAt = now
	return nil
}

// ListByPatient returns a patient's finalize history, newest first.
func (s *SQLiteStore) ListByPatient(ctx context.Context, patientID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, encounter_id, patient_id, actor, source,
			diagnosed_count, elevated_count, created_at
		FROM finalize_audit
		WHERE patient_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
