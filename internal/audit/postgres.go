package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL audit store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL audit store from a
// connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Save appends a finalize audit entry.
func (s *PostgresStore) Save(ctx context.Context, record *Record) error {
	now := time.Now()

	query := `
		INSERT INTO finalize_audit (
			encounter_id, patient_id, actor, source,
			diagnosed_count, elevated_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		record.EncounterID,
		record.PatientID,
		record.Actor,
		record.Source,
		record.DiagnosedCount,
		record.ElevatedCount,
		now,
	).Scan(&record.ID)

	if err != nil {
		return fmt.Errorf("failed to save audit record: %w", err)
	}

	record.CreatedAt = now
	return nil
}

// ListByPatient returns a patient's finalize history, newest first.
func (s *PostgresStore) ListByPatient(ctx context.Context, patientID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, encounter_id, patient_id, actor, source,
			diagnosed_count, elevated_count, created_at
		FROM finalize_audit
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, patientID, limit)
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a row into a Record struct.
func scanRecord(s scanner) (*Record, error) {
	record := &Record{}
	err := s.Scan(
		&record.ID, &record.EncounterID, &record.PatientID, &record.Actor,
		&record.Source, &record.DiagnosedCount, &record.ElevatedCount, &record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}
