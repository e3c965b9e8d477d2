// Package audit journals finalize actions: who released which encounter's
// results to the patient, and when. The trail is append-only.
package audit

import (
	"context"
	"time"
)

// Record is one finalize audit entry.
type Record struct {
	ID             int64     `json:"id"`
	EncounterID    string    `json:"encounter_id"`
	PatientID      string    `json:"patient_id"`
	Actor          string    `json:"actor"`
	Source         string    `json:"source"`
	DiagnosedCount int       `json:"diagnosed_count"`
	ElevatedCount  int       `json:"elevated_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists finalize audit entries.
type Store interface {
	// Save appends an audit entry and fills in its ID and CreatedAt.
	Save(ctx context.Context, record *Record) error

	// ListByPatient returns a patient's entries, newest first.
	ListByPatient(ctx context.Context, patientID string, limit int) ([]*Record, error)

	// Close releases the underlying database handle.
	Close() error
}
