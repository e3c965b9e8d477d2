// Package repository provides PostgreSQL persistence for encounters and
// their finalized analysis results.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/encounter-risk-server/internal/domain"
)

// EncounterRepository handles encounter data persistence.
type EncounterRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewEncounterRepository creates a new encounter repository.
func NewEncounterRepository(db *pgxpool.Pool, logger *logrus.Logger) *EncounterRepository {
	return &EncounterRepository{
		db:  db,
		log: logger,
	}
}

// CreateEncounter opens a new draft encounter for a patient.
func (r *EncounterRepository) CreateEncounter(ctx context.Context, patientID string) (*domain.Encounter, error) {
	query := `
		INSERT INTO encounters (id, patient_id, state)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	encounter := &domain.Encounter{
		ID:        uuid.New(),
		PatientID: patientID,
		State:     domain.ENCOUNTER_DRAFT,
	}

	err := r.db.QueryRow(ctx, query,
		encounter.ID,
		encounter.PatientID,
		encounter.State,
	).Scan(&encounter.CreatedAt)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to create encounter")
		return nil, fmt.Errorf("creating encounter: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"encounter_id": encounter.ID,
		"patient_id":   patientID,
	}).Info("Encounter created")

	return encounter, nil
}

// GetEncounter retrieves an encounter by its ID.
func (r *EncounterRepository) GetEncounter(ctx context.Context, id uuid.UUID) (*domain.Encounter, error) {
	query := `
		SELECT id, patient_id, state, created_at, completed_at
		FROM encounters
		WHERE id = $1`

	var encounter domain.Encounter
	err := r.db.QueryRow(ctx, query, id).Scan(
		&encounter.ID,
		&encounter.PatientID,
		&encounter.State,
		&encounter.CreatedAt,
		&encounter.CompletedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("encounter not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"encounter_id": id,
			"error":        err,
		}).Error("Failed to get encounter")
		return nil, fmt.Errorf("getting encounter: %w", err)
	}

	return &encounter, nil
}

// ListByPatient retrieves a patient's encounters, newest first.
func (r *EncounterRepository) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*domain.Encounter, error) {
	query := `
		SELECT id, patient_id, state, created_at, completed_at
		FROM encounters
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, patientID, limit, offset)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to list encounters")
		return nil, fmt.Errorf("listing encounters: %w", err)
	}
	defer rows.Close()

	var encounters []*domain.Encounter
	for rows.Next() {
		var encounter domain.Encounter
		err := rows.Scan(
			&encounter.ID,
			&encounter.PatientID,
			&encounter.State,
			&encounter.CreatedAt,
			&encounter.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning encounter row: %w", err)
		}
		encounters = append(encounters, &encounter)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating encounter rows: %w", err)
	}

	return encounters, nil
}

// CompleteEncounter marks an encounter as finalized. Finalized is
// terminal, so a repeat of the same transition is harmless.
func (r *EncounterRepository) CompleteEncounter(ctx context.Context, encounterID uuid.UUID) error {
	query := `
		UPDATE encounters
		SET state = $2, completed_at = COALESCE(completed_at, NOW())
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, encounterID, domain.ENCOUNTER_FINALIZED)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"encounter_id": encounterID,
			"error":        err,
		}).Error("Failed to complete encounter")
		return fmt.Errorf("completing encounter: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("encounter not found: %w", domain.ErrNotFound)
	}

	r.log.WithField("encounter_id", encounterID).Info("Encounter completed")
	return nil
}

// SaveFinalizedResult stores the released analysis for an encounter. The
// payload is written as JSONB keyed by encounter, and a repeated write
// for the same encounter replaces the row, which keeps retries safe.
func (r *EncounterRepository) SaveFinalizedResult(ctx context.Context, encounterID uuid.UUID, patientID string, result *domain.AnalysisResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding analysis result: %w", err)
	}

	query := `
		INSERT INTO analysis_results (
			id, encounter_id, patient_id, snapshot_hash, source,
			model_version, payload, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (encounter_id) DO UPDATE SET
			snapshot_hash = EXCLUDED.snapshot_hash,
			source = EXCLUDED.source,
			model_version = EXCLUDED.model_version,
			payload = EXCLUDED.payload,
			generated_at = EXCLUDED.generated_at,
			finalized_at = NOW()`

	_, err = r.db.Exec(ctx, query,
		result.ID,
		encounterID,
		patientID,
		result.SnapshotHash,
		result.Source,
		result.ModelVersion,
		payload,
		result.GeneratedAt,
	)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"encounter_id": encounterID,
			"patient_id":   patientID,
			"error":        err,
		}).Error("Failed to save finalized result")
		return fmt.Errorf("saving finalized result: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"encounter_id":  encounterID,
		"patient_id":    patientID,
		"snapshot_hash": result.SnapshotHash,
		"source":        result.Source,
	}).Info("Finalized result saved")

	return nil
}

// GetFinalizedResult retrieves the released analysis for an encounter.
func (r *EncounterRepository) GetFinalizedResult(ctx context.Context, encounterID uuid.UUID) (*domain.AnalysisResult, error) {
	query := `
		SELECT payload
		FROM analysis_results
		WHERE encounter_id = $1`

	var payload []byte
	err := r.db.QueryRow(ctx, query, encounterID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("finalized result not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"encounter_id": encounterID,
			"error":        err,
		}).Error("Failed to get finalized result")
		return nil, fmt.Errorf("getting finalized result: %w", err)
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decoding analysis result: %w", err)
	}

	return &result, nil
}

// PurgeStaleDrafts removes draft encounters older than the retention
// window that never reached finalize. Returns the number removed.
func (r *EncounterRepository) PurgeStaleDrafts(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM encounters
		WHERE state = $1 AND created_at < NOW() - $2::interval`

	interval := fmt.Sprintf("%d seconds", int64(olderThan.Seconds()))
	result, err := r.db.Exec(ctx, query, domain.ENCOUNTER_DRAFT, interval)
	if err != nil {
		return 0, fmt.Errorf("purging stale drafts: %w", err)
	}

	purged := result.RowsAffected()
	if purged > 0 {
		r.log.WithField("purged", purged).Info("Stale draft encounters purged")
	}
	return purged, nil
}
