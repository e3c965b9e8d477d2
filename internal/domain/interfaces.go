package domain

import (
	"context"

	"github.com/google/uuid"
)

// PredictionService is the live multi-disease model collaborator. On any
// failure the caller falls back to the deterministic simulator; the
// service itself never does so.
type PredictionService interface {
	Predict(ctx context.Context, snapshot ClinicalSnapshot) (*PredictionResponse, error)
}

// EncounterRepository is the persistence collaborator owning encounters
// and finalized, patient-visible analysis results. Finalize-write
// idempotency is the lifecycle manager's responsibility; the repository
// only has to tolerate a repeat of the same (encounter, result) write.
type EncounterRepository interface {
	CreateEncounter(ctx context.Context, patientID string) (*Encounter, error)
	CompleteEncounter(ctx context.Context, encounterID uuid.UUID) error
	SaveFinalizedResult(ctx context.Context, encounterID uuid.UUID, patientID string, result *AnalysisResult) error
	GetFinalizedResult(ctx context.Context, encounterID uuid.UUID) (*AnalysisResult, error)
}

// ConfigManager provides access to application configuration.
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetDatabaseConfig() *DatabaseConfig
	GetPredictionConfig() *PredictionConfig
	Validate() error
}
