// Package encounter owns the draft → finalized lifecycle of clinical
// encounters. All session state lives inside the Manager; nothing is read
// from ambient globals, and every transition goes through one place.
package encounter

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/encounter-risk-server/internal/audit"
	"github.com/encounter-risk-server/internal/domain"
)

// Manager coordinates encounters for the patients of one service instance.
// It exclusively owns each encounter's in-memory draft until finalize;
// after a successful finalize the persisted record belongs to the
// repository and the manager keeps only the encounter id.
type Manager struct {
	logger *logrus.Logger
	repo   domain.EncounterRepository
	audit  audit.Store

	mu       sync.Mutex
	sessions map[string]*session
}

// session tracks one patient's encounter within this service instance.
// A single in-flight flag guards finalize; the draft pointer is always
// read under the manager lock so finalize sees the latest analysis.
type session struct {
	encounterID      uuid.UUID
	hasEncounter     bool
	state            domain.EncounterState
	draft            *domain.AnalysisResult
	draftPersisted   bool
	finalizeInFlight bool
}

// Status is the caller-visible view of a patient's encounter.
type Status struct {
	EncounterID    uuid.UUID              `json:"encounter_id,omitempty"`
	State          domain.EncounterState  `json:"state"`
	CanFinalize    bool                   `json:"can_finalize"`
	HasUnsavedWork bool                   `json:"has_unsaved_work"`
	Warning        string                 `json:"warning,omitempty"`
	Draft          *domain.AnalysisResult `json:"draft,omitempty"`
}

// NewManager creates a new encounter lifecycle manager. The audit store is
// optional; when nil, finalizations are not journaled.
func NewManager(logger *logrus.Logger, repo domain.EncounterRepository, auditStore audit.Store) *Manager {
	return &Manager{
		logger:   logger,
		repo:     repo,
		audit:    auditStore,
		sessions: make(map[string]*session),
	}
}

// RecordAnalysis accepts a freshly computed analysis as the patient's
// current draft. The first analysis creates the encounter (none → draft);
// later ones overwrite the draft in memory with no external write. If the
// encounter cannot be created the analysis still stands, but finalize
// stays disabled and the returned status carries a warning.
func (m *Manager) RecordAnalysis(ctx context.Context, patientID string, result *domain.AnalysisResult) (*Status, error) {
	if patientID == "" {
		return nil, fmt.Errorf("recording analysis: patient id is required")
	}
	if result == nil {
		return nil, fmt.Errorf("recording analysis: analysis result is required")
	}

	m.mu.Lock()
	sess, exists := m.sessions[patientID]
	if !exists {
		sess = &session{state: domain.ENCOUNTER_NONE}
		m.sessions[patientID] = sess
	}
	needsEncounter := !sess.hasEncounter
	m.mu.Unlock()

	var warning string
	if needsEncounter {
		enc, err := m.repo.CreateEncounter(ctx, patientID)
		if err != nil {
			warning = "encounter creation failed; analysis available but cannot be finalized"
			m.logger.WithError(err).WithField("patient_id", patientID).
				Error("Failed to create encounter")
		} else {
			m.mu.Lock()
			// A concurrent analysis may have won the race; keep the first id.
			if !sess.hasEncounter {
				sess.encounterID = enc.ID
				sess.hasEncounter = true
			}
			m.mu.Unlock()

			m.logger.WithFields(logrus.Fields{
				"patient_id":   patientID,
				"encounter_id": enc.ID,
			}).Info("Encounter created")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.state == domain.ENCOUNTER_NONE {
		sess.state = domain.ENCOUNTER_DRAFT
	}
	// The previous draft is discarded; re-analysis after finalize leaves
	// the persisted record untouched and simply stages new unsaved work.
	sess.draft = result
	sess.draftPersisted = false

	m.logger.WithFields(logrus.Fields{
		"patient_id":    patientID,
		"state":         sess.state,
		"snapshot_hash": result.SnapshotHash,
		"source":        result.Source,
	}).Info("Draft analysis recorded")

	status := m.statusLocked(sess)
	if warning != "" {
		status.Warning = warning
	}
	return status, nil
}

// Finalize durably persists the current draft and releases it for patient
// visibility. The write happens at most once per clinician action: a
// duplicate call while a finalize is in flight is silently suppressed, and
// a repeat after success returns ErrAlreadyFinalized until a new analysis
// stages fresh work.
func (m *Manager) Finalize(ctx context.Context, patientID, actor string) (*Status, error) {
	m.mu.Lock()
	sess, exists := m.sessions[patientID]
	if !exists || sess.state == domain.ENCOUNTER_NONE {
		m.mu.Unlock()
		return nil, domain.ErrNoDraft
	}
	if sess.finalizeInFlight {
		// Duplicate click during an in-flight finalize: not an error.
		status := m.statusLocked(sess)
		m.mu.Unlock()
		m.logger.WithField("patient_id", patientID).Debug("Duplicate finalize suppressed")
		return status, nil
	}
	if sess.draft == nil || sess.draftPersisted {
		status := sess.state
		m.mu.Unlock()
		if status == domain.ENCOUNTER_FINALIZED {
			return nil, domain.ErrAlreadyFinalized
		}
		return nil, domain.ErrNoDraft
	}
	if !sess.hasEncounter {
		m.mu.Unlock()
		return nil, domain.ErrEncounterUnavailable
	}

	// Capture the identifier and the latest draft under the lock, then
	// mark the action in flight before releasing it.
	encounterID := sess.encounterID
	draft := sess.draft
	sess.finalizeInFlight = true
	m.mu.Unlock()

	err := m.persistFinalize(ctx, encounterID, patientID, draft)

	m.mu.Lock()
	defer m.mu.Unlock()
	sess.finalizeInFlight = false

	if err != nil {
		// State stays draft; retry is safe because nothing was released.
		m.logger.WithError(err).WithFields(logrus.Fields{
			"patient_id":   patientID,
			"encounter_id": encounterID,
		}).Error("Finalize failed, draft retained")
		return nil, fmt.Errorf("finalizing encounter: %w", err)
	}

	sess.state = domain.ENCOUNTER_FINALIZED
	// A re-analysis that landed while the write was in flight stays
	// unsaved and can be finalized again explicitly.
	if sess.draft == draft {
		sess.draftPersisted = true
	}

	m.logger.WithFields(logrus.Fields{
		"patient_id":   patientID,
		"encounter_id": encounterID,
		"actor":        actor,
		"diagnosed":    draft.Summary.DiagnosedCount,
	}).Info("Encounter finalized")

	m.recordAudit(ctx, encounterID, patientID, actor, draft)

	return m.statusLocked(sess), nil
}

// persistFinalize performs the durable writes backing a finalize action.
func (m *Manager) persistFinalize(ctx context.Context, encounterID uuid.UUID, patientID string, draft *domain.AnalysisResult) error {
	if err := m.repo.SaveFinalizedResult(ctx, encounterID, patientID, draft); err != nil {
		return fmt.Errorf("writing patient record: %w", err)
	}
	if err := m.repo.CompleteEncounter(ctx, encounterID); err != nil {
		return fmt.Errorf("completing encounter: %w", err)
	}
	return nil
}

// recordAudit journals a successful finalize. Audit failures are logged
// and swallowed; the finalize itself has already succeeded.
func (m *Manager) recordAudit(ctx context.Context, encounterID uuid.UUID, patientID, actor string, draft *domain.AnalysisResult) {
	if m.audit == nil {
		return
	}
	record := &audit.Record{
		EncounterID:    encounterID.String(),
		PatientID:      patientID,
		Actor:          actor,
		Source:         string(draft.Source),
		DiagnosedCount: draft.Summary.DiagnosedCount,
		ElevatedCount:  draft.Summary.ElevatedCount,
	}
	if err := m.audit.Save(ctx, record); err != nil {
		m.logger.WithError(err).WithField("encounter_id", encounterID).
			Warn("Failed to record finalize audit entry")
	}
}

// State returns the current lifecycle status for a patient.
func (m *Manager) State(patientID string) *Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[patientID]
	if !exists {
		return &Status{State: domain.ENCOUNTER_NONE}
	}
	return m.statusLocked(sess)
}

// PatientResult loads the finalized, patient-visible analysis from the
// repository. Drafts are never exposed here.
func (m *Manager) PatientResult(ctx context.Context, patientID string) (*domain.AnalysisResult, error) {
	m.mu.Lock()
	sess, exists := m.sessions[patientID]
	if !exists || sess.state != domain.ENCOUNTER_FINALIZED {
		m.mu.Unlock()
		return nil, domain.ErrNotFinalized
	}
	encounterID := sess.encounterID
	m.mu.Unlock()

	result, err := m.repo.GetFinalizedResult(ctx, encounterID)
	if err != nil {
		return nil, fmt.Errorf("loading finalized result: %w", err)
	}
	return result, nil
}

// statusLocked builds a Status snapshot; callers must hold m.mu.
func (m *Manager) statusLocked(sess *session) *Status {
	status := &Status{
		State:          sess.state,
		CanFinalize:    sess.hasEncounter && sess.draft != nil && !sess.draftPersisted && !sess.finalizeInFlight,
		HasUnsavedWork: sess.draft != nil && !sess.draftPersisted,
		Draft:          sess.draft,
	}
	if sess.hasEncounter {
		status.EncounterID = sess.encounterID
	} else if sess.state != domain.ENCOUNTER_NONE {
		status.Warning = "no encounter identifier; finalize is disabled"
	}
	return status
}
