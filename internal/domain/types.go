// Package domain contains core business entities and types for clinical
// encounter risk classification: per-disease risk verdicts layered over
// diagnostic-threshold rules, the encounter draft/finalize lifecycle, and
// the patient-safe display derivation.
package domain

import (
	"errors"
	"fmt"
)

// Disease identifies a condition the engine produces a verdict for.
type Disease string

const (
	DIABETES       Disease = "diabetes"
	HYPERTENSION   Disease = "hypertension"
	HEART_DISEASE  Disease = "heart_disease"
	STROKE         Disease = "stroke"
	KIDNEY_DISEASE Disease = "kidney_disease"
)

// AllDiseases returns every supported disease in a fixed order.
// The ordering is load-bearing: the deterministic simulator derives each
// disease's score from its index in this slice, so reordering changes
// simulated output.
func AllDiseases() []Disease {
	return []Disease{DIABETES, HYPERTENSION, HEART_DISEASE, STROKE, KIDNEY_DISEASE}
}

// ClinicalStatus is the two-tier classification discriminator. Diagnostic
// and statistical paths carry different guarantees, so code switching on
// it must handle all three variants.
type ClinicalStatus string

const (
	DIAGNOSED     ClinicalStatus = "diagnosed"
	BORDERLINE    ClinicalStatus = "borderline"
	NOT_DIAGNOSED ClinicalStatus = "not_diagnosed"
)

// SeverityLabel is the human-facing label derived from the classification.
type SeverityLabel string

const (
	LABEL_DIAGNOSED  SeverityLabel = "DIAGNOSED"
	LABEL_BORDERLINE SeverityLabel = "BORDERLINE"
	ELEVATED_RISK    SeverityLabel = "ELEVATED RISK"
	MODERATE_RISK    SeverityLabel = "MODERATE RISK"
	LOW_RISK         SeverityLabel = "LOW RISK"
	MINIMAL_RISK     SeverityLabel = "MINIMAL RISK"
)

// ScoreSource records where the raw risk scores of an analysis came from.
// Simulated scores are an availability fallback, not a clinical model, and
// every surface showing them must mark them non-authoritative.
type ScoreSource string

const (
	LIVE_MODEL ScoreSource = "live_model"
	SIMULATED  ScoreSource = "simulated"
)

// EncounterState is the lifecycle state of one clinical visit.
// FINALIZED is terminal: an encounter never transitions back to draft.
type EncounterState string

const (
	ENCOUNTER_NONE      EncounterState = "none"
	ENCOUNTER_DRAFT     EncounterState = "draft"
	ENCOUNTER_FINALIZED EncounterState = "finalized"
)

// Validation errors for clinical data integrity
var (
	ErrInvalidDisease  = errors.New("invalid disease identifier")
	ErrInvalidStatus   = errors.New("invalid clinical status")
	ErrInvalidSeverity = errors.New("invalid severity label")
	ErrInvalidSource   = errors.New("invalid score source")
	ErrInvalidState    = errors.New("invalid encounter state")
)

// IsValid reports whether the disease is one the engine supports.
func (d Disease) IsValid() bool {
	switch d {
	case DIABETES, HYPERTENSION, HEART_DISEASE, STROKE, KIDNEY_DISEASE:
		return true
	default:
		return false
	}
}

// String returns the wire identifier of the disease.
func (d Disease) String() string {
	return string(d)
}

// DisplayName returns a human-readable disease name for reports.
func (d Disease) DisplayName() string {
	switch d {
	case DIABETES:
		return "Type 2 Diabetes"
	case HYPERTENSION:
		return "Hypertension"
	case HEART_DISEASE:
		return "Coronary Heart Disease"
	case STROKE:
		return "Stroke"
	case KIDNEY_DISEASE:
		return "Chronic Kidney Disease"
	default:
		return string(d)
	}
}

// IsValid validates the clinical status discriminator.
func (cs ClinicalStatus) IsValid() bool {
	switch cs {
	case DIAGNOSED, BORDERLINE, NOT_DIAGNOSED:
		return true
	default:
		return false
	}
}

// String returns the string representation of the clinical status.
func (cs ClinicalStatus) String() string {
	return string(cs)
}

// IsValid validates the severity label.
func (sl SeverityLabel) IsValid() bool {
	switch sl {
	case LABEL_DIAGNOSED, LABEL_BORDERLINE, ELEVATED_RISK, MODERATE_RISK, LOW_RISK, MINIMAL_RISK:
		return true
	default:
		return false
	}
}

// String returns the string representation of the severity label.
func (sl SeverityLabel) String() string {
	return string(sl)
}

// Tier returns the alarm rank of the label, higher meaning more alarming.
// Used to enforce that patient-facing output never raises severity above
// the clinician-facing verdict.
func (sl SeverityLabel) Tier() int {
	switch sl {
	case LABEL_DIAGNOSED:
		return 5
	case LABEL_BORDERLINE:
		return 4
	case ELEVATED_RISK:
		return 3
	case MODERATE_RISK:
		return 2
	case LOW_RISK:
		return 1
	case MINIMAL_RISK:
		return 0
	default:
		return -1
	}
}

// IsStatistical reports whether the label came from risk-score banding
// rather than a categorical clinical rule. Only statistical labels are
// subject to the patient-safe downgrade.
func (sl SeverityLabel) IsStatistical() bool {
	switch sl {
	case ELEVATED_RISK, MODERATE_RISK, LOW_RISK, MINIMAL_RISK:
		return true
	default:
		return false
	}
}

// IsValid validates the score source.
func (ss ScoreSource) IsValid() bool {
	switch ss {
	case LIVE_MODEL, SIMULATED:
		return true
	default:
		return false
	}
}

// String returns the string representation of the score source.
func (ss ScoreSource) String() string {
	return string(ss)
}

// IsValid validates the encounter state.
func (es EncounterState) IsValid() bool {
	switch es {
	case ENCOUNTER_NONE, ENCOUNTER_DRAFT, ENCOUNTER_FINALIZED:
		return true
	default:
		return false
	}
}

// String returns the string representation of the encounter state.
func (es EncounterState) String() string {
	return string(es)
}

// CanTransitionTo reports whether the state machine permits a transition.
// The full transition table:
//
//	none      -> draft
//	draft     -> draft        (re-analysis overwrites the in-memory draft)
//	draft     -> finalized
//	finalized -> finalized    (a fresh draft on a finalized encounter may be re-submitted)
func (es EncounterState) CanTransitionTo(next EncounterState) bool {
	switch es {
	case ENCOUNTER_NONE:
		return next == ENCOUNTER_DRAFT
	case ENCOUNTER_DRAFT:
		return next == ENCOUNTER_DRAFT || next == ENCOUNTER_FINALIZED
	case ENCOUNTER_FINALIZED:
		return next == ENCOUNTER_FINALIZED
	default:
		return false
	}
}

// ParseDisease converts a wire identifier into a Disease.
func ParseDisease(s string) (Disease, error) {
	d := Disease(s)
	if !d.IsValid() {
		return "", fmt.Errorf("parsing disease %q: %w", s, ErrInvalidDisease)
	}
	return d, nil
}
