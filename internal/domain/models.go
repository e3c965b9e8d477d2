package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RiskFactor is one contributing factor behind a disease verdict.
type RiskFactor struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
	Value      float64 `json:"value"`
	Provided   bool    `json:"provided"`
}

// DiseaseVerdict is the clinician-facing classification of one disease for
// one analysis run. The ClinicalStatus discriminator separates categorical
// diagnostic verdicts from statistical banding so the two paths cannot be
// confused downstream.
type DiseaseVerdict struct {
	Disease        Disease        `json:"disease"`
	RawScore       float64        `json:"raw_score"`
	RiskPercent    float64        `json:"risk_percent"`
	ClinicalStatus ClinicalStatus `json:"clinical_status"`
	SeverityLabel  SeverityLabel  `json:"severity_label"`
	DiagnosticNote string         `json:"diagnostic_note,omitempty"`
	Confidence     float64        `json:"confidence"`
	Source         ScoreSource    `json:"source"`
	TopFactors     []RiskFactor   `json:"top_factors,omitempty"`
}

// Validate enforces the verdict invariants. A diagnosed verdict must carry
// the highest-alarm label and a non-empty note citing the hard criterion
// that triggered it.
func (v *DiseaseVerdict) Validate() error {
	if !v.Disease.IsValid() {
		return fmt.Errorf("verdict validation: %w", ErrInvalidDisease)
	}
	if !v.ClinicalStatus.IsValid() {
		return fmt.Errorf("verdict validation: %w", ErrInvalidStatus)
	}
	if !v.SeverityLabel.IsValid() {
		return fmt.Errorf("verdict validation: %w", ErrInvalidSeverity)
	}
	if !v.Source.IsValid() {
		return fmt.Errorf("verdict validation: %w", ErrInvalidSource)
	}
	if v.RawScore < 0 || v.RawScore > 1 {
		return fmt.Errorf("verdict validation: raw score %.4f out of range [0,1]", v.RawScore)
	}
	if v.ClinicalStatus == DIAGNOSED {
		if v.SeverityLabel != LABEL_DIAGNOSED {
			return fmt.Errorf("verdict validation: diagnosed verdict carries label %s", v.SeverityLabel)
		}
		if v.DiagnosticNote == "" {
			return fmt.Errorf("verdict validation: %w", errors.New("diagnosed verdict requires a diagnostic note"))
		}
	}
	return nil
}

// AnalysisSummary holds run-level counts over all verdicts.
type AnalysisSummary struct {
	DiagnosedCount  int `json:"diagnosed_count"`
	BorderlineCount int `json:"borderline_count"`
	ElevatedCount   int `json:"elevated_count"`
	ModerateCount   int `json:"moderate_count"`
	LowCount        int `json:"low_count"`
}

// DataQuality describes how complete the snapshot was: the fraction of
// expected fields actually provided, and which fields a disease rule had
// to impute at a neutral default.
type DataQuality struct {
	ExpectedFields   int      `json:"expected_fields"`
	ProvidedFields   int      `json:"provided_fields"`
	ProvidedFraction float64  `json:"provided_fraction"`
	ImputedFields    []string `json:"imputed_fields,omitempty"`
}

// AnalysisResult is the full output of one analysis run over one snapshot.
// It is held in memory as a draft until the clinician finalizes; only then
// is it written to durable, patient-visible storage.
type AnalysisResult struct {
	ID           uuid.UUID        `json:"id"`
	SnapshotHash string           `json:"snapshot_hash"`
	Verdicts     []DiseaseVerdict `json:"verdicts"`
	Summary      AnalysisSummary  `json:"summary"`
	DataQuality  DataQuality      `json:"data_quality"`
	Source       ScoreSource      `json:"source"`
	ModelVersion string           `json:"model_version,omitempty"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// Authoritative reports whether the result came from the live model.
// Simulated fallback results must be displayed as non-authoritative.
func (r *AnalysisResult) Authoritative() bool {
	return r.Source == LIVE_MODEL
}

// Verdict returns the verdict for the given disease, if present.
func (r *AnalysisResult) Verdict(d Disease) (*DiseaseVerdict, bool) {
	for i := range r.Verdicts {
		if r.Verdicts[i].Disease == d {
			return &r.Verdicts[i], true
		}
	}
	return nil, false
}

// Validate checks every verdict and the summary invariants.
func (r *AnalysisResult) Validate() error {
	if len(r.Verdicts) == 0 {
		return errors.New("analysis result validation: no verdicts")
	}
	if !r.Source.IsValid() {
		return fmt.Errorf("analysis result validation: %w", ErrInvalidSource)
	}
	for i := range r.Verdicts {
		if err := r.Verdicts[i].Validate(); err != nil {
			return fmt.Errorf("analysis result validation: verdict %s: %w", r.Verdicts[i].Disease, err)
		}
	}
	return nil
}

// Clone returns a deep copy. Memoized results are cloned before handing
// out so callers cannot mutate the cached copy.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Verdicts = make([]DiseaseVerdict, len(r.Verdicts))
	for i, v := range r.Verdicts {
		clone.Verdicts[i] = v
		clone.Verdicts[i].TopFactors = append([]RiskFactor(nil), v.TopFactors...)
	}
	clone.DataQuality.ImputedFields = append([]string(nil), r.DataQuality.ImputedFields...)
	return &clone
}

// PatientSafeVerdict is the de-sharpened, patient-facing view derived on
// demand from a finalized DiseaseVerdict. It is never stored.
type PatientSafeVerdict struct {
	Disease        Disease       `json:"disease"`
	DiseaseName    string        `json:"disease_name"`
	DisplayPercent float64       `json:"display_percent"`
	ShowPercent    bool          `json:"show_percent"`
	DisplayLabel   SeverityLabel `json:"display_label"`
	Message        string        `json:"message"`
	Authoritative  bool          `json:"authoritative"`
}

// Encounter identifies one clinical visit and its lifecycle position.
// The zero value is a valid "no encounter yet" record.
type Encounter struct {
	ID          uuid.UUID      `json:"id"`
	PatientID   string         `json:"patient_id"`
	State       EncounterState `json:"state"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// PredictionResponse is the wire shape returned by the live prediction
// service for POST /predict/multi-disease.
type PredictionResponse struct {
	Scores       map[Disease]float64 `json:"scores"`
	ModelVersion string              `json:"model_version"`
	GeneratedAt  time.Time           `json:"generated_at"`
}

// Validate checks that the prediction covers every supported disease with
// an in-range score.
func (p *PredictionResponse) Validate() error {
	for _, d := range AllDiseases() {
		score, ok := p.Scores[d]
		if !ok {
			return fmt.Errorf("prediction validation: missing score for %s", d)
		}
		if score < 0 || score > 1 {
			return fmt.Errorf("prediction validation: score %.4f for %s out of range [0,1]", score, d)
		}
	}
	return nil
}
