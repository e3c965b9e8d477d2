package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/encounter-risk-server/internal/domain"
)

func TestHardDiagnosticPrecedence(t *testing.T) {
	c := NewThresholdClassifier(testLogger())
	snapshot := domain.NewClinicalSnapshot(map[string]float64{"hba1c": 6.8})

	// Diagnostic criteria override the statistical score at every value.
	for _, score := range []float64{0.0, 0.05, 0.5, 0.99} {
		verdict, _, err := c.Classify(snapshot, domain.DIABETES, score, domain.LIVE_MODEL)
		require.NoError(t, err)

		assert.Equal(t, domain.DIAGNOSED, verdict.ClinicalStatus)
		assert.Equal(t, domain.LABEL_DIAGNOSED, verdict.SeverityLabel)
		assert.Contains(t, verdict.DiagnosticNote, "HbA1c 6.8%")
		assert.Contains(t, verdict.DiagnosticNote, "6.5%")
		assert.Equal(t, score, verdict.RawScore, "statistical score still recorded")
		require.NoError(t, verdict.Validate())
	}
}

func TestScenarioDiabetesDiagnosedHypertensionBorderline(t *testing.T) {
	c := NewThresholdClassifier(testLogger())
	snapshot := domain.NewClinicalSnapshot(map[string]float64{
		"hba1c": 6.8, "bp_systolic": 138, "bp_diastolic": 88, "bmi": 28.5, "age": 55,
	})

	diabetes, _, err := c.Classify(snapshot, domain.DIABETES, 0.3, domain.LIVE_MODEL)
	require.NoError(t, err)
	assert.Equal(t, domain.DIAGNOSED, diabetes.ClinicalStatus)
	assert.Contains(t, diabetes.DiagnosticNote, "HbA1c 6.8%")

	// 138/88 is stage-1 elevated, below the full 140/90 threshold.
	hypertension, _, err := c.Classify(snapshot, domain.HYPERTENSION, 0.3, domain.LIVE_MODEL)
	require.NoError(t, err)
	assert.Equal(t, domain.BORDERLINE, hypertension.ClinicalStatus)
	assert.Equal(t, domain.LABEL_BORDERLINE, hypertension.SeverityLabel)
}

func TestBorderlineCheck(t *testing.T) {
	c := NewThresholdClassifier(testLogger())

	tests := []struct {
		name     string
		hba1c    float64
		expected domain.ClinicalStatus
	}{
		{"normal", 5.4, domain.NOT_DIAGNOSED},
		{"prediabetic low edge", 5.7, domain.BORDERLINE},
		{"prediabetic high edge", 6.4, domain.BORDERLINE},
		{"diagnostic threshold", 6.5, domain.DIAGNOSED},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := domain.NewClinicalSnapshot(map[string]float64{"hba1c": tt.hba1c})
			verdict, _, err := c.Classify(snapshot, domain.DIABETES, 0.1, domain.LIVE_MODEL)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, verdict.ClinicalStatus)
		})
	}
}

func TestMissingFieldNeverDiagnoses(t *testing.T) {
	c := NewThresholdClassifier(testLogger())

	// No hba1c in the snapshot: the hard check is skipped and the verdict
	// falls through to banding, with the absence recorded as imputed.
	snapshot := domain.NewClinicalSnapshot(map[string]float64{"age": 60})
	verdict, imputed, err := c.Classify(snapshot, domain.DIABETES, 0.9, domain.LIVE_MODEL)
	require.NoError(t, err)

	assert.Equal(t, domain.NOT_DIAGNOSED, verdict.ClinicalStatus)
	assert.Equal(t, domain.ELEVATED_RISK, verdict.SeverityLabel)
	assert.Contains(t, imputed, "hba1c")
}

func TestBandMonotonicity(t *testing.T) {
	c := NewThresholdClassifier(testLogger())
	// Diagnostic fields held below threshold.
	snapshot := domain.NewClinicalSnapshot(map[string]float64{"hba1c": 5.2})

	previousTier := -1
	for score := 0.0; score <= 1.0; score += 0.01 {
		verdict, _, err := c.Classify(snapshot, domain.DIABETES, score, domain.LIVE_MODEL)
		require.NoError(t, err)

		tier := verdict.SeverityLabel.Tier()
		assert.GreaterOrEqual(t, tier, previousTier,
			"increasing score %.2f must not decrease tier", score)
		previousTier = tier
	}
}

func TestBandCutoffsArePerDisease(t *testing.T) {
	c := NewThresholdClassifier(testLogger())
	snapshot := domain.NewClinicalSnapshot(map[string]float64{})

	// 0.42 clears stroke's elevated cutoff (0.40) but not diabetes' (0.60).
	stroke, _, err := c.Classify(snapshot, domain.STROKE, 0.42, domain.LIVE_MODEL)
	require.NoError(t, err)
	assert.Equal(t, domain.ELEVATED_RISK, stroke.SeverityLabel)

	diabetes, _, err := c.Classify(snapshot, domain.DIABETES, 0.42, domain.LIVE_MODEL)
	require.NoError(t, err)
	assert.Equal(t, domain.MODERATE_RISK, diabetes.SeverityLabel)
}

func TestKidneyDiseaseThresholds(t *testing.T) {
	c := NewThresholdClassifier(testLogger())

	diagnosed, _, err := c.Classify(domain.NewClinicalSnapshot(map[string]float64{"egfr": 45}), domain.KIDNEY_DISEASE, 0.1, domain.LIVE_MODEL)
	require.NoError(t, err)
	assert.Equal(t, domain.DIAGNOSED, diagnosed.ClinicalStatus)
	assert.Contains(t, diagnosed.DiagnosticNote, "eGFR 45")

	borderline, _, err := c.Classify(domain.NewClinicalSnapshot(map[string]float64{"egfr": 75}), domain.KIDNEY_DISEASE, 0.1, domain.LIVE_MODEL)
	require.NoError(t, err)
	assert.Equal(t, domain.BORDERLINE, borderline.ClinicalStatus)

	normal, _, err := c.Classify(domain.NewClinicalSnapshot(map[string]float64{"egfr": 100}), domain.KIDNEY_DISEASE, 0.1, domain.LIVE_MODEL)
	require.NoError(t, err)
	assert.Equal(t, domain.NOT_DIAGNOSED, normal.ClinicalStatus)
}

func TestTopFactorsCarryObservedValues(t *testing.T) {
	c := NewThresholdClassifier(testLogger())
	snapshot := domain.NewClinicalSnapshot(map[string]float64{"hba1c": 6.0, "bmi": 31})

	verdict, _, err := c.Classify(snapshot, domain.DIABETES, 0.3, domain.LIVE_MODEL)
	require.NoError(t, err)
	require.NotEmpty(t, verdict.TopFactors)
	assert.LessOrEqual(t, len(verdict.TopFactors), 3)

	// Highest-weighted factor first.
	assert.Equal(t, "hba1c", verdict.TopFactors[0].Feature)
	assert.Equal(t, 6.0, verdict.TopFactors[0].Value)
	assert.True(t, verdict.TopFactors[0].Provided)

	for i := 1; i < len(verdict.TopFactors); i++ {
		assert.GreaterOrEqual(t, verdict.TopFactors[i-1].Importance, verdict.TopFactors[i].Importance)
	}
}

func TestExpectedFieldsUnion(t *testing.T) {
	c := NewThresholdClassifier(testLogger())
	fields := c.ExpectedFields()

	assert.Contains(t, fields, "hba1c")
	assert.Contains(t, fields, "bp_systolic")
	assert.Contains(t, fields, "egfr")
	assert.Contains(t, fields, "ldl")
	assert.IsIncreasing(t, fields)
}
