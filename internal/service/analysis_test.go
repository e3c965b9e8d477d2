package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/encounter-risk-server/internal/domain"
)

// stubPrediction is a PredictionService test double.
type stubPrediction struct {
	resp  *domain.PredictionResponse
	err   error
	calls int
}

func (s *stubPrediction) Predict(ctx context.Context, snapshot domain.ClinicalSnapshot) (*domain.PredictionResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func livePrediction() *domain.PredictionResponse {
	return &domain.PredictionResponse{
		Scores: map[domain.Disease]float64{
			domain.DIABETES:       0.65,
			domain.HYPERTENSION:   0.30,
			domain.HEART_DISEASE:  0.20,
			domain.STROKE:         0.12,
			domain.KIDNEY_DISEASE: 0.08,
		},
		ModelVersion: "mdl-2.4.1",
		GeneratedAt:  time.Now().UTC(),
	}
}

func TestAnalyzeUsesLiveModel(t *testing.T) {
	stub := &stubPrediction{resp: livePrediction()}
	svc, err := NewAnalysisService(testLogger(), stub, 0)
	require.NoError(t, err)

	snapshot := domain.NewClinicalSnapshot(map[string]float64{"hba1c": 5.2, "bp_systolic": 118, "bp_diastolic": 76})
	result, err := svc.Analyze(context.Background(), snapshot)
	require.NoError(t, err)

	assert.Equal(t, domain.LIVE_MODEL, result.Source)
	assert.True(t, result.Authoritative())
	assert.Equal(t, "mdl-2.4.1", result.ModelVersion)
	assert.Len(t, result.Verdicts, len(domain.AllDiseases()))

	diabetes, ok := result.Verdict(domain.DIABETES)
	require.True(t, ok)
	assert.Equal(t, 0.65, diabetes.RawScore)
	assert.Equal(t, domain.ELEVATED_RISK, diabetes.SeverityLabel)
}

func TestAnalyzeFallsBackToSimulator(t *testing.T) {
	stub := &stubPrediction{err: errors.New("connection refused")}
	svc, err := NewAnalysisService(testLogger(), stub, 0)
	require.NoError(t, err)

	snapshot := domain.NewClinicalSnapshot(map[string]float64{
		"hba1c": 6.8, "bp_systolic": 138, "bp_diastolic": 88, "bmi": 28.5, "age": 55,
	})

	result, err := svc.Analyze(context.Background(), snapshot)
	require.NoError(t, err, "prediction failure must not fail the analysis")

	assert.Equal(t, domain.SIMULATED, result.Source)
	assert.False(t, result.Authoritative())

	// Hard diagnostic rules still fire on simulated scores.
	diabetes, ok := result.Verdict(domain.DIABETES)
	require.True(t, ok)
	assert.Equal(t, domain.DIAGNOSED, diabetes.ClinicalStatus)
	assert.Contains(t, diabetes.DiagnosticNote, "HbA1c 6.8%")

	hypertension, ok := result.Verdict(domain.HYPERTENSION)
	require.True(t, ok)
	assert.Equal(t, domain.BORDERLINE, hypertension.ClinicalStatus)
}

func TestFallbackIsReproducible(t *testing.T) {
	stub := &stubPrediction{err: errors.New("service unavailable")}
	svc, err := NewAnalysisService(testLogger(), stub, 0)
	require.NoError(t, err)

	snapshot := domain.NewClinicalSnapshot(map[string]float64{
		"hba1c": 6.8, "bp_systolic": 138, "bp_diastolic": 88, "bmi": 28.5, "age": 55,
	})

	first, err := svc.Analyze(context.Background(), snapshot)
	require.NoError(t, err)

	// Re-running analysis on the same snapshot before finalize must
	// reproduce identical percentages for every disease.
	for i := 0; i < 5; i++ {
		again, err := svc.Analyze(context.Background(), snapshot)
		require.NoError(t, err)
		for j, verdict := range first.Verdicts {
			assert.Equal(t, verdict.RawScore, again.Verdicts[j].RawScore)
			assert.Equal(t, verdict.RiskPercent, again.Verdicts[j].RiskPercent)
			assert.Equal(t, verdict.SeverityLabel, again.Verdicts[j].SeverityLabel)
		}
	}
}

func TestAnalyzeRejectsInvalidPrediction(t *testing.T) {
	// A response missing a disease is treated as a failed live call.
	stub := &stubPrediction{resp: &domain.PredictionResponse{
		Scores:       map[domain.Disease]float64{domain.DIABETES: 0.5},
		ModelVersion: "mdl-2.4.1",
	}}
	svc, err := NewAnalysisService(testLogger(), stub, 0)
	require.NoError(t, err)

	result, err := svc.Analyze(context.Background(), domain.NewClinicalSnapshot(map[string]float64{"age": 50}))
	require.NoError(t, err)
	assert.Equal(t, domain.SIMULATED, result.Source)
}

func TestAnalyzeMemoizesLiveResults(t *testing.T) {
	stub := &stubPrediction{resp: livePrediction()}
	svc, err := NewAnalysisService(testLogger(), stub, 8)
	require.NoError(t, err)

	snapshot := domain.NewClinicalSnapshot(map[string]float64{"age": 44, "bmi": 27})

	first, err := svc.Analyze(context.Background(), snapshot)
	require.NoError(t, err)
	second, err := svc.Analyze(context.Background(), snapshot)
	require.NoError(t, err)

	assert.Equal(t, first.Verdicts, second.Verdicts)
	// The memoized copy must be independent of the first result.
	first.Verdicts[0].RiskPercent = 99
	third, err := svc.Analyze(context.Background(), snapshot)
	require.NoError(t, err)
	assert.NotEqual(t, 99.0, third.Verdicts[0].RiskPercent)
}

func TestDataQualityRecordsImputedFields(t *testing.T) {
	stub := &stubPrediction{resp: livePrediction()}
	svc, err := NewAnalysisService(testLogger(), stub, 0)
	require.NoError(t, err)

	snapshot := domain.NewClinicalSnapshot(map[string]float64{"hba1c": 5.0, "age": 50})
	result, err := svc.Analyze(context.Background(), snapshot)
	require.NoError(t, err)

	assert.Contains(t, result.DataQuality.ImputedFields, "bp_systolic")
	assert.Contains(t, result.DataQuality.ImputedFields, "egfr")
	assert.NotContains(t, result.DataQuality.ImputedFields, "hba1c")
	assert.Equal(t, 2, result.DataQuality.ProvidedFields)
	assert.Greater(t, result.DataQuality.ProvidedFraction, 0.0)
	assert.Less(t, result.DataQuality.ProvidedFraction, 1.0)
}
