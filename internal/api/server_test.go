package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/encounter-risk-server/internal/domain"
	"github.com/encounter-risk-server/internal/encounter"
	"github.com/encounter-risk-server/internal/service"
)

type stubConfigManager struct {
	config *domain.Config
}

func (s *stubConfigManager) GetConfig() *domain.Config                     { return s.config }
func (s *stubConfigManager) GetServerConfig() *domain.ServerConfig         { return &s.config.Server }
func (s *stubConfigManager) GetDatabaseConfig() *domain.DatabaseConfig     { return &s.config.Database }
func (s *stubConfigManager) GetPredictionConfig() *domain.PredictionConfig { return &s.config.Prediction }
func (s *stubConfigManager) Validate() error                               { return nil }

type stubPrediction struct {
	err error
}

func (s *stubPrediction) Predict(ctx context.Context, snapshot domain.ClinicalSnapshot) (*domain.PredictionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	scores := make(map[domain.Disease]float64)
	for _, disease := range domain.AllDiseases() {
		scores[disease] = 0.1
	}
	return &domain.PredictionResponse{
		Scores:       scores,
		ModelVersion: "v2.1",
		GeneratedAt:  time.Now(),
	}, nil
}

type memoryRepository struct {
	results map[uuid.UUID]*domain.AnalysisResult
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{results: make(map[uuid.UUID]*domain.AnalysisResult)}
}

func (r *memoryRepository) CreateEncounter(ctx context.Context, patientID string) (*domain.Encounter, error) {
	return &domain.Encounter{
		ID:        uuid.New(),
		PatientID: patientID,
		State:     domain.ENCOUNTER_DRAFT,
		CreatedAt: time.Now(),
	}, nil
}

func (r *memoryRepository) CompleteEncounter(ctx context.Context, encounterID uuid.UUID) error {
	return nil
}

func (r *memoryRepository) SaveFinalizedResult(ctx context.Context, encounterID uuid.UUID, patientID string, result *domain.AnalysisResult) error {
	r.results[encounterID] = result
	return nil
}

func (r *memoryRepository) GetFinalizedResult(ctx context.Context, encounterID uuid.UUID) (*domain.AnalysisResult, error) {
	result, ok := r.results[encounterID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return result, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	analysis, err := service.NewAnalysisService(logger, &stubPrediction{}, 16)
	require.NoError(t, err)

	manager := encounter.NewManager(logger, newMemoryRepository(), nil)

	configManager := &stubConfigManager{config: &domain.Config{
		Server: domain.ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
		Logging: domain.LoggingConfig{Level: "error"},
	}}

	return NewServer(configManager, logger, analysis, manager, nil, nil)
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func analyzeBody() map[string]interface{} {
	return map[string]interface{}{
		"clinical_data": map[string]float64{
			"age":   55,
			"bmi":   28.5,
			"hba1c": 6.8,
		},
	}
}

func TestServer_Health(t *testing.T) {
	server := newTestServer(t)

	recorder := doRequest(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_Analyze(t *testing.T) {
	server := newTestServer(t)

	recorder := doRequest(t, server, http.MethodPost, "/api/v1/patients/patient-1/analysis", analyzeBody())
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Analysis  domain.AnalysisResult `json:"analysis"`
		Encounter encounter.Status      `json:"encounter"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))

	assert.Len(t, body.Analysis.Verdicts, len(domain.AllDiseases()))
	assert.Equal(t, domain.LIVE_MODEL, body.Analysis.Source)
	assert.Equal(t, domain.ENCOUNTER_DRAFT, body.Encounter.State)
	assert.True(t, body.Encounter.CanFinalize)

	// HbA1c 6.8 crosses the diagnostic threshold regardless of score.
	diabetes, ok := body.Analysis.Verdict(domain.DIABETES)
	require.True(t, ok)
	assert.Equal(t, domain.DIAGNOSED, diabetes.ClinicalStatus)
}

func TestServer_Analyze_InvalidBody(t *testing.T) {
	server := newTestServer(t)

	recorder := doRequest(t, server, http.MethodPost, "/api/v1/patients/patient-1/analysis",
		map[string]interface{}{"clinical_data": map[string]float64{}})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &apiErr))
	assert.Equal(t, domain.ErrCodeInvalidInput, apiErr.Code)
}

func TestServer_EncounterStatus(t *testing.T) {
	server := newTestServer(t)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/patients/patient-1/encounter", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var status encounter.Status
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &status))
	assert.Equal(t, domain.ENCOUNTER_NONE, status.State)
	assert.False(t, status.CanFinalize)
}

func TestServer_FinalizeFlow(t *testing.T) {
	server := newTestServer(t)

	// Finalize with nothing staged is rejected.
	recorder := doRequest(t, server, http.MethodPost, "/api/v1/patients/patient-1/encounter/finalize", nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)

	recorder = doRequest(t, server, http.MethodPost, "/api/v1/patients/patient-1/analysis", analyzeBody())
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = doRequest(t, server, http.MethodPost, "/api/v1/patients/patient-1/encounter/finalize",
		map[string]string{"actor": "dr.yang"})
	require.Equal(t, http.StatusOK, recorder.Code)

	var status encounter.Status
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &status))
	assert.Equal(t, domain.ENCOUNTER_FINALIZED, status.State)

	// A repeat finalize without new work conflicts.
	recorder = doRequest(t, server, http.MethodPost, "/api/v1/patients/patient-1/encounter/finalize", nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestServer_PatientView(t *testing.T) {
	server := newTestServer(t)

	// Nothing finalized yet.
	recorder := doRequest(t, server, http.MethodGet, "/api/v1/patients/patient-1/patient-view", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = doRequest(t, server, http.MethodPost, "/api/v1/patients/patient-1/analysis", analyzeBody())
	require.Equal(t, http.StatusOK, recorder.Code)

	// Drafts stay invisible to the patient until finalize.
	recorder = doRequest(t, server, http.MethodGet, "/api/v1/patients/patient-1/patient-view", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = doRequest(t, server, http.MethodPost, "/api/v1/patients/patient-1/encounter/finalize", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = doRequest(t, server, http.MethodGet, "/api/v1/patients/patient-1/patient-view", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Verdicts      []domain.PatientSafeVerdict `json:"verdicts"`
		Authoritative bool                        `json:"authoritative"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Len(t, body.Verdicts, len(domain.AllDiseases()))
	assert.True(t, body.Authoritative)

	for _, v := range body.Verdicts {
		if v.ShowPercent {
			assert.Zero(t, int(v.DisplayPercent)%5, "displayed percent must be a multiple of five")
		}
	}
}

func TestServer_FinalizeHistory_Disabled(t *testing.T) {
	server := newTestServer(t)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/patients/patient-1/finalize-history", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
