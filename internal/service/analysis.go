package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/encounter-risk-server/internal/domain"
)

// AnalysisService runs one full analysis: obtain raw risk scores (live
// model, or the deterministic simulator when the live call fails), then
// classify every disease and assemble the run-level result.
type AnalysisService struct {
	logger     *logrus.Logger
	prediction domain.PredictionService
	simulator  *RiskSimulator
	classifier *ThresholdClassifier
	memo       *lru.Cache[string, *domain.AnalysisResult]
}

// NewAnalysisService creates a new analysis service. memoSize bounds the
// in-process cache of recent live-model analyses; zero disables it.
func NewAnalysisService(logger *logrus.Logger, prediction domain.PredictionService, memoSize int) (*AnalysisService, error) {
	svc := &AnalysisService{
		logger:     logger,
		prediction: prediction,
		simulator:  NewRiskSimulator(logger),
		classifier: NewThresholdClassifier(logger),
	}

	if memoSize > 0 {
		memo, err := lru.New[string, *domain.AnalysisResult](memoSize)
		if err != nil {
			return nil, fmt.Errorf("creating analysis memo cache: %w", err)
		}
		svc.memo = memo
	}

	return svc, nil
}

// Analyze produces a fresh AnalysisResult for the snapshot. It never fails
// on prediction-service problems: a transient live-model failure switches
// to the simulator and marks the result non-authoritative.
func (a *AnalysisService) Analyze(ctx context.Context, snapshot domain.ClinicalSnapshot) (*domain.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores, source, modelVersion := a.obtainScores(ctx, snapshot)

	if source == domain.LIVE_MODEL && a.memo != nil {
		key := memoKey(snapshot, modelVersion)
		if cached, ok := a.memo.Get(key); ok {
			a.logger.WithField("snapshot_hash", snapshot.HashKey()).Debug("Analysis served from memo cache")
			result := cached.Clone()
			result.GeneratedAt = time.Now().UTC()
			return result, nil
		}
	}

	result, err := a.classifyAll(snapshot, scores, source)
	if err != nil {
		return nil, err
	}
	result.ModelVersion = modelVersion

	if source == domain.LIVE_MODEL && a.memo != nil {
		a.memo.Add(memoKey(snapshot, modelVersion), result.Clone())
	}

	a.logger.WithFields(logrus.Fields{
		"snapshot_hash": result.SnapshotHash,
		"source":        result.Source,
		"diagnosed":     result.Summary.DiagnosedCount,
		"borderline":    result.Summary.BorderlineCount,
		"imputed":       len(result.DataQuality.ImputedFields),
	}).Info("Analysis completed")

	return result, nil
}

// obtainScores tries the live prediction service and falls back to the
// deterministic simulator on any failure. The simulator is never invoked
// when a live result is available.
func (a *AnalysisService) obtainScores(ctx context.Context, snapshot domain.ClinicalSnapshot) (map[domain.Disease]float64, domain.ScoreSource, string) {
	resp, err := a.prediction.Predict(ctx, snapshot)
	if err == nil {
		if verr := resp.Validate(); verr == nil {
			return resp.Scores, domain.LIVE_MODEL, resp.ModelVersion
		} else {
			err = verr
		}
	}

	a.logger.WithError(err).WithField("snapshot_hash", snapshot.HashKey()).
		Warn("Live prediction unavailable, using deterministic simulator")

	return a.simulator.Scores(snapshot), domain.SIMULATED, ""
}

// classifyAll runs the threshold classifier for every disease and builds
// the run-level summary and data-quality descriptor.
func (a *AnalysisService) classifyAll(snapshot domain.ClinicalSnapshot, scores map[domain.Disease]float64, source domain.ScoreSource) (*domain.AnalysisResult, error) {
	diseases := domain.AllDiseases()
	result := &domain.AnalysisResult{
		ID:           uuid.New(),
		SnapshotHash: snapshot.HashKey(),
		Verdicts:     make([]domain.DiseaseVerdict, 0, len(diseases)),
		Source:       source,
		GeneratedAt:  time.Now().UTC(),
	}

	imputedSet := make(map[string]struct{})
	for _, disease := range diseases {
		verdict, imputed, err := a.classifier.Classify(snapshot, disease, scores[disease], source)
		if err != nil {
			return nil, fmt.Errorf("analyzing %s: %w", disease, err)
		}
		result.Verdicts = append(result.Verdicts, verdict)
		for _, f := range imputed {
			imputedSet[f] = struct{}{}
		}

		switch verdict.SeverityLabel {
		case domain.LABEL_DIAGNOSED:
			result.Summary.DiagnosedCount++
		case domain.LABEL_BORDERLINE:
			result.Summary.BorderlineCount++
		case domain.ELEVATED_RISK:
			result.Summary.ElevatedCount++
		case domain.MODERATE_RISK:
			result.Summary.ModerateCount++
		default:
			result.Summary.LowCount++
		}
	}

	expected := a.classifier.ExpectedFields()
	provided := 0
	for _, f := range expected {
		if snapshot.Has(f) {
			provided++
		}
	}
	result.DataQuality = domain.DataQuality{
		ExpectedFields: len(expected),
		ProvidedFields: provided,
		ImputedFields:  sortedKeys(imputedSet),
	}
	if len(expected) > 0 {
		result.DataQuality.ProvidedFraction = float64(provided) / float64(len(expected))
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

func memoKey(snapshot domain.ClinicalSnapshot, modelVersion string) string {
	return snapshot.HashKey() + ":" + modelVersion
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	// Sorted so the descriptor is stable across runs.
	sort.Strings(keys)
	return keys
}
