package service

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/encounter-risk-server/internal/domain"
)

// Simulator output range. Bounded so a fallback score alone can never
// look like a screaming-red prediction.
const (
	simulatedScoreFloor = 0.02
	simulatedScoreSpan  = 0.40
)

// diseaseIndexStride spreads disease indices across the sine period so
// adjacent diseases do not produce correlated scores.
const diseaseIndexStride = 101.9

// RiskSimulator produces deterministic per-disease risk scores from a
// clinical snapshot. It is purely an availability fallback for when the
// live prediction service is unreachable: same snapshot in, same scores
// out, on every runtime. It is not a clinical model and every surface
// showing its output must mark it non-authoritative.
type RiskSimulator struct {
	logger *logrus.Logger
}

// NewRiskSimulator creates a new deterministic risk simulator
func NewRiskSimulator(logger *logrus.Logger) *RiskSimulator {
	return &RiskSimulator{logger: logger}
}

// Scores returns a raw risk score in [0.02, 0.42] for every supported
// disease. It cannot fail; it is the fallback for failure.
func (s *RiskSimulator) Scores(snapshot domain.ClinicalSnapshot) map[domain.Disease]float64 {
	hash := snapshot.Hash()
	diseases := domain.AllDiseases()

	scores := make(map[domain.Disease]float64, len(diseases))
	for i, disease := range diseases {
		scores[disease] = simulatedScoreFloor + seededFraction(hash, i)*simulatedScoreSpan
	}

	s.logger.WithFields(logrus.Fields{
		"snapshot_hash": snapshot.HashKey(),
		"disease_count": len(scores),
	}).Info("Generated simulated risk scores")

	return scores
}

// Score returns the deterministic score for a single disease.
func (s *RiskSimulator) Score(snapshot domain.ClinicalSnapshot, disease domain.Disease) float64 {
	for i, d := range domain.AllDiseases() {
		if d == disease {
			return simulatedScoreFloor + seededFraction(snapshot.Hash(), i)*simulatedScoreSpan
		}
	}
	return simulatedScoreFloor
}

// seededFraction maps (hash, disease index) to a value in [0, 1) using only
// basic arithmetic over IEEE-754 doubles, so reimplementations in other
// languages reproduce it exactly. No platform RNG is involved.
func seededFraction(hash uint32, index int) float64 {
	n := float64(hash) + float64(index)*diseaseIndexStride
	v := math.Sin(n) * 43758.5453123
	return v - math.Floor(v)
}
