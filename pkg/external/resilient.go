package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/encounter-risk-server/internal/domain"
)

// ResilientPredictionService wraps the prediction client with a circuit
// breaker and Redis caching. It implements domain.PredictionService; on
// any error the caller falls back to the deterministic simulator.
type ResilientPredictionService struct {
	client  *PredictionClient
	cache   *CacheClient
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Logger
}

// NewResilientPredictionService creates a prediction service with circuit
// breaker protection. The cache is optional; when nil, every call goes to
// the live service.
func NewResilientPredictionService(
	predictionConfig domain.PredictionConfig,
	cache *CacheClient,
	logger *logrus.Logger,
) *ResilientPredictionService {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "PredictionService",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &ResilientPredictionService{
		client:  NewPredictionClient(predictionConfig),
		cache:   cache,
		breaker: breaker,
		log:     logger,
	}
}

// Predict returns risk scores for a snapshot, cache first. When the
// breaker is open a still-valid cached entry is served; otherwise the
// error propagates and the caller decides what to do.
func (r *ResilientPredictionService) Predict(ctx context.Context, snapshot domain.ClinicalSnapshot) (*domain.PredictionResponse, error) {
	if cached, found := r.cachedPrediction(ctx, snapshot); found {
		return cached, nil
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.Predict(ctx, snapshot)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			if cached, found := r.cachedPrediction(ctx, snapshot); found {
				return cached, nil
			}
			return nil, fmt.Errorf("%w: circuit breaker open", domain.ErrPredictionFailed)
		}
		return nil, err
	}

	response := result.(*domain.PredictionResponse)

	if r.cache != nil {
		if cacheErr := r.cache.SetPrediction(ctx, snapshot, response, 0); cacheErr != nil {
			// Cache failures never fail the request.
			r.log.WithError(cacheErr).WithField("snapshot_hash", snapshot.HashKey()).
				Warn("Failed to cache prediction")
		}
	}

	return response, nil
}

// cachedPrediction is a best-effort cache lookup.
func (r *ResilientPredictionService) cachedPrediction(ctx context.Context, snapshot domain.ClinicalSnapshot) (*domain.PredictionResponse, bool) {
	if r.cache == nil {
		return nil, false
	}
	cached, found, err := r.cache.GetPrediction(ctx, snapshot)
	if err != nil {
		r.log.WithError(err).WithField("snapshot_hash", snapshot.HashKey()).
			Warn("Prediction cache lookup failed")
		return nil, false
	}
	return cached, found
}

// Health reports breaker and upstream health for readiness probes.
func (r *ResilientPredictionService) Health(ctx context.Context) error {
	if r.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("prediction circuit breaker is open")
	}
	return r.client.Health(ctx)
}

// BreakerCounts returns circuit breaker statistics.
func (r *ResilientPredictionService) BreakerCounts() gobreaker.Counts {
	return r.breaker.Counts()
}

// BreakerState returns the current circuit breaker state.
func (r *ResilientPredictionService) BreakerState() gobreaker.State {
	return r.breaker.State()
}

// Close releases the cache connection if one is held.
func (r *ResilientPredictionService) Close() error {
	if r.cache != nil {
		return r.cache.Close()
	}
	return nil
}
