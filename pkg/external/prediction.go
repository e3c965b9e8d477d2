// Package external contains clients for collaborating services: the live
// multi-disease prediction model and the Redis prediction cache.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/encounter-risk-server/internal/domain"
)

// PredictionClient handles interactions with the live multi-disease
// prediction service.
type PredictionClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
}

// NewPredictionClient creates a new prediction service client.
func NewPredictionClient(config domain.PredictionConfig) *PredictionClient {
	rps := config.RateLimit
	if rps <= 0 {
		rps = 10
	}
	return &PredictionClient{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		retryCount: config.RetryCount,
		retryDelay: config.RetryDelay,
	}
}

// predictionRequest is the wire shape sent to the prediction service.
type predictionRequest struct {
	Features map[string]float64 `json:"features"`
}

// Predict requests risk scores for all diseases in one call. Transient
// failures are retried with exponential backoff; a non-retryable status
// fails immediately.
func (c *PredictionClient) Predict(ctx context.Context, snapshot domain.ClinicalSnapshot) (*domain.PredictionResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	body, err := json.Marshal(predictionRequest{Features: snapshot.Values()})
	if err != nil {
		return nil, fmt.Errorf("encoding prediction request: %w", err)
	}

	var lastErr error
	delay := c.retryDelay
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		response, retryable, err := c.doPredict(ctx, body)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	return nil, fmt.Errorf("%w: %v", domain.ErrPredictionFailed, lastErr)
}

// doPredict performs a single prediction request. The second return value
// reports whether the failure is worth retrying.
func (c *PredictionClient) doPredict(ctx context.Context, body []byte) (*domain.PredictionResponse, bool, error) {
	url := fmt.Sprintf("%s/predict/multi-disease", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("creating prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("calling prediction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Server-side failures and throttling are transient.
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("prediction service returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading prediction response: %w", err)
	}

	var response domain.PredictionResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, false, fmt.Errorf("decoding prediction response: %w", err)
	}
	if response.GeneratedAt.IsZero() {
		response.GeneratedAt = time.Now()
	}
	if err := response.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid prediction response: %w", err)
	}

	return &response, false, nil
}

// Health probes the prediction service health endpoint.
func (c *PredictionClient) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling prediction service health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("prediction service health returned status %d", resp.StatusCode)
	}
	return nil
}
