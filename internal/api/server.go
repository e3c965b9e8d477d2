// Package api exposes the HTTP surface: clinician analysis and finalize
// endpoints plus the patient-safe results view.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/encounter-risk-server/internal/audit"
	"github.com/encounter-risk-server/internal/domain"
	"github.com/encounter-risk-server/internal/encounter"
	"github.com/encounter-risk-server/internal/middleware"
	"github.com/encounter-risk-server/internal/service"
)

// HealthChecker reports the health of a collaborator for readiness probes.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	logger        *logrus.Logger
	analysis      *service.AnalysisService
	encounters    *encounter.Manager
	auditStore    audit.Store
	checks        map[string]HealthChecker
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance. The audit store and the
// health checks map are optional.
func NewServer(
	configManager domain.ConfigManager,
	logger *logrus.Logger,
	analysis *service.AnalysisService,
	encounters *encounter.Manager,
	auditStore audit.Store,
	checks map[string]HealthChecker,
) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())

	server := &Server{
		configManager: configManager,
		logger:        logger,
		analysis:      analysis,
		encounters:    encounters,
		auditStore:    auditStore,
		checks:        checks,
		router:        router,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.WithField("addr", addr).Info("HTTP server started")

	select {
	case err := <-errCh:
		return fmt.Errorf("starting server: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		patients := v1.Group("/patients/:patientID")
		{
			patients.POST("/analysis", s.handleAnalyze)
			patients.GET("/encounter", s.handleEncounterStatus)
			patients.POST("/encounter/finalize", s.handleFinalize)
			patients.GET("/patient-view", s.handlePatientView)
			patients.GET("/finalize-history", s.handleFinalizeHistory)
		}
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.Health(ctx); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			components[name] = "healthy"
		}
	}

	healthy := "healthy"
	if status != http.StatusOK {
		healthy = "degraded"
	}

	c.JSON(status, gin.H{
		"status":     healthy,
		"components": components,
		"timestamp":  time.Now(),
	})
}

// analyzeRequest carries the clinical snapshot for an analysis run.
type analyzeRequest struct {
	ClinicalData map[string]float64 `json:"clinical_data" binding:"required"`
}

// handleAnalyze runs a risk analysis on the submitted snapshot and stages
// it as the patient's current draft.
func (s *Server) handleAnalyze(c *gin.Context) {
	patientID := c.Param("patientID")

	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput,
			"clinical_data must be a non-empty object of numeric fields", err)
		return
	}
	if len(req.ClinicalData) == 0 {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput,
			"clinical_data must contain at least one field", nil)
		return
	}

	snapshot := domain.NewClinicalSnapshot(req.ClinicalData)

	result, err := s.analysis.Analyze(c.Request.Context(), snapshot)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer,
			"analysis failed", err)
		return
	}

	status, err := s.encounters.RecordAnalysis(c.Request.Context(), patientID, result)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeEncounter,
			"failed to record analysis", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analysis":  result,
		"encounter": status,
	})
}

// handleEncounterStatus returns the lifecycle status for a patient.
func (s *Server) handleEncounterStatus(c *gin.Context) {
	status := s.encounters.State(c.Param("patientID"))
	c.JSON(http.StatusOK, status)
}

// finalizeRequest identifies the clinician performing the finalize.
type finalizeRequest struct {
	Actor string `json:"actor"`
}

// handleFinalize durably releases the current draft to the patient.
func (s *Server) handleFinalize(c *gin.Context) {
	patientID := c.Param("patientID")

	// An empty or missing body is acceptable; the actor is then
	// unattributed.
	var req finalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req.Actor = ""
	}

	status, err := s.encounters.Finalize(c.Request.Context(), patientID, req.Actor)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyFinalized):
			s.respondError(c, http.StatusConflict, domain.ErrCodeFinalize,
				"encounter is already finalized", err)
		case errors.Is(err, domain.ErrNoDraft):
			s.respondError(c, http.StatusConflict, domain.ErrCodeFinalize,
				"no draft analysis to finalize", err)
		case errors.Is(err, domain.ErrEncounterUnavailable):
			s.respondError(c, http.StatusServiceUnavailable, domain.ErrCodeEncounter,
				"no encounter identifier; finalize is disabled", err)
		default:
			s.respondError(c, http.StatusInternalServerError, domain.ErrCodeFinalize,
				"finalize failed; the draft is retained and can be retried", err)
		}
		return
	}

	c.JSON(http.StatusOK, status)
}

// handlePatientView returns the patient-safe rendering of the finalized
// analysis. Draft results are never exposed on this route.
func (s *Server) handlePatientView(c *gin.Context) {
	patientID := c.Param("patientID")

	result, err := s.encounters.PatientResult(c.Request.Context(), patientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFinalized) {
			s.respondError(c, http.StatusNotFound, domain.ErrCodeNotFinalized,
				"no finalized results are available for this patient", err)
			return
		}
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeDatabase,
			"failed to load finalized results", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"patient_id":    patientID,
		"verdicts":      service.PatientViews(result),
		"authoritative": result.Authoritative(),
		"generated_at":  result.GeneratedAt,
	})
}

// handleFinalizeHistory returns the finalize audit trail for a patient.
func (s *Server) handleFinalizeHistory(c *gin.Context) {
	if s.auditStore == nil {
		s.respondError(c, http.StatusNotFound, domain.ErrCodeEncounter,
			"audit trail is not enabled", nil)
		return
	}

	records, err := s.auditStore.ListByPatient(c.Request.Context(), c.Param("patientID"), 50)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeDatabase,
			"failed to load finalize history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records})
}

// respondError writes a structured API error and logs the cause.
func (s *Server) respondError(c *gin.Context, status int, code, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	apiErr := domain.NewAPIError(code, message, details, c.GetString("correlation_id"))

	entry := s.logger.WithFields(logrus.Fields{
		"status":     status,
		"code":       code,
		"path":       c.FullPath(),
		"request_id": apiErr.RequestID,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn(message)

	c.JSON(status, apiErr)
}
