// Package httpapi implements the HTTP API gateway for Themis.
//
// Security:
//   - API key authentication on every request (constant-time comparison)
//   - Per-caller, per-route rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkaninda/okapi"

	"github.com/themislabs/themis/internal/matter"
	"github.com/themislabs/themis/internal/orchestrator"
	"github.com/themislabs/themis/internal/ratelimit"
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr string // e.g., ":8080"
	EnableDocs bool
	APIKeys    map[string]string // API key -> caller ID mapping. Empty = auth disabled.

	// Per-route request budgets, in requests/minute.
	PlanPerMinute    int
	ExecutePerMinute int
	ReadPerMinute    int

	// Observability
	MetricsRegistry *prometheus.Registry // Custom Prometheus registry for /metrics.
	MetricsPath     string               // Path for metrics endpoint. Default: "/metrics".
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	service *orchestrator.Service
	logger  *slog.Logger
	server  *http.Server

	planLimiter    *ratelimit.Limiter
	executeLimiter *ratelimit.Limiter
	readLimiter    *ratelimit.Limiter

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, service *orchestrator.Service, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:         cfg,
		service:        service,
		logger:         logger,
		planLimiter:    ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.PlanPerMinute}),
		executeLimiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.ExecutePerMinute}),
		readLimiter:    ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.ReadPerMinute}),
		okapi:          okapi.New(),
	}
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Themis",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/plan", g.handlePlan,
		okapi.DocSummary("Build a workflow plan for a matter"),
		okapi.DocTags("Plans"),
		okapi.DocRequestBody(PlanRequest{}),
		okapi.DocResponse(http.StatusCreated, PlanResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusUnprocessableEntity, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/execute", g.handleExecute,
		okapi.DocSummary("Execute a stored plan"),
		okapi.DocTags("Plans"),
		okapi.DocRequestBody(ExecuteRequest{}),
		okapi.DocResponse(ExecutionResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Get("/plans/{id}", g.handleGetPlan,
		okapi.DocSummary("Get a plan by ID"),
		okapi.DocTags("Plans"),
		okapi.DocPathParam("id", "string", "Plan ID (UUID)"),
		okapi.DocResponse(PlanResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/plans/{id}/artifacts", g.handleGetArtifacts,
		okapi.DocSummary("Get the artifacts produced by a plan's execution"),
		okapi.DocTags("Plans"),
		okapi.DocPathParam("id", "string", "Plan ID (UUID)"),
		okapi.DocResponse(ArtifactsResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/plans/{id}/execution", g.handleGetExecution,
		okapi.DocSummary("Get the execution record for a plan"),
		okapi.DocTags("Plans"),
		okapi.DocPathParam("id", "string", "Plan ID (UUID)"),
		okapi.DocResponse(ExecutionResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// PlanRequest is the JSON body for POST /v1/plan.
type PlanRequest struct {
	Matter map[string]any `json:"matter"`
}

// PlanResponse is the JSON shape of a plan.
type PlanResponse struct {
	ID        string                  `json:"id"`
	Status    string                  `json:"status"`
	Nodes     []orchestrator.PlanNode `json:"nodes"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// ExecuteRequest is the JSON body for POST /v1/execute.
type ExecuteRequest struct {
	PlanID string         `json:"plan_id"`
	Matter map[string]any `json:"matter,omitempty"` // Optional overlay merged into the stored matter.
}

// ExecutionResponse is the JSON shape of an execution record.
type ExecutionResponse struct {
	PlanID      string                       `json:"plan_id"`
	Status      string                       `json:"status"`
	Nodes       []orchestrator.NodeResult    `json:"nodes"`
	Attention   []orchestrator.AttentionFlag `json:"attention,omitempty"`
	Error       string                       `json:"error,omitempty"`
	StartedAt   time.Time                    `json:"started_at"`
	CompletedAt time.Time                    `json:"completed_at"`
}

// ArtifactsResponse is the JSON response for GET /v1/plans/{id}/artifacts.
type ArtifactsResponse struct {
	PlanID    string                    `json:"plan_id"`
	Artifacts map[string]map[string]any `json:"artifacts"`
}

func (g *Gateway) handlePlan(c *okapi.Context) error {
	callerID := c.GetString("callerID")
	if err := g.planLimiter.Allow(callerID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	var req PlanRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if len(req.Matter) == 0 {
		return c.AbortBadRequest("matter is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http plan",
		slog.String("caller_id", callerID),
		slog.String("correlation_id", correlationID),
	)

	plan, err := g.service.Plan(c.Context(), matter.Matter(req.Matter))
	if err != nil {
		var entryErr *orchestrator.UnsatisfiableEntrySignalError
		if errors.As(err, &entryErr) {
			return c.JSON(http.StatusUnprocessableEntity, okapi.M{"error": entryErr.Error()})
		}
		g.logger.Error("plan build failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("plan build failed")
	}

	return c.JSON(http.StatusCreated, planResponse(plan))
}

func (g *Gateway) handleExecute(c *okapi.Context) error {
	callerID := c.GetString("callerID")
	if err := g.executeLimiter.Allow(callerID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.PlanID == "" {
		return c.AbortBadRequest("plan_id is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http execute",
		slog.String("caller_id", callerID),
		slog.String("correlation_id", correlationID),
		slog.String("plan_id", req.PlanID),
	)

	var overlay matter.Matter
	if len(req.Matter) > 0 {
		overlay = matter.Matter(req.Matter)
	}

	rec, err := g.service.Execute(c.Context(), req.PlanID, overlay)
	if err != nil && rec == nil {
		return g.serviceError(c, correlationID, err)
	}

	// Execution failures are reported in the record body, not as HTTP errors.
	return c.OK(executionResponse(rec))
}

func (g *Gateway) handleGetPlan(c *okapi.Context) error {
	callerID := c.GetString("callerID")
	if err := g.readLimiter.Allow(callerID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	plan, err := g.service.GetPlan(c.Context(), c.Param("id"))
	if err != nil {
		return g.serviceError(c, "", err)
	}
	return c.OK(planResponse(plan))
}

func (g *Gateway) handleGetArtifacts(c *okapi.Context) error {
	callerID := c.GetString("callerID")
	if err := g.readLimiter.Allow(callerID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	id := c.Param("id")
	artifacts, err := g.service.GetArtifacts(c.Context(), id)
	if err != nil {
		return g.serviceError(c, "", err)
	}
	return c.OK(ArtifactsResponse{PlanID: id, Artifacts: artifacts})
}

func (g *Gateway) handleGetExecution(c *okapi.Context) error {
	callerID := c.GetString("callerID")
	if err := g.readLimiter.Allow(callerID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	id := c.Param("id")
	if _, err := g.service.GetPlan(c.Context(), id); err != nil {
		return g.serviceError(c, "", err)
	}
	rec, found, err := g.service.GetExecution(c.Context(), id)
	if err != nil {
		return g.serviceError(c, "", err)
	}
	if !found {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "plan has not been executed"})
	}
	return c.OK(executionResponse(rec))
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness reports readiness once the service is wired.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.service == nil {
		return c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: "unavailable"})
	}
	return c.OK(&HealthResponse{Status: "ok"})
}

// --- Middleware ---

func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		// No keys configured means open access (dev mode).
		if len(g.config.APIKeys) == 0 {
			c.Set("callerID", "anonymous")
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		callerID := ""
		for key, caller := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				callerID = caller
			}
		}
		if callerID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("callerID", callerID)
		return next(c)
	}
}

// --- Helpers ---

// serviceError maps orchestrator errors to HTTP responses.
func (g *Gateway) serviceError(c *okapi.Context, correlationID string, err error) error {
	var notFound *orchestrator.PlanNotFoundError
	if errors.As(err, &notFound) {
		return c.JSON(http.StatusNotFound, okapi.M{"error": notFound.Error()})
	}
	var entryErr *orchestrator.UnsatisfiableEntrySignalError
	if errors.As(err, &entryErr) {
		return c.JSON(http.StatusUnprocessableEntity, okapi.M{"error": entryErr.Error()})
	}
	g.logger.Error("request failed",
		slog.String("correlation_id", correlationID),
		slog.String("error", err.Error()),
	)
	return c.AbortInternalServerError("internal error")
}

func planResponse(plan *orchestrator.Plan) PlanResponse {
	return PlanResponse{
		ID:        plan.ID,
		Status:    string(plan.Status),
		Nodes:     plan.Nodes,
		CreatedAt: plan.CreatedAt,
		UpdatedAt: plan.UpdatedAt,
	}
}

func executionResponse(rec *orchestrator.ExecutionRecord) ExecutionResponse {
	return ExecutionResponse{
		PlanID:      rec.PlanID,
		Status:      string(rec.Status),
		Nodes:       rec.Nodes,
		Attention:   rec.Attention,
		Error:       rec.Error,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
