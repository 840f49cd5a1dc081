package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/metrics"
	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/storage"
)

const (
	serviceName = "runbox"
	// DefaultMaxBodyBytes bounds the execute request body.
	DefaultMaxBodyBytes = 5 * 1024 * 1024
)

// Executor runs execution requests.
type Executor interface {
	Execute(ctx context.Context, req model.ExecutionRequest) (*model.ExecutionResult, error)
}

// Pinger checks the container runtime is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerConfig is the configuration for the HTTP API handler.
type HandlerConfig struct {
	Executor Executor
	Runtime  Pinger
	// Repository has the in flight jobs.
	Repository storage.JobRepository
	// MetricsHandler is served at /metrics when set.
	MetricsHandler http.Handler
	// RateLimit is the global execute requests per second, 0 disables it.
	RateLimit   float64
	RateBurst   int
	MaxInflight int
	// MaxBodyBytes bounds the execute request body.
	MaxBodyBytes    int64
	Version         string
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *HandlerConfig) defaults() error {
	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if c.Runtime == nil {
		return fmt.Errorf("runtime is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "httpapi.Handler"})
	return nil
}

type handler struct {
	executor     Executor
	runtime      Pinger
	repo         storage.JobRepository
	validate     *validator.Validate
	maxBodyBytes int64
	version      string
	logger       log.Logger
}

// NewHandler returns the runbox HTTP API handler.
func NewHandler(cfg HandlerConfig) (http.Handler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	h := &handler{
		executor:     cfg.Executor,
		runtime:      cfg.Runtime,
		repo:         cfg.Repository,
		validate:     newValidator(),
		maxBodyBytes: cfg.MaxBodyBytes,
		version:      cfg.Version,
		logger:       cfg.Logger,
	}
	adm := newAdmission(cfg.RateLimit, cfg.RateBurst, cfg.MaxInflight, cfg.MetricsRecorder)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	r.Get("/jobs", h.handleListJobs)
	r.With(adm.middleware).Post("/execute", h.handleExecute)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names on validation errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": serviceName,
		"version": h.version,
		"status":  "running",
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.runtime.Ping(ctx); err != nil {
		h.logger.Warningf("Health check failed: %s", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"runtime": "disconnected",
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"runtime": "connected",
	})
}

func (h *handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.repo.ListJobs(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, mapJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: fmt.Sprintf("invalid JSON body: %s", err)})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: validationMessage(err)})
		return
	}

	result, err := h.executor.Execute(r.Context(), req.toModel())
	if result == nil {
		result = &model.ExecutionResult{Error: model.NewExecutionError(model.ErrorKindInternal, err)}
	}
	writeJSON(w, statusCode(result, err), mapExecuteResponse(result))
}

// statusCode maps an execution outcome to its HTTP status.
func statusCode(result *model.ExecutionResult, err error) int {
	var execErr *model.ExecutionError
	if err != nil && !errors.As(err, &execErr) {
		return http.StatusInternalServerError
	}
	if execErr == nil {
		execErr = result.Error
	}
	if execErr == nil {
		return http.StatusOK
	}

	switch execErr.Kind {
	case model.ErrorKindValidation:
		return http.StatusUnprocessableEntity
	case model.ErrorKindDownload:
		return http.StatusBadRequest
	case model.ErrorKindInfrastructure, model.ErrorKindInternal:
		return http.StatusInternalServerError
	default:
		// In-container failures and timeouts are completed executions.
		return http.StatusOK
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "executeRequest.")
		msgs = append(msgs, fmt.Sprintf("%s failed on %q validation", field, fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx := h.logger.SetValuesOnCtx(r.Context(), log.Kv{"request-id": middleware.GetReqID(r.Context())})
		next.ServeHTTP(ww, r.WithContext(ctx))

		h.logger.WithCtxValues(ctx).WithValues(log.Kv{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": ww.Status(),
		}).Debugf("Request served in %s", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
