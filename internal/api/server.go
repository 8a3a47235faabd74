package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"jobsync/internal/config"
	"jobsync/internal/ingest"
	"jobsync/internal/logging"
	"jobsync/internal/models"
	"jobsync/internal/normalize"
	"jobsync/internal/ratelimit"
	"jobsync/internal/store"
	"jobsync/internal/syncer"
	"jobsync/internal/telemetry"
)

// Repository is the read and delete side of the store used by the API.
type Repository interface {
	Ping(ctx context.Context) error
	GetPosting(ctx context.Context, id string) (models.JobPosting, error)
	DeletePosting(ctx context.Context, id string) error
	ListPostings(ctx context.Context, params store.ListParams) ([]models.JobPosting, int64, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// Limiter admits requests per API key.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for producers and the sync consumer.
type Server struct {
	cfg     config.Config
	repo    Repository
	ingest  *ingest.BatchProcessor
	sync    *syncer.Manager
	limiter Limiter
	log     *logging.Logger
}

// New constructs the API server. limiter may be nil to disable admission control.
func New(cfg config.Config, repo Repository, proc *ingest.BatchProcessor, mgr *syncer.Manager, limiter Limiter, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	return &Server{
		cfg:     cfg,
		repo:    repo,
		ingest:  proc,
		sync:    mgr,
		limiter: limiter,
		log:     log.With("component", "api"),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/health", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/jobs", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Post("/", s.handleCreate)
		r.Post("/batch", s.handleBatch)
		r.Get("/", s.handleList)
		r.Get("/stats", s.handleStats)
		r.Post("/sync", s.handleSync)
		r.Post("/sync-to-n8n", s.handleSync)
		r.Get("/sync-status", s.handleSyncStatus)
		r.Get("/{id}", s.handleGet)
		r.Delete("/{id}", s.handleDelete)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found", nil)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	code, status, db := http.StatusOK, "healthy", "connected"
	if err := s.repo.Ping(ctx); err != nil {
		s.log.Warn("health check: store unreachable", "err", err)
		code, status, db = http.StatusServiceUnavailable, "degraded", "disconnected"
	}
	writeJSON(w, code, map[string]any{
		"success":   code == http.StatusOK,
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"postgres":  db,
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || raw == nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", nil)
		return
	}

	res, err := s.ingest.Ingest(r.Context(), raw)
	var verr *normalize.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidation(w, verr.Problems)
		return
	case err != nil:
		s.log.Error("save posting failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to save job", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"data":      res.Posting,
		"created":   res.Resolution == ingest.Created,
		"forwarded": res.Forward.Forwarded(),
	})
}

type batchRequest struct {
	Jobs []map[string]any `json:"jobs"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", nil)
		return
	}

	sum, err := s.ingest.Process(r.Context(), req.Jobs)
	switch {
	case errors.Is(err, ingest.ErrBatchSize):
		writeValidation(w, []string{fmt.Sprintf(`"jobs" must contain between 1 and %d items`, s.batchMax())})
		return
	case err != nil:
		s.log.Error("batch failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to save jobs", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": sum})
}

func (s *Server) batchMax() int {
	if s.cfg.BatchMaxSize > 0 {
		return s.cfg.BatchMaxSize
	}
	return ingest.DefaultMaxBatch
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeValidation(w, []string{`"limit" must be a number`})
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		writeValidation(w, []string{`"offset" must be a number`})
		return
	}
	params := store.ListParams{
		Source:  q.Get("source"),
		Company: q.Get("company"),
		Search:  q.Get("search"),
		Limit:   limit,
		Offset:  offset,
		Sort:    q.Get("sort"),
	}.WithDefaults()

	postings, total, err := s.repo.ListPostings(r.Context(), params)
	if err != nil {
		s.log.Error("list postings failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    postings,
		"pagination": map[string]any{
			"total":  total,
			"limit":  params.Limit,
			"offset": params.Offset,
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.repo.Stats(r.Context())
	if err != nil {
		s.log.Error("stats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": stats})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "Job not found", nil)
		return
	}
	p, err := s.repo.GetPosting(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": p})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.repo.DeletePosting(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found", nil)
		return
	}
	if err != nil {
		s.log.Error("delete posting failed", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Job deleted successfully"})
}

type syncRequest struct {
	Source     string `json:"source"`
	ForceSince string `json:"forceSince"`
}

// handleSync runs one sync pass. A pass without a webhook configured is
// refused with 503 and leaves the cursor where it was, rather than counting
// every pending posting as failed and advancing past them.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", nil)
		return
	}
	opts := syncer.PassOptions{Source: req.Source}
	if req.ForceSince != "" {
		since, err := parseSince(req.ForceSince)
		if err != nil {
			writeValidation(w, []string{`"forceSince" must be a valid date`})
			return
		}
		opts.Since = &since
	}

	res, err := s.sync.RunPass(r.Context(), opts)
	switch {
	case errors.Is(err, syncer.ErrPassInProgress):
		writeError(w, http.StatusConflict, "Sync already in progress", nil)
		return
	case errors.Is(err, syncer.ErrNoWebhook):
		writeError(w, http.StatusServiceUnavailable, "Webhook not configured", nil)
		return
	case err != nil:
		s.log.Error("sync pass failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to sync jobs", err)
		return
	}

	if res.NoOp {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "No new jobs to sync",
			"data": map[string]any{
				"synced":       0,
				"lastSyncAt":   res.LastSyncAt,
				"nextSyncFrom": res.NextSyncFrom,
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Synced %d jobs", res.Synced),
		"data":    res,
	})
}

// handleSyncStatus reports the unfiltered cursor, or the cursor of ?source=.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sync.StatusFor(r.Context(), r.URL.Query().Get("source"))
	if err != nil {
		s.log.Error("sync status failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to get sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": st})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "API key is required. Include X-API-Key header.", nil)
			return
		}
		if s.cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			writeError(w, http.StatusForbidden, "Invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		d, err := s.limiter.Allow(r.Context(), r.Header.Get("X-API-Key"))
		if err != nil {
			// Admission control is best effort when Redis is unavailable.
			s.log.Warn("rate limiter unavailable", "err", err)
			next.ServeHTTP(w, r)
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func parseSince(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeValidation(w http.ResponseWriter, problems []string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   "Validation failed",
		"details": problems,
	})
}

func writeError(w http.ResponseWriter, code int, msg string, err error) {
	body := map[string]any{"success": false, "error": msg}
	if err != nil {
		body["message"] = err.Error()
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
