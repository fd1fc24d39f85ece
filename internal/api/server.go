// Package api exposes the batch orchestrator, collections and cache over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/pipeline"
	"github.com/sells-group/prospect-cli/internal/store"
	"github.com/sells-group/prospect-cli/internal/usage"
)

// Orchestrator is the batch surface served by the API.
type Orchestrator interface {
	State() pipeline.State
	LastProgress() *pipeline.Progress
	Cancel()
	ResumeAvailable(ctx context.Context) (*model.Checkpoint, error)
	Resume(ctx context.Context, onProgress func(pipeline.Progress)) (*pipeline.Report, error)
	RunBatch(ctx context.Context, req pipeline.Request, onProgress func(pipeline.Progress)) (*pipeline.Report, error)
	RunSingle(ctx context.Context, query string, cfg model.RunConfig) (model.Record, error)
}

// Collections reads stored collections and their records.
type Collections interface {
	ListCollections(ctx context.Context) ([]model.Collection, error)
	GetCollection(ctx context.Context, id string) (*model.Collection, error)
	GetAll(ctx context.Context, collectionID string) ([]model.Record, error)
}

// CacheAdmin inspects and clears the lookup cache.
type CacheAdmin interface {
	ListAll(ctx context.Context) ([]model.CacheEntry, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Server holds the handlers' collaborators and the background batch.
type Server struct {
	orch        Orchestrator
	collections Collections
	cache       CacheAdmin
	// base outlives requests; background batches run under it.
	base context.Context

	mu      sync.Mutex
	running bool
	last    *pipeline.Report
	lastErr string
	wg      sync.WaitGroup
}

// New creates a Server. Background batches run under ctx.
func New(ctx context.Context, orch Orchestrator, collections Collections, cache CacheAdmin) *Server {
	return &Server{orch: orch, collections: collections, cache: cache, base: ctx}
}

// Handler returns the routed handler. An empty allowedOrigins allows any
// origin.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/lookup", s.lookup)
		r.Post("/batches", s.startBatch)
		r.Get("/batches/current", s.currentBatch)
		r.Delete("/batches/current", s.cancelBatch)
		r.Get("/checkpoint", s.getCheckpoint)
		r.Post("/checkpoint/resume", s.resume)
		r.Get("/collections", s.listCollections)
		r.Get("/collections/{id}/records", s.collectionRecords)
		r.Get("/cache", s.listCache)
		r.Delete("/cache", s.clearCache)
	})
	return r
}

// Wait blocks until the background batch, if any, has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type lookupRequest struct {
	Query          string `json:"query"`
	Strategy       string `json:"strategy"`
	CollectionID   string `json:"collection_id"`
	CollectionName string `json:"collection_name"`
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	rec, err := s.orch.RunSingle(r.Context(), req.Query, model.RunConfig{
		Strategy:       req.Strategy,
		CollectionID:   req.CollectionID,
		CollectionName: req.CollectionName,
	})
	if err != nil && rec.Name == "" {
		status := http.StatusBadGateway
		if errors.Is(err, usage.ErrUnknownStrategy) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	// A failed lookup still yields a displayable error record.
	writeJSON(w, http.StatusOK, rec)
}

type batchRequest struct {
	Queries        []string `json:"queries"`
	Strategy       string   `json:"strategy"`
	CollectionID   string   `json:"collection_id"`
	CollectionName string   `json:"collection_name"`
}

func (s *Server) startBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	queries := make([]string, 0, len(req.Queries))
	for _, q := range req.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		writeError(w, http.StatusBadRequest, "queries are required")
		return
	}

	cfg := model.RunConfig{
		Strategy:       req.Strategy,
		CollectionID:   req.CollectionID,
		CollectionName: req.CollectionName,
	}
	started := s.launch(func(ctx context.Context) (*pipeline.Report, error) {
		return s.orch.RunBatch(ctx, pipeline.Request{Queries: queries, Config: cfg}, nil)
	})
	if !started {
		writeError(w, http.StatusConflict, "a batch is already running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"queries": len(queries),
	})
}

// launch runs fn in the background unless a batch is already running.
func (s *Server) launch(fn func(ctx context.Context) (*pipeline.Report, error)) bool {
	s.mu.Lock()
	if s.running || s.orch.State() == pipeline.StateRunning {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		rep, err := fn(s.base)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.running = false
		s.lastErr = ""
		if err != nil {
			zap.L().Error("api: batch failed", zap.Error(err))
			s.lastErr = err.Error()
			return
		}
		s.last = rep
	}()
	return true
}

type batchStatus struct {
	State    pipeline.State     `json:"state"`
	Progress *pipeline.Progress `json:"progress,omitempty"`
	Report   *pipeline.Report   `json:"report,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func (s *Server) currentBatch(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := batchStatus{Report: s.last, Error: s.lastErr}
	s.mu.Unlock()
	status.State = s.orch.State()
	status.Progress = s.orch.LastProgress()
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) cancelBatch(w http.ResponseWriter, _ *http.Request) {
	if s.orch.State() != pipeline.StateRunning {
		writeError(w, http.StatusConflict, "no batch is running")
		return
	}
	s.orch.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

type checkpointView struct {
	NextIndex int             `json:"next_index"`
	Total     int             `json:"total"`
	Remaining int             `json:"remaining"`
	Config    model.RunConfig `json:"config"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.orch.ResumeAvailable(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "no checkpoint")
		return
	}
	writeJSON(w, http.StatusOK, checkpointView{
		NextIndex: cp.NextIndex,
		Total:     len(cp.Queries),
		Remaining: cp.Remaining(),
		Config:    cp.Config,
		UpdatedAt: cp.UpdatedAt,
	})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	cp, err := s.orch.ResumeAvailable(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "no checkpoint")
		return
	}
	started := s.launch(func(ctx context.Context) (*pipeline.Report, error) {
		return s.orch.Resume(ctx, nil)
	})
	if !started {
		writeError(w, http.StatusConflict, "a batch is already running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "resuming",
		"next_index": cp.NextIndex,
		"remaining":  cp.Remaining(),
	})
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := s.collections.ListCollections(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cols == nil {
		cols = []model.Collection{}
	}
	writeJSON(w, http.StatusOK, cols)
}

func (s *Server) collectionRecords(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.collections.GetCollection(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "collection not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	recs, err := s.collections.GetAll(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) listCache(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cache.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit >= 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []model.CacheEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.cache.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.cache.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
