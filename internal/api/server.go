package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pbaille/tweetpipe/internal/domain"
	"github.com/pbaille/tweetpipe/internal/generator"
	"github.com/pbaille/tweetpipe/internal/ocr"
	"github.com/pbaille/tweetpipe/internal/pipeline"
	"github.com/pbaille/tweetpipe/internal/store"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConns caps concurrent connections accepted by Run
const DefaultMaxConns = 64

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// SettingsStore reads and updates generation settings
type SettingsStore interface {
	Read(ctx context.Context) (domain.Settings, error)
	Write(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error)
}

// HistoryStore reads and prunes generated batches
type HistoryStore interface {
	ReadAll(ctx context.Context) (domain.History, error)
	ReadLatest(ctx context.Context) ([]domain.Draft, error)
	Prune(ctx context.Context, retention time.Duration) (int, error)
}

// Config wires a Server
type Config struct {
	Addr      string
	Runner    Runner
	Settings  SettingsStore
	History   HistoryStore
	Generator pipeline.Generator
	Source    ocr.Source
	Retention time.Duration
	MaxConns  int
	Logger    *slog.Logger
}

// Server handles HTTP requests for the draft pipeline
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a new API server
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = store.DefaultRetention
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withCORS)

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/cron", s.runPipeline)

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)

		r.Get("/history", s.getHistory)
		r.Get("/history/latest", s.getLatest)
		r.Delete("/history", s.pruneHistory)

		r.Post("/tweet", s.generate)
		r.Get("/ocr", s.queryOCR)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	ln = netutil.LimitListener(ln, s.cfg.MaxConns)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Generation calls can be slow
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// withCORS adds CORS headers for the dashboard
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CronResponse is the response for a pipeline run
type CronResponse struct {
	Message string         `json:"message"`
	Key     string         `json:"key,omitempty"`
	Drafts  []domain.Draft `json:"tweets,omitempty"`
}

func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runner == nil {
		writeJSON(w, http.StatusInternalServerError, CronResponse{Message: pipeline.MsgInternal})
		return
	}

	res, err := s.cfg.Runner.Run(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "pipeline run failed",
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, CronResponse{Message: pipeline.Message(err)})
		return
	}

	writeJSON(w, http.StatusOK, CronResponse{
		Message: pipeline.MsgSuccess,
		Key:     res.Key,
		Drafts:  res.Drafts,
	})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.cfg.Settings.Read(r.Context())
	if err != nil {
		s.internalError(w, r, "read settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var patch domain.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings, err := s.cfg.Settings.Write(r.Context(), patch)
	if errors.Is(err, store.ErrInvalidSettings) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "write settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.cfg.History.ReadAll(r.Context())
	if err != nil {
		s.internalError(w, r, "read history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) getLatest(w http.ResponseWriter, r *http.Request) {
	drafts, err := s.cfg.History.ReadLatest(r.Context())
	if err != nil {
		s.internalError(w, r, "read latest batch", err)
		return
	}
	writeJSON(w, http.StatusOK, drafts)
}

func (s *Server) pruneHistory(w http.ResponseWriter, r *http.Request) {
	retention := s.cfg.Retention
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		retention = time.Duration(n) * 24 * time.Hour
	}

	removed, err := s.cfg.History.Prune(r.Context(), retention)
	if err != nil {
		s.internalError(w, r, "prune history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Generator == nil {
		writeError(w, http.StatusInternalServerError, pipeline.MsgInternal)
		return
	}

	var chunks []domain.Chunk
	if err := json.NewDecoder(r.Body).Decode(&chunks); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings, err := s.cfg.Settings.Read(r.Context())
	if err != nil {
		s.internalError(w, r, "read settings", err)
		return
	}

	drafts, err := s.cfg.Generator.Generate(r.Context(), chunks, settings)
	switch {
	case errors.Is(err, generator.ErrInvalidProvider):
		writeError(w, http.StatusBadRequest, generator.ErrInvalidProvider.Error())
		return
	case errors.Is(err, generator.ErrMissingAPIKey):
		writeError(w, http.StatusBadRequest, generator.ErrMissingAPIKey.Error())
		return
	case err != nil:
		s.logger.ErrorContext(r.Context(), "generate drafts",
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusBadGateway, pipeline.MsgGeneration)
		return
	}
	writeJSON(w, http.StatusOK, drafts)
}

func (s *Server) queryOCR(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Source == nil {
		writeError(w, http.StatusInternalServerError, pipeline.MsgInternal)
		return
	}

	q := ocr.Query{
		TextFilter: r.URL.Query().Get("text"),
		AppFilter:  r.URL.Query().Get("app"),
	}
	var ok bool
	if q.PageIndex, ok = intParam(r, "page", 0); !ok {
		writeError(w, http.StatusBadRequest, "page must be a non-negative integer")
		return
	}
	if q.PageSize, ok = intParam(r, "size", ocr.DefaultPageSize); !ok {
		writeError(w, http.StatusBadRequest, "size must be a non-negative integer")
		return
	}

	page, err := s.cfg.Source.Query(r.Context(), q)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "query ocr",
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusBadGateway, pipeline.MsgSourceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func intParam(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.ErrorContext(r.Context(), op,
		"request_id", middleware.GetReqID(r.Context()), "error", err)
	writeError(w, http.StatusInternalServerError, pipeline.MsgInternal)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
