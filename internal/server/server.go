package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/pders01/neows/internal/config"
	"github.com/pders01/neows/internal/debuglog"
	"github.com/pders01/neows/internal/feed"
	"github.com/pders01/neows/internal/search"
	"github.com/pders01/neows/internal/storage"
	"github.com/pders01/neows/internal/validation"
)

const maxSearchLimit = 100

// Loader is the part of *feed.Loader the API serves from.
type Loader interface {
	Load(ctx context.Context) feed.Result
	RateLimit() storage.RateLimit
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	loader     Loader
	searcher   search.Searcher
}

// New creates a configured HTTP server. searcher may be nil, in which case
// the search route answers 503.
func New(cfg config.ServerConfig, loader Loader, searcher search.Searcher) *Server {
	s := &Server{loader: loader, searcher: searcher}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/neows", s.handlePage).Methods(http.MethodGet)
	api.HandleFunc("/neows/{id}", s.handleObject).Methods(http.MethodGet)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/ratelimit", s.handleRateLimit).Methods(http.MethodGet)

	// Subrouters answer their own misses, so both get the JSON handlers.
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	for _, r := range []*mux.Router{router, api} {
		r.NotFoundHandler = notFound
		r.MethodNotAllowedHandler = notAllowed
	}
	return router
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// load runs detached from the request: a client hanging up must not
// abandon the day's shared fetch.
func (s *Server) load(r *http.Request) feed.Result {
	return s.loader.Load(context.WithoutCancel(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePage always answers 200; failures degrade to {}.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	res := s.load(r)
	if res.Err != nil {
		debuglog.Debugf("page load %s: %v", res.Status, res.Err)
	}
	w.Header().Set("X-Neows-Status", res.Status.String())
	writeJSON(w, http.StatusOK, res.Page())
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := validation.ValidateNEOID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.load(r)
	if res.Data == nil {
		writeError(w, http.StatusServiceUnavailable, "feed unavailable")
		return
	}
	obj, ok := res.Data.Find(id)
	if !ok {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

type searchHit struct {
	Date   string                   `json:"date"`
	Score  float64                  `json:"score"`
	Object *storage.NearEarthObject `json:"object"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	if s.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSearchLimit)
	}

	results, err := s.searcher.Search(query, limit)
	if err != nil {
		debuglog.Errorf("search %q: %v", query, err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchHit{Date: res.Date, Score: res.Score, Object: res.Object})
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": hits})
}

func (s *Server) handleRateLimit(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.loader.RateLimit())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debuglog.Warnf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// quietPath reports paths polled by health checks; they log at DEBUG.
func quietPath(path string) bool {
	return path == "/healthz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		quiet := quietPath(r.URL.Path)
		if quiet && !debuglog.Enabled(debuglog.LevelDebug) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		logger := debuglog.WithFields(debuglog.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sr.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_ip":   r.RemoteAddr,
		})
		if quiet {
			logger.Debugf("request")
		} else {
			logger.Infof("request")
		}
	})
}
