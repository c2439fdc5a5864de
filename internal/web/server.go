package web

import (
	"context"
	"crypto/rand"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"

	"threadlens/internal/config"
	"threadlens/internal/errors"
	"threadlens/internal/logging"
	"threadlens/internal/metrics"
	"threadlens/internal/model"
	"threadlens/internal/util"
)

// Service is what the HTTP surface needs from the app.
type Service interface {
	GetConversationThread(ctx context.Context, host, credential, noteID string) (model.Thread, error)
	GetContextTimeline(ctx context.Context, host, credential, anchorID string, scope model.Scope) (model.TimelineWindow, error)
	GetFeedThreads(ctx context.Context, host, credential, feedID string, limit int) ([]model.Thread, error)
	ResolveEmojiText(text, instanceHost string, local map[string]string) string
	PrimeEmojiCache(ctx context.Context, instanceHost string) error
}

// Server serves the read-only JSON API for one configured instance.
type Server struct {
	svc         Service
	host        string
	token       string
	antennaID   string
	feedLimit   int
	cacheMaxAge int
	router      *mux.Router
}

func NewServer(svc Service, cfg config.Config) *Server {
	s := &Server{
		svc:         svc,
		host:        cfg.Instance.Host,
		token:       cfg.Instance.Token,
		antennaID:   cfg.Feed.AntennaID,
		feedLimit:   cfg.Feed.Limit,
		cacheMaxAge: cfg.Server.CacheMaxAge,
		router:      mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(requestID)
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/contextTL", s.contextTimeline).Methods(http.MethodGet)
	api.HandleFunc("/mentionContext", s.mentionContext).Methods(http.MethodGet)
	api.HandleFunc("/thread", s.thread).Methods(http.MethodGet)
	api.HandleFunc("/emoji/resolve", s.resolveEmoji).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logging.Info("server_start", map[string]any{"addr": addr, "host": s.host})
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logging.Info("server_stop", map[string]any{"addr": addr})
		return srv.Shutdown(shutdownCtx)
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		logging.LogRequest(r, id)
		next.ServeHTTP(w, r)
	})
}

func newRequestID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

func (s *Server) configured(w http.ResponseWriter) bool {
	if s.host == "" || s.token == "" {
		writeError(w, http.StatusInternalServerError, "missing instance configuration (MISSKEY_HOST or MISSKEY_TOKEN)")
		return false
	}
	return true
}

// contextTimeline handles GET /api/contextTL?noteId=&scope=global|local.
func (s *Server) contextTimeline(w http.ResponseWriter, r *http.Request) {
	noteID := strings.TrimSpace(r.URL.Query().Get("noteId"))
	if noteID == "" {
		writeError(w, http.StatusBadRequest, "noteId is required")
		return
	}
	scope, err := model.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, `invalid scope: must be "global" or "local"`)
		return
	}
	if !s.configured(w) {
		return
	}
	window, err := s.svc.GetContextTimeline(r.Context(), s.host, s.token, noteID, scope)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.cacheable(w)
	writeJSON(w, http.StatusOK, window)
}

// mentionContext handles GET /api/mentionContext?limit=30.
func (s *Server) mentionContext(w http.ResponseWriter, r *http.Request) {
	limit := s.feedLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
			return
		}
		limit = n
	}
	if !s.configured(w) {
		return
	}
	if s.antennaID == "" {
		writeError(w, http.StatusInternalServerError, "missing feed configuration (ANTENNA_ID)")
		return
	}
	threads, err := s.svc.GetFeedThreads(r.Context(), s.host, s.token, s.antennaID, limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.cacheable(w)
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads, "instanceHost": s.host})
}

// thread handles GET /api/thread?noteId=.
func (s *Server) thread(w http.ResponseWriter, r *http.Request) {
	noteID := strings.TrimSpace(r.URL.Query().Get("noteId"))
	if noteID == "" {
		writeError(w, http.StatusBadRequest, "noteId is required")
		return
	}
	if !s.configured(w) {
		return
	}
	th, err := s.svc.GetConversationThread(r.Context(), s.host, s.token, noteID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

// resolveEmoji handles GET /api/emoji/resolve?text=&host=.
// Only the configured instance's catalog is fetched; other hosts resolve from
// whatever is already cached.
func (s *Server) resolveEmoji(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	host := r.URL.Query().Get("host")
	if host == "" {
		host = s.host
	}
	if host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	if util.NormalizeHost(host) == util.NormalizeHost(s.host) {
		// rendering degrades to literal short-codes when the catalog is unavailable
		_ = s.svc.PrimeEmojiCache(r.Context(), host)
	}
	writeJSON(w, http.StatusOK, map[string]string{"html": s.svc.ResolveEmojiText(text, host, nil)})
}

func (s *Server) cacheable(w http.ResponseWriter) {
	if s.cacheMaxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("s-maxage=%d, stale-while-revalidate", s.cacheMaxAge))
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	var be *errors.BackendError
	if stderrors.As(err, &be) && be.RetryAfterSeconds != nil && !errors.Is(err, errors.ErrNotFound) {
		w.Header().Set("Retry-After", strconv.Itoa(*be.RetryAfterSeconds))
	}
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.Error("request_failed", map[string]any{"status": status, "error": err})
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
