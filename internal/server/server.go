package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dvcrn/gemini-web-proxy/internal/config"
	"github.com/dvcrn/gemini-web-proxy/internal/credentials"
	"github.com/dvcrn/gemini-web-proxy/internal/gemini"
	"github.com/dvcrn/gemini-web-proxy/internal/mediacache"
	"github.com/dvcrn/gemini-web-proxy/internal/sessionstore"
	"github.com/rs/zerolog"
)

// HTTPClient is an interface for making HTTP requests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Server struct {
	cfg           *config.Config
	credsFetcher  credentials.CredentialsFetcher
	httpClient    HTTPClient
	media         *mediacache.Store
	sessions      sessionstore.Store
	conversations *conversationManager
	mux           *http.ServeMux
	logger        zerolog.Logger
	now           func() time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithHTTPClient replaces the upstream HTTP client.
func WithHTTPClient(client HTTPClient) Option {
	return func(s *Server) {
		s.httpClient = client
	}
}

// WithMediaStore enables local caching of generated media.
func WithMediaStore(store *mediacache.Store) Option {
	return func(s *Server) {
		s.media = store
	}
}

// WithSessionStore persists conversation ids across restarts.
func WithSessionStore(store sessionstore.Store) Option {
	return func(s *Server) {
		s.sessions = store
	}
}

func New(logger zerolog.Logger, cfg *config.Config, credsFetcher credentials.CredentialsFetcher, opts ...Option) *Server {
	s := &Server{
		cfg:          cfg,
		credsFetcher: credsFetcher,
		httpClient:   NewHTTPClient(cfg.UpstreamTimeout()),
		mux:          http.NewServeMux(),
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessions == nil {
		s.sessions = sessionstore.NewMemoryStore()
	}
	s.conversations = newConversationManager(s.newGeminiClient, s.sessions, cfg.SessionTimeout(), cfg.Session.ResendSystemPrompt, logger)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/v1/chat/completions", s.apiKeyMiddleware(s.chatCompletionsHandler))
	s.mux.HandleFunc("/v1/chat/completions/reset", s.apiKeyMiddleware(s.resetHandler))
	s.mux.HandleFunc("/v1/chat/completions/history", s.apiKeyMiddleware(s.historyHandler))
	s.mux.HandleFunc("/v1/models", s.apiKeyMiddleware(s.modelsHandler))
	s.mux.HandleFunc("/media/", s.mediaHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/admin/credentials", s.adminMiddleware(s.credentialsHandler))
	s.mux.HandleFunc("/admin/credentials/refresh", s.adminMiddleware(s.credentialsRefreshHandler))
	s.mux.HandleFunc("/admin/credentials/status", s.adminMiddleware(s.credentialsStatusHandler))
	s.mux.HandleFunc("/", s.notFoundHandler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.loggingMiddleware(s.mux).ServeHTTP(w, r)
}

// newGeminiClient builds an upstream client for one conversation. All
// clients share the HTTP client, credentials and media cache.
func (s *Server) newGeminiClient() *gemini.Client {
	up := s.cfg.Upstream
	opts := gemini.Options{
		BaseURL:     up.BaseURL,
		UploadURL:   up.UploadURL,
		Locale:      up.Locale,
		BuildLabel:  up.BuildLabel,
		Timeout:     s.cfg.UpstreamTimeout(),
		MaxAttempts: up.MaxAttempts,
		Backoff:     s.cfg.Backoff(),
		ModelIDs: gemini.ModelIDs{
			Flash:    up.ModelIDs.Flash,
			Pro:      up.ModelIDs.Pro,
			Thinking: up.ModelIDs.Thinking,
		},
		Policy: gemini.Policy{
			LongestTextWins: s.cfg.Parse.LongestTextWins,
			PreferCleanCopy: s.cfg.Parse.PreferCleanCopy,
		},
		MediaBaseURL:     s.cfg.Server.MediaBaseURL,
		MediaTimeout:     s.cfg.MediaDownloadTimeout(),
		MediaMinBytes:    s.cfg.Media.MinBytes,
		MediaParallelism: s.cfg.Media.Parallelism,
	}

	var store gemini.MediaStore
	if s.media != nil {
		store = s.media
	}
	return gemini.NewClient(opts, s.httpClient, s.credsFetcher, store, s.logger)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Msg("Incoming request")
		next.ServeHTTP(w, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Dur("duration", time.Since(start)).
			Msg("Finished request")
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	response := modelsResponse{
		Object: "list",
		Data:   supportedModels(s.cfg.Upstream.Models, s.now()),
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn().
		Str("method", r.Method).
		Str("uri", r.RequestURI).
		Str("remote_addr", r.RemoteAddr).
		Str("user_agent", r.UserAgent()).
		Msg("Unhandled route")
	http.NotFound(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
