// Package realtime serves the streaming generation endpoint and the REST
// API for history and active sessions.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"paper-mimic/internal/config"
	"paper-mimic/internal/generation"
	"paper-mimic/internal/history"
	"paper-mimic/internal/session"
)

const (
	defaultWriteTimeout = 10 * time.Second
	serviceName         = "Paper Mimic"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The API is served with permissive CORS as well.
	},
}

// Generator runs one mimic workflow.
type Generator interface {
	Run(ctx context.Context, req generation.MimicRequest, sink generation.ProgressSink) generation.MimicResult
}

// Batcher generates a batch of questions from one requirement.
type Batcher interface {
	GenerateQuestions(ctx context.Context, req generation.Requirement, n int) generation.BatchResult
}

// History is the run storage behind the history endpoints.
type History interface {
	List() ([]history.Session, error)
	Get(id string) (json.RawMessage, error)
	Delete(id string) error
	CreateSessionDir(paper string) (id, path string, err error)
}

// Options tunes the server.
type Options struct {
	StaticDir       string
	ParsedDir       string
	Interception    string
	QueueLimit      int
	DrainTimeout    time.Duration
	WorkflowTimeout time.Duration
	PingInterval    time.Duration
	InitTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	Logger          *slog.Logger
}

// OptionsFromConfig maps the session and storage settings.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		StaticDir:       cfg.Server.StaticDir,
		ParsedDir:       cfg.Storage.ParsedDir,
		Interception:    cfg.Session.Interception,
		QueueLimit:      cfg.Session.QueueLimit,
		DrainTimeout:    cfg.Session.DrainTimeout,
		WorkflowTimeout: cfg.Session.WorkflowTimeout,
		PingInterval:    cfg.Session.PingInterval,
		InitTimeout:     cfg.Session.InitTimeout,
		WriteTimeout:    cfg.Session.WriteTimeout,
		MaxMessageBytes: cfg.Session.MaxMessageBytes,
		Logger:          logger,
	}
}

// Server routes HTTP and WebSocket traffic to the session manager, the
// generation workflow and the history store.
type Server struct {
	sessionMgr *session.Manager
	history    History
	generator  Generator
	batcher    Batcher
	opts       Options
	logger     *slog.Logger
}

// New creates a new realtime server. batcher may be nil, which disables
// the batch generation endpoint.
func New(sessionMgr *session.Manager, hist History, gen Generator, batcher Batcher, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Interception == "" {
		opts.Interception = config.InterceptScoped
	}
	return &Server{
		sessionMgr: sessionMgr,
		history:    hist,
		generator:  gen,
		batcher:    batcher,
		opts:       opts,
		logger:     opts.Logger.With("component", "realtime"),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Streaming endpoint.
	mux.HandleFunc("GET /api/question/mimic", s.handleMimic)

	// Question API.
	mux.HandleFunc("POST /api/question/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/question/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/question/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/question/sessions/{id}", s.handleKillSession)

	// History API.
	mux.HandleFunc("GET /api/history", s.handleListHistory)
	mux.HandleFunc("GET /api/history/{$}", s.handleListHistory)
	mux.HandleFunc("GET /api/history/{id}", s.handleGetHistory)
	mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteHistory)

	// Static file serving.
	if s.opts.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.opts.StaticDir)))
	} else {
		mux.HandleFunc("GET /{$}", s.handleRoot)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":         serviceName + " API",
		"active_sessions": s.sessionMgr.Count(),
		"endpoints": map[string]string{
			"mimic":   "/api/question/mimic",
			"history": "/api/history/",
			"health":  "/health",
		},
	})
}
