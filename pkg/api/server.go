package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/lsclear/sandbox/pkg/log"
	"github.com/lsclear/sandbox/pkg/metrics"
	"github.com/lsclear/sandbox/pkg/notify"
	"github.com/lsclear/sandbox/pkg/runtime"
	"github.com/lsclear/sandbox/pkg/session"
	"github.com/lsclear/sandbox/pkg/types"
)

// SessionManager is the slice of the session layer the API dispatches to.
type SessionManager interface {
	StartSession(ctx context.Context, userID string) (*session.StartResult, error)
	Lookup(sid string) *types.Session
	ContainerFor(userID string) (string, bool)
	Status(ctx context.Context, sid string) (types.ContainerState, error)
	EndSession(ctx context.Context, sid string) error
	CleanupUser(ctx context.Context, userID string) (bool, error)
}

// TerminalRuntime is the slice of the container runtime the API reaches
// directly: opening shells for the terminal socket, one-shot execution for
// /run, and file reads for the editor.
type TerminalRuntime interface {
	OpenShell(ctx context.Context, containerID string, cols, rows uint) (*runtime.ExecStream, error)
	ResizeExec(ctx context.Context, execID string, cols, rows uint) error
	ExecOneshot(ctx context.Context, containerID string, argv []string, workdir string) (int, []byte, error)
	ReadFile(ctx context.Context, containerID, absPath string) ([]byte, error)
}

// FileStore is the slice of the tree store behind the file endpoints.
type FileStore interface {
	GetNode(ctx context.Context, userID string, id int64) (*types.FSNode, error)
	UpdateContent(ctx context.Context, userID string, id int64, content string) error
	PathOf(ctx context.Context, userID string, id int64) (string, error)
	Resolve(ctx context.Context, userID, path string) (*types.FSNode, error)
}

// Pusher propagates an editor write into the user's container.
type Pusher interface {
	PushFile(ctx context.Context, userID, containerID, relPath string, content []byte) error
}

// IntakeProcessor applies one intercepted shell command.
type IntakeProcessor interface {
	Handle(ctx context.Context, ev types.ShellEvent) error
}

// Subscriber serves update-subscription sockets.
type Subscriber interface {
	Serve(userID string, conn notify.Conn)
}

// Server is the HTTP/WS front of the sandbox backend. It parses arguments,
// dispatches to the session, tree, and runtime layers, and shapes errors into
// status codes; no domain logic lives here.
type Server struct {
	sessions SessionManager
	runtime  TerminalRuntime
	store    FileStore
	pusher   Pusher
	intake   IntakeProcessor
	notify   Subscriber

	allowedOrigins []string
	httpSrv        *http.Server
}

// NewServer wires the API over its collaborators.
func NewServer(sessions SessionManager, rt TerminalRuntime, store FileStore, pusher Pusher, intake IntakeProcessor, notify Subscriber, allowedOrigins []string) *Server {
	return &Server{
		sessions:       sessions,
		runtime:        rt,
		store:          store,
		pusher:         pusher,
		intake:         intake,
		notify:         notify,
		allowedOrigins: allowedOrigins,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware, s.metricsMiddleware)

	r.HandleFunc("/terminal/start", s.handleTerminalStart).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/terminal/cleanup/{user_id}", s.handleCleanup).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/terminal/ws/{sid}", s.handleTerminalWS).Methods(http.MethodGet)
	r.HandleFunc("/terminal/{sid}", s.handleTerminalStatus).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/terminal/{sid}", s.handleTerminalEnd).Methods(http.MethodDelete, http.MethodOptions)

	r.HandleFunc("/api/fs-event", s.handleFSEvent).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/files/{sid}/{name:.+}", s.handleFileRead).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/files/{file_id:[0-9]+}", s.handleFileUpdate).Methods(http.MethodPut, http.MethodOptions)

	r.HandleFunc("/run", s.handleRun).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/db_update/ws/{user_id}", s.handleUpdateWS).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

// Start begins serving on addr and blocks until the listener fails or Stop is
// called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	log.WithComponent("api").Info().Str("addr", addr).Msg("HTTP API listening")

	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// corsMiddleware answers preflights and stamps the allow headers on every
// response. The browser front end runs on a different origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.allowedOrigins) > 0 && s.allowedOrigins[0] != "*" {
			reqOrigin := r.Header.Get("Origin")
			origin = ""
			for _, o := range s.allowedOrigins {
				if o == reqOrigin {
					origin = o
					break
				}
			}
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the final status for the request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades hijack the connection; wrapping the writer
		// would break them.
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
