// Package gateway is the agent-side companion server: it terminates the
// chat websocket, exposes the REST surface, and drives the task runner.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"webpilot/internal/domain"
	"webpilot/internal/metrics"
)

// Config configures the gateway server.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
	Runner      Runner
	AccessLog   io.Writer // Apache-style request log; nil disables it
	Logger      *slog.Logger
}

// Server hosts the chat websocket and the REST API.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	hub     *Hub
	agent   agentState
	started time.Time

	mu      sync.Mutex
	baseCtx context.Context
	httpSrv *http.Server
}

// agentState is the busy lock: at most one task runs at a time.
type agentState struct {
	mu   sync.Mutex
	busy bool
	task string
}

func (a *agentState) acquire(task string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.busy {
		return false
	}
	a.busy = true
	a.task = task
	return true
}

func (a *agentState) release() {
	a.mu.Lock()
	a.busy = false
	a.task = ""
	a.mu.Unlock()
}

func (a *agentState) status() (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy, a.task
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // cross-origin policy is enforced by the CORS layer
	},
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		hub:     newHub(cfg.Logger),
		started: time.Now(),
		baseCtx: context.Background(),
	}
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/execute", s.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/ws/chat", s.handleWS)
	r.Handle("/metrics", metrics.Collector.Handler()).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)
	h := cors(r)
	if s.cfg.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(s.cfg.AccessLog, h)
	}
	return handlers.RecoveryHandler()(h)
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.mu.Unlock()

	s.logger.Info("gateway starting", "addr", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) taskCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	cl := s.hub.add(conn)
	defer s.hub.remove(cl)
	s.logger.Info("client connected", "remote", conn.RemoteAddr().String())

	_ = cl.send(frame(domain.KindSystem, "webpilot gateway connected, agent ready", "System"))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("client read error", "err", err)
			}
			s.logger.Info("client disconnected", "remote", conn.RemoteAddr().String())
			return
		}

		var out domain.Outbound
		if err := json.Unmarshal(data, &out); err != nil {
			s.logger.Warn("invalid client frame", "err", err)
			continue
		}

		switch out.Intent {
		case domain.IntentUserMessage:
			task := strings.TrimSpace(out.Content)
			if task == "" {
				continue
			}
			s.hub.broadcastExcept(cl, frame(domain.KindUser, task, "You"))
			go s.runTask(s.taskCtx(), task, cl)

		case domain.IntentVoiceInput:
			text := strings.TrimSpace(out.Content)
			if text == "" {
				continue
			}
			s.hub.broadcastExcept(cl, frame(domain.KindUser, "🎤 "+text, "Voice"))
			go s.runTask(s.taskCtx(), text, cl)

		default:
			s.logger.Warn("unknown intent", "intent", out.Intent)
		}
	}
}

// runTask executes one task and mirrors its lifecycle into the chat: system
// progress while running, the result as an agent message, failures as error
// messages.
func (s *Server) runTask(ctx context.Context, task string, origin *client) {
	if !s.agent.acquire(task) {
		if origin != nil {
			_ = origin.send(frame(domain.KindSystem, "The agent is busy, please wait...", "System"))
		}
		return
	}
	defer s.agent.release()

	start := time.Now()
	s.hub.Broadcast(frame(domain.KindSystem, "Starting the agent: "+task, "Agent"))

	result, err := s.cfg.Runner.Run(ctx, task, func(step string) {
		s.hub.Broadcast(frame(domain.KindSystem, step, "Agent"))
	})
	metrics.TaskDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.Error("task failed", "task", task, "err", err)
		s.hub.Broadcast(frame(domain.KindError, "Task failed: "+truncate(err.Error(), 300), "System"))
		return
	}
	s.hub.Broadcast(frame(domain.KindAgent, result, "Agent"))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "webpilot gateway",
		"status":    "active",
		"websocket": "/ws/chat",
		"metrics":   "/metrics",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	busy, _ := s.agent.status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().Format(time.RFC3339),
		"connections": s.hub.count(),
		"agent_busy":  busy,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	busy, task := s.agent.status()
	status := "idle"
	if busy {
		status = "busy"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"current_task": task,
		"uptime":       time.Since(s.started).Round(time.Second).String(),
	})
}

type executeRequest struct {
	Task string `json:"task"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Task) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "a non-empty task is required"})
		return
	}
	task := strings.TrimSpace(req.Task)

	if !s.agent.acquire(task) {
		writeJSON(w, http.StatusConflict, map[string]any{"detail": "agent busy"})
		return
	}
	defer s.agent.release()

	start := time.Now()
	s.hub.Broadcast(frame(domain.KindSystem, "Starting the agent: "+task, "Agent"))

	result, err := s.cfg.Runner.Run(r.Context(), task, func(step string) {
		s.hub.Broadcast(frame(domain.KindSystem, step, "Agent"))
	})
	metrics.TaskDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.Error("task failed", "task", task, "err", err)
		s.hub.Broadcast(frame(domain.KindError, "Task failed: "+truncate(err.Error(), 300), "System"))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}

	s.hub.Broadcast(frame(domain.KindAgent, result, "Agent"))
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "result": result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
