package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hireloop/voiceroom/internal/room"
)

type RouterConfig struct {
	// JWT Authentication. Tokens are issued by the platform backend;
	// this service only verifies them.
	JWTSecret string

	// StopGrace is how long a stopped room stays readable before its
	// registry slot is released, so retried stops and state polls keep
	// getting the final state instead of a 404. Defaults to 30s.
	StopGrace time.Duration
}

// RoomFactory builds a fully wired room controller for one interview.
// identity is nil for guest candidates.
type RoomFactory func(identity *room.Identity) *room.Controller

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	registry *RoomRegistry
	newRoom  RoomFactory
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, registry *RoomRegistry, newRoom RoomFactory) http.Handler {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 30 * time.Second
	}
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		newRoom:  newRoom,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Interview rooms. Creation takes an optional bearer token: an
	// authenticated candidate gets the review exit, a guest the
	// thank-you exits.
	r.mux.HandleFunc("POST /api/rooms", r.handleCreateRoom)
	r.mux.HandleFunc("POST /api/rooms/{id}/start", r.handleStartRoom)
	r.mux.HandleFunc("POST /api/rooms/{id}/stop", r.handleStopRoom)
	r.mux.HandleFunc("POST /api/rooms/{id}/mute", r.handleToggleMute)
	r.mux.HandleFunc("POST /api/rooms/{id}/camera", r.handleToggleCamera)
	r.mux.HandleFunc("POST /api/rooms/{id}/screenshare", r.handleToggleScreenShare)
	r.mux.HandleFunc("GET /api/rooms/{id}/state", r.handleRoomState)
	r.mux.HandleFunc("GET /api/rooms/{id}/ws", r.handleRoomWS)

	// Protected API endpoints
	r.mux.HandleFunc("GET /api/me", r.withAuth(r.handleGetMe))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports 503 while draining so the load balancer stops
// routing new candidates here during shutdown.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.registry.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
