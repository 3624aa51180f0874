package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arcade-progression/internal/domain"
	"github.com/arcade-progression/internal/metrics"
	"github.com/arcade-progression/internal/service"
	"github.com/arcade-progression/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PlayerIDHeader carries the caller identity set by the authentication gateway.
const PlayerIDHeader = "X-Player-ID"

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators of Handler. Hub, Metrics and Checks may be nil.
type Deps struct {
	Scores       *service.ScoreService
	Leaderboards *service.LeaderboardService
	Players      *service.PlayerService
	Hub          *websocket.Hub
	Metrics      *metrics.Manager
	Checks       map[string]ReadinessCheck
}

// Handler provides HTTP handlers for the progression and leaderboard API
type Handler struct {
	scores       *service.ScoreService
	leaderboards *service.LeaderboardService
	players      *service.PlayerService
	hub          *websocket.Hub
	metrics      *metrics.Manager
	checks       map[string]ReadinessCheck
	logger       *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	return &Handler{
		scores:       deps.Scores,
		leaderboards: deps.Leaderboards,
		players:      deps.Players,
		hub:          deps.Hub,
		metrics:      deps.Metrics,
		checks:       deps.Checks,
		logger:       logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool             `json:"success"`
	Data      interface{}      `json:"data,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind domain.ErrorKind `json:"error_kind,omitempty"`
}

// StartSessionRequest is the body of POST /api/v1/sessions
type StartSessionRequest struct {
	GameType domain.GameType `json:"gameType"`
}

// RegisterPlayerRequest is the body of PUT /api/v1/players/me
type RegisterPlayerRequest struct {
	Username string `json:"username"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.instrument)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Group(func(r chi.Router) {
			r.Use(requirePlayer)

			r.Post("/sessions", h.StartSession)
			r.Post("/scores", h.SubmitScore)

			r.Put("/players/me", h.RegisterPlayer)
			r.Get("/players/me/rank", h.GetMyRank)
			r.Get("/players/me/stats", h.GetMyStats)
			r.Get("/players/me/recent-games", h.GetMyRecentGames)
		})

		r.Get("/players/{playerID}/rank", h.GetPlayerRank)

		r.Route("/leaderboards", func(r chi.Router) {
			r.Get("/snapshots/{date}", h.GetSnapshot)
			r.Get("/{window}", h.GetLeaderboard)
		})

		if h.hub != nil {
			r.Get("/ws/stats", h.GetWebSocketStats)
		}
	})

	return r
}

type playerKey struct{}

// requirePlayer rejects requests without a caller identity
func requirePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID := strings.TrimSpace(r.Header.Get(PlayerIDHeader))
		if playerID == "" {
			writeJSON(w, http.StatusUnauthorized, APIResponse{
				Success:   false,
				Error:     "missing " + PlayerIDHeader + " header",
				ErrorKind: domain.KindInvalidRequest,
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), playerKey{}, playerID)))
	})
}

func playerFrom(r *http.Request) string {
	id, _ := r.Context().Value(playerKey{}).(string)
	return id
}

// instrument logs and records every request by its route pattern
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if h.metrics != nil {
			h.metrics.HTTPObserved(route, r.Method, status, elapsed)
		}
		h.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, "+PlayerIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps err to a status code and an error kind. Store and
// internal failures are logged and reported without their cause.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	resp := APIResponse{Success: false, Error: err.Error(), ErrorKind: kind}

	var status int
	switch kind {
	case domain.KindSessionInvalid, domain.KindSuspiciousSession, domain.KindScoreOutOfBounds, domain.KindInvalidRequest:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindTransientStore:
		status = http.StatusServiceUnavailable
		resp.Error = domain.ErrTransientStore.Error()
	default:
		status = http.StatusInternalServerError
		resp.Error = domain.ErrInternalError.Error()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error_kind", kind,
			"error", err,
		)
	}
	writeJSON(w, status, resp)
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	h.writeError(w, r, fmt.Errorf("%w: %s", domain.ErrInvalidRequest, msg))
}

// decodeBody reads at most maxBodyBytes of JSON into v. An empty body is
// reported as io.EOF.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// rejectBody answers a body that could not be decoded.
func (h *Handler) rejectBody(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, APIResponse{
			Success:   false,
			Error:     fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			ErrorKind: domain.KindInvalidRequest,
		})
		return
	}
	h.badRequest(w, r, "malformed body")
}

func queryInt(r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	subscribers := make(map[domain.Window]int, len(domain.Windows))
	for _, window := range domain.Windows {
		subscribers[window] = h.hub.SubscriberCount(window)
	}
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.TotalConnections(),
		"subscribers":       subscribers,
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck runs every readiness check and fails if any does
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var failing []string
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success:   false,
			Data:      map[string]interface{}{"status": "not_ready", "failing": failing},
			Error:     "not ready",
			ErrorKind: domain.KindTransientStore,
		})
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// StartSession begins a play session for the caller
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.rejectBody(w, r, err)
		return
	}

	start, err := h.scores.StartSession(r.Context(), playerFrom(r), req.GameType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: start})
}

// SubmitScore handles score submission
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var submission domain.ScoreSubmission
	if err := decodeBody(w, r, &submission); err != nil {
		h.rejectBody(w, r, err)
		return
	}
	submission.PlayerID = playerFrom(r)

	result, err := h.scores.SubmitScore(r.Context(), submission)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, result)
}

// RegisterPlayer records the caller's profile
func (h *Handler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req RegisterPlayerRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.rejectBody(w, r, err)
		return
	}

	player, err := h.players.RegisterPlayer(r.Context(), playerFrom(r), req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, player)
}

// GetLeaderboard returns one page of a ranking window
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	window, err := domain.ParseWindow(chi.URLParam(r, "window"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, ok := queryInt(r, "page", 1)
	if !ok {
		h.badRequest(w, r, "page must be an integer")
		return
	}
	pageSize, ok := queryInt(r, "pageSize", 0)
	if !ok {
		h.badRequest(w, r, "pageSize must be an integer")
		return
	}

	entries, err := h.leaderboards.GetRanked(r.Context(), window, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, entries)
}

// GetSnapshot returns a persisted snapshot for a date
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse(time.DateOnly, chi.URLParam(r, "date"))
	if err != nil {
		h.badRequest(w, r, "date must be YYYY-MM-DD")
		return
	}
	windowName := r.URL.Query().Get("window")
	if windowName == "" {
		windowName = string(domain.WindowGlobal)
	}
	window, err := domain.ParseWindow(windowName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	snapshot, err := h.leaderboards.GetSnapshot(r.Context(), date, window)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeSuccess(w, snapshot)
}

// GetMyRank returns the caller's live all-time rank
func (h *Handler) GetMyRank(w http.ResponseWriter, r *http.Request) {
	h.writeRank(w, r, playerFrom(r))
}

// GetPlayerRank returns a player's live all-time rank
func (h *Handler) GetPlayerRank(w http.ResponseWriter, r *http.Request) {
	h.writeRank(w, r, chi.URLParam(r, "playerID"))
}

func (h *Handler) writeRank(w http.ResponseWriter, r *http.Request, playerID string) {
	rank, err := h.leaderboards.GetRank(r.Context(), playerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, rank)
}

// GetMyStats returns the caller's aggregated progression
func (h *Handler) GetMyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.players.GetPlayerStats(r.Context(), playerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, stats)
}

// GetMyRecentGames returns the caller's newest score records
func (h *Handler) GetMyRecentGames(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", service.DefaultRecentGames)
	if !ok {
		h.badRequest(w, r, "limit must be an integer")
		return
	}

	games, err := h.players.GetRecentGames(r.Context(), playerFrom(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, games)
}
