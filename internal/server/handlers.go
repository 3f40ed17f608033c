package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kifulabs/shinpan/internal/agent"
	"github.com/kifulabs/shinpan/internal/archive"
	"github.com/kifulabs/shinpan/internal/clock"
	"github.com/kifulabs/shinpan/internal/model"
	"github.com/kifulabs/shinpan/internal/store"
)

// MatchLauncher starts and resets orchestrated matches. Implemented by the
// application root, which enforces the one-orchestrator-per-match rule.
type MatchLauncher interface {
	// Launch commits a fresh record and starts playing it in the
	// background. It fails if an orchestrator is already running for
	// matchID or an agent ID is unknown.
	Launch(ctx context.Context, matchID, whiteID, blackID string) (*model.MatchState, error)

	// Reset cancels any running orchestrator for matchID and replaces the
	// record with a fresh empty state.
	Reset(ctx context.Context, matchID string) (*model.MatchState, error)
}

// ErrMatchRunning is returned by Launch when the match already has an
// orchestrator.
var ErrMatchRunning = errors.New("server: match already running")

// HandlersDeps holds dependencies for creating Handlers.
// Optional fields (nil-safe): Launcher, Archive, Live, Broker.
type HandlersDeps struct {
	Store    store.Store
	Agents   *agent.Registry
	Launcher MatchLauncher
	Archive  *archive.Archive
	Live     *clock.Live
	Broker   *Broker
	Logger   *slog.Logger
	Version  string

	MaxRequestBodyBytes int64
}

// Handlers implements the observer API endpoints.
type Handlers struct {
	store     store.Store
	agents    *agent.Registry
	launcher  MatchLauncher
	archive   *archive.Archive
	live      *clock.Live
	broker    *Broker
	logger    *slog.Logger
	version   string
	maxBody   int64
	startedAt time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		store:     deps.Store,
		agents:    deps.Agents,
		launcher:  deps.Launcher,
		archive:   deps.Archive,
		live:      deps.Live,
		broker:    deps.Broker,
		logger:    deps.Logger,
		version:   deps.Version,
		maxBody:   deps.MaxRequestBodyBytes,
		startedAt: time.Now(),
	}
}

// HandleCreateMatch handles POST /v1/matches.
func (h *Handlers) HandleCreateMatch(w http.ResponseWriter, r *http.Request) {
	if h.launcher == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "match launching not available")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req model.CreateMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.WhiteAgent == "" || req.BlackAgent == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "white_agent and black_agent are required")
		return
	}
	if req.MatchID == "" {
		req.MatchID = uuid.New().String()
	}

	state, err := h.launcher.Launch(r.Context(), req.MatchID, req.WhiteAgent, req.BlackAgent)
	if err != nil {
		switch {
		case errors.Is(err, ErrMatchRunning):
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "match is already running")
		case errors.Is(err, agent.ErrUnknownMover):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		default:
			h.logger.Error("launch match", "match_id", req.MatchID, "error", err)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to start match")
		}
		return
	}
	writeJSON(w, r, http.StatusAccepted, h.viewOf(state))
}

// HandleGetMatch handles GET /v1/matches/{match_id}. Remaining times are
// advanced to the moment of the read from the committed record alone.
func (h *Handlers) HandleGetMatch(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("match_id")
	state, err := h.store.Read(r.Context(), matchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no such match")
			return
		}
		h.logger.Error("read match", "match_id", matchID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to read match")
		return
	}
	writeJSON(w, r, http.StatusOK, h.viewOf(state))
}

// HandleTick handles GET /v1/matches/{match_id}/tick: the countdown only,
// cheap enough to poll every second. The local display cache answers when
// it is running; otherwise the committed record does, via advance-on-read.
func (h *Handlers) HandleTick(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("match_id")
	state, err := h.store.Read(r.Context(), matchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no such match")
			return
		}
		h.logger.Error("read match", "match_id", matchID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to read match")
		return
	}

	tick := model.TickView{
		MatchID:    state.MatchID,
		SideToMove: state.SideToMove(),
		IsGameOver: state.IsGameOver,
	}
	if h.live != nil && h.live.Ticking() && !state.IsGameOver {
		white, black := h.live.Now()
		tick.WhiteNow = &white
		tick.BlackNow = &black
	} else {
		tick.WhiteNow, tick.BlackNow = clock.RemainingNow(state, time.Now())
	}
	writeJSON(w, r, http.StatusOK, tick)
}

// HandleCancelMatch handles POST /v1/matches/{match_id}/cancel. Idempotent;
// the running orchestrator honors the marker at its next turn boundary.
func (h *Handlers) HandleCancelMatch(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("match_id")
	if err := h.store.RequestCancel(r.Context(), matchID); err != nil {
		h.logger.Error("request cancel", "match_id", matchID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to request cancellation")
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]any{"match_id": matchID, "cancel_requested": true})
}

// HandleResetMatch handles POST /v1/matches/{match_id}/reset.
func (h *Handlers) HandleResetMatch(w http.ResponseWriter, r *http.Request) {
	if h.launcher == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "match launching not available")
		return
	}
	matchID := r.PathValue("match_id")
	state, err := h.launcher.Reset(r.Context(), matchID)
	if err != nil {
		h.logger.Error("reset match", "match_id", matchID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to reset match")
		return
	}
	writeJSON(w, r, http.StatusOK, h.viewOf(state))
}

// HandleListAgents handles GET /v1/agents.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.agents.List())
}

// HandleArchiveResults handles GET /v1/archive/results.
func (h *Handlers) HandleArchiveResults(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "archive not configured")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := h.archive.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list archive", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list results")
		return
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// HandleEvents handles GET /v1/events (SSE).
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "event stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Idle SSE connections must outlive the server's WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	storeStatus := "ok"
	httpStatus := http.StatusOK

	// A probe read exercises the backend; ErrNotFound means it answered.
	if _, err := h.store.Read(r.Context(), "health-probe"); err != nil && !errors.Is(err, store.ErrNotFound) {
		status = "unhealthy"
		storeStatus = "unreachable"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:  status,
		Version: h.version,
		Store:   storeStatus,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *Handlers) viewOf(state *model.MatchState) model.MatchView {
	white, black := clock.RemainingNow(state, time.Now())
	return model.MatchView{
		MatchState: state,
		SideToMove: state.SideToMove(),
		WhiteNow:   white,
		BlackNow:   black,
	}
}
