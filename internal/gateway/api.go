// ABOUTME: HTTP API handlers for fleet observation and operator controls
// ABOUTME: JSON endpoints plus a websocket stream of per-cycle fleet frames

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/cobot-gateway/internal/feed"
	"github.com/2389/cobot-gateway/internal/fleet"
	"github.com/2389/cobot-gateway/internal/registry"
)

// wsWriteTimeout bounds each frame written to an observer.
const wsWriteTimeout = 10 * time.Second

// SpeedLimitRequest is the request body for POST /api/speed-limit.
type SpeedLimitRequest struct {
	Value *float64 `json:"value"`
}

// SpeedLimitResponse reports the fleet speed limit and, after a change,
// how many robots the new limit was queued for.
type SpeedLimitResponse struct {
	Value     float64 `json:"value"`
	Delivered int     `json:"delivered"`
	Changed   bool    `json:"changed"`
}

// EmergencyStopResponse reports the latch state after an e-stop or resume call.
type EmergencyStopResponse struct {
	EStop   bool `json:"estop"`
	Changed bool `json:"changed"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	fleet.Status
	Held      []string `json:"held"`
	Observers int      `json:"observers"`
}

// handleFleet returns the latest fleet frame.
// GET /api/fleet
func (g *Gateway) handleFleet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	frame, ok := g.feed.Latest()
	if !ok {
		// The monitor has not completed a cycle yet.
		held := make(map[string]bool)
		for _, id := range g.monitor.Held() {
			held[id] = true
		}
		frame = feed.NewFrame(g.registry.Snapshot(), held, nil, nil, g.fleet.Stopped())
	}

	g.sendJSON(w, http.StatusOK, frame)
}

// handleListAgents returns every live robot connection.
// GET /api/agents
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, g.agents.ListAgents())
}

// handleGetAgent returns one robot's registry entry.
// GET /api/agents/{id}
func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/agents/"))
	if err != nil || id == "" {
		g.sendJSONError(w, http.StatusBadRequest, "robot id required")
		return
	}

	entry, ok := g.registry.Get(id)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "robot not found")
		return
	}
	g.sendJSON(w, http.StatusOK, entry)
}

// handleEvents returns the most recent safety events, oldest first.
// GET /api/events
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	events := g.registry.RecentEvents()
	if events == nil {
		events = []registry.Event{}
	}
	g.sendJSON(w, http.StatusOK, events)
}

// handleStatus returns the fleet controls and the monitor's held set.
// GET /api/status
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, StatusResponse{
		Status:    g.fleet.Status(),
		Held:      g.monitor.Held(),
		Observers: g.feed.Subscribers(),
	})
}

// handleSpeedLimit reads or changes the fleet speed limit.
// GET /api/speed-limit
// POST /api/speed-limit {"value": 2.0}
func (g *Gateway) handleSpeedLimit(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.sendJSON(w, http.StatusOK, SpeedLimitResponse{Value: g.fleet.SpeedLimit()})
	case http.MethodPost:
		var req SpeedLimitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Value == nil {
			g.sendJSONError(w, http.StatusBadRequest, "value is required")
			return
		}

		before := g.fleet.SpeedLimit()
		delivered, err := g.fleet.SetSpeedLimit(*req.Value)
		if err != nil {
			if errors.Is(err, fleet.ErrInvalidSpeedLimit) {
				g.sendJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			g.logger.Error("failed to set speed limit", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		g.sendJSON(w, http.StatusOK, SpeedLimitResponse{
			Value:     *req.Value,
			Delivered: delivered,
			Changed:   before != *req.Value,
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleEmergencyStop engages the fleet-wide stop latch.
// POST /api/estop
func (g *Gateway) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	changed := g.fleet.EmergencyStop()
	g.sendJSON(w, http.StatusOK, EmergencyStopResponse{EStop: true, Changed: changed})
}

// handleResume releases the fleet-wide stop latch.
// POST /api/resume
func (g *Gateway) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	changed := g.fleet.ReleaseAll()
	g.sendJSON(w, http.StatusOK, EmergencyStopResponse{EStop: false, Changed: changed})
}

// handleFleetStream streams one JSON frame per safety cycle over a websocket.
// GET /ws/fleet
func (g *Gateway) handleFleetStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames, subID := g.feed.Subscribe(ctx)
	logger := g.logger.With("observer", subID, "remote_addr", r.RemoteAddr)
	logger.Info("observer connected")
	defer logger.Info("observer disconnected")

	// Observers never send anything we act on; reading only detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "gateway shutting down")
				_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				logger.Debug("observer write failed", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// sameOrigin accepts requests without an Origin header and those whose
// origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
