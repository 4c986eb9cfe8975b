package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/chat-lottery/backend/lottery"
	"github.com/onnwee/chat-lottery/backend/realtime"
	"github.com/onnwee/chat-lottery/backend/relay"
	"github.com/onnwee/chat-lottery/backend/telemetry"
)

// HandleMonitorStart begins chat monitoring for a stream and keyword.
// Starting while already monitoring tears down the previous session first.
func (h *Handlers) HandleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		VideoID         string `json:"video_id"`
		Keyword         string `json:"keyword"`
		IntervalSeconds int    `json:"interval_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if body.VideoID == "" || body.Keyword == "" {
		http.Error(w, "video_id and keyword are required", http.StatusBadRequest)
		return
	}

	interval := time.Duration(body.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Duration(getEnvInt("LOTTERY_POLL_INTERVAL_SEC", 5)) * time.Second
	}

	// The session loop must outlive this request.
	if err := h.session.Start(h.ctx, body.VideoID, body.Keyword, interval); err != nil {
		cls := lottery.Classify(err)
		status := http.StatusBadGateway
		switch cls {
		case lottery.ErrorClassStreamNotFound:
			status = http.StatusNotFound
		case lottery.ErrorClassChatDisabled:
			status = http.StatusConflict
		case lottery.ErrorClassRateLimited:
			status = http.StatusTooManyRequests
		}
		telemetry.LoggerWithCorr(r.Context()).Warn("monitor start failed",
			slog.String("video_id", body.VideoID),
			slog.String("error_class", string(cls)),
			slog.Any("err", err))
		writeJSON(w, status, map[string]string{"error": string(cls)})
		return
	}
	writeJSON(w, http.StatusOK, h.session.Status())
}

// HandleMonitorStop halts chat ingestion. Registry and persisted state survive.
func (h *Handlers) HandleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.session.Stop()
	writeJSON(w, http.StatusOK, h.session.Status())
}

// HandleStatus reports the session lifecycle, last error class, and counts.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"session":          h.session.Status(),
		"relay_state":      h.relayState(),
		"realtime_clients": h.clientCount(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) relayState() string {
	if h.relay == nil {
		return "disabled"
	}
	if h.relay.Unavailable() {
		return "unavailable"
	}
	return string(h.relay.State())
}

func (h *Handlers) clientCount() int {
	if h.hub == nil {
		return 0
	}
	return h.hub.ClientCount()
}

// HandleParticipants returns the current registry snapshot in join order.
func (h *Handlers) HandleParticipants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	participants := h.session.Participants()
	writeJSON(w, http.StatusOK, map[string]any{
		"participants": participants,
		"count":        len(participants),
	})
}

// HandleDraw selects a winner and commits the draw atomically.
func (h *Handlers) HandleDraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Mode            string `json:"mode"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if r.Body != nil {
		// An empty body means a default instant draw.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Mode == "" {
		body.Mode = "instant"
	}

	result, err := h.session.Draw(r.Context(), body.Mode, body.DurationMinutes)
	if err != nil {
		if errors.Is(err, lottery.ErrNoParticipants) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": string(lottery.ErrorClassNoParticipants)})
			return
		}
		telemetry.LoggerWithCorr(r.Context()).Error("draw failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": string(lottery.Classify(err))})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleAnnounce pushes a countdown announcement to chat and overlay clients.
func (h *Handlers) HandleAnnounce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Minutes int `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Minutes <= 0 {
		http.Error(w, "minutes is required and must be positive", http.StatusBadRequest)
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(realtime.FeatureLottery, map[string]any{
			"type":    "lottery_countdown",
			"minutes": body.Minutes,
		})
	}
	if h.relay != nil {
		err := h.relay.Send(r.Context(), "", relay.KindCountdown, relay.Vars{
			Minutes: strconv.Itoa(body.Minutes),
		})
		if err != nil {
			telemetry.LoggerWithCorr(r.Context()).Warn("countdown relay send failed", slog.Any("err", err))
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "broadcast_only", "relay_error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "announced"})
}

// HandleAdminRelayStart explicitly restarts the responder relay. This is the
// only way to resume after the reconnect budget has been exhausted.
func (h *Handlers) HandleAdminRelayStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.relay == nil {
		http.Error(w, "relay not configured", http.StatusConflict)
		return
	}
	h.relay.Start(h.ctx)
	writeJSON(w, http.StatusOK, map[string]string{"relay_state": h.relayState()})
}
