package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/chat-lottery/backend/telemetry"
)

// HandleProfiles returns the engagement leaderboard ordered by participation count.
func (h *Handlers) HandleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	if userID := r.URL.Query().Get("user_id"); userID != "" {
		profile, err := h.store.GetProfile(r.Context(), userID)
		if err != nil {
			telemetry.LoggerWithCorr(r.Context()).Error("profile lookup failed", slog.String("user_id", userID), slog.Any("err", err))
			http.Error(w, "profile lookup failed", http.StatusInternalServerError)
			return
		}
		if profile == nil {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, profile)
		return
	}

	profiles, err := h.store.TopProfiles(r.Context(), limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("leaderboard query failed", slog.Any("err", err))
		http.Error(w, "leaderboard query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

// HandleHistory returns past draw results, newest first, optionally scoped to
// one stream.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	videoID := r.URL.Query().Get("video_id")

	entries, err := h.store.ListHistory(r.Context(), videoID, limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("history query failed", slog.Any("err", err))
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history": entries,
		"count":   len(entries),
	})
}
