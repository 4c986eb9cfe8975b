package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/chat-lottery/backend/db"
	"github.com/onnwee/chat-lottery/backend/relay"
	"github.com/onnwee/chat-lottery/backend/telemetry"
)

// templateKinds are the notification templates an operator may override.
var templateKinds = map[string]relay.Kind{
	"join":      relay.KindJoin,
	"duplicate": relay.KindDuplicate,
	"winner":    relay.KindWinner,
	"countdown": relay.KindCountdown,
}

const templateKVPrefix = "tmpl:"

// HandleAdminTemplates handles GET and PUT requests for notification template
// overrides. Overrides persist in kv so they survive restarts; an empty value
// removes the override and restores the default.
func (h *Handlers) HandleAdminTemplates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		out := map[string]string{}
		for name := range templateKinds {
			v, err := db.GetKV(r.Context(), h.db, templateKVPrefix+name)
			if err != nil {
				telemetry.LoggerWithCorr(r.Context()).Error("template read failed", slog.String("kind", name), slog.Any("err", err))
				http.Error(w, "template read failed", http.StatusInternalServerError)
				return
			}
			if v != "" {
				out[name] = v
			}
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPut:
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		for name, tmpl := range body {
			kind, ok := templateKinds[name]
			if !ok {
				continue
			}
			tmpl = strings.TrimSpace(tmpl)
			if err := db.SetKV(r.Context(), h.db, templateKVPrefix+name, tmpl); err != nil {
				telemetry.LoggerWithCorr(r.Context()).Error("template update failed", slog.String("kind", name), slog.Any("err", err))
				http.Error(w, "template update failed", http.StatusInternalServerError)
				return
			}
			if h.relay != nil {
				h.relay.SetTemplate(kind, tmpl)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// LoadTemplateOverrides applies persisted template overrides to the relay at
// startup.
func LoadTemplateOverrides(h *Handlers) {
	if h.relay == nil {
		return
	}
	for name, kind := range templateKinds {
		v, err := db.GetKV(h.ctx, h.db, templateKVPrefix+name)
		if err != nil {
			slog.Warn("template override load failed", slog.String("kind", name), slog.Any("err", err))
			continue
		}
		if v != "" {
			h.relay.SetTemplate(kind, v)
		}
	}
}
