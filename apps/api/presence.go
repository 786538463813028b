package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/profile"
	"github.com/mahaj/dupahar-sync/pkg/realtime"
)

type PresenceHandler struct {
	presence realtime.Presence
	log      *slog.Logger
}

func NewPresenceHandler(presence realtime.Presence, log *slog.Logger) *PresenceHandler {
	return &PresenceHandler{presence: presence, log: log}
}

// ServeHTTP reports /presence?user_id=X. A user never seen is offline.
func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("user_id")
	if uid == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	p, err := h.presence.Get(r.Context(), uid)
	if err != nil {
		h.log.Warn("Failed to fetch presence", "user_id", uid, "error", err)
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	if p == nil {
		p = &model.Presence{State: model.Offline}
	}
	writeJSON(w, h.log, p)
}

// ProfileHandler serves /profile?user_id=X from the profile lookup.
func ProfileHandler(profiles profile.Lookup, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := r.URL.Query().Get("user_id")
		if uid == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		p, err := profiles.GetProfile(r.Context(), uid)
		switch {
		case errors.Is(err, profile.ErrNotFound):
			http.Error(w, "Profile not found", http.StatusNotFound)
			return
		case err != nil:
			log.Warn("Failed to fetch profile", "user_id", uid, "error", err)
			http.Error(w, "Failed to fetch profile", http.StatusInternalServerError)
			return
		}
		writeJSON(w, log, p)
	}
}
