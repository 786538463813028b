package main

import (
	"log/slog"
	"net/http"

	"github.com/mahaj/dupahar-sync/pkg/auth"
	"github.com/mahaj/dupahar-sync/pkg/convlist"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/profile"
	"github.com/mahaj/dupahar-sync/pkg/realtime"
	"github.com/samber/lo"
)

// ConversationsHandler returns the caller's conversation list, most recent
// first, with display names filled from profiles when the entry has none.
func ConversationsHandler(index realtime.Index, profiles profile.Lookup, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := auth.FromContext(r.Context())
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		entries, err := index.Entries(r.Context(), uid)
		if err != nil {
			log.Warn("Failed to read conversations", "user_id", uid, "error", err)
			http.Error(w, "Failed to retrieve conversations", http.StatusInternalServerError)
			return
		}
		for i, e := range entries {
			if e.Other.HasDisplay() {
				continue
			}
			if p, err := profiles.GetProfile(r.Context(), e.PeerID); err == nil {
				p.UID = e.PeerID
				peer := p.AsPeer()
				if e.Other != nil {
					peer.Typing = e.Other.Typing
				}
				entries[i].Other = peer
			}
		}
		convlist.Sort(entries)

		items := lo.Map(entries, func(e model.IndexEntry, _ int) model.ConversationItem {
			item := model.ConversationItem{
				PeerID:      e.PeerID,
				ChatID:      e.ChatID,
				Name:        convlist.DisplayName(e),
				LastMessage: e.LastMessage,
				UpdatedAt:   e.UpdatedAt,
			}
			if e.Other != nil {
				item.PhotoURL = e.Other.PhotoURL
				item.Typing = e.Other.Typing
			}
			return item
		})
		writeJSON(w, log, items)
	}
}
