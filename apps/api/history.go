package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/mahaj/dupahar-sync/pkg/auth"
	"github.com/mahaj/dupahar-sync/pkg/convid"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/realtime"
)

const maxHistoryLimit = 500

var validate = validator.New()

func writeJSON(w http.ResponseWriter, log *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to encode response", "error", err)
	}
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

type HistoryHandler struct {
	messages realtime.Messages
	log      *slog.Logger
}

func NewHistoryHandler(messages realtime.Messages, log *slog.Logger) *HistoryHandler {
	return &HistoryHandler{messages: messages, log: log}
}

// ServeHTTP returns the messages of a conversation the caller takes part in,
// optionally bounded by from/to (unix ms, inclusive). limit keeps the latest ones.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.FromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conversationID := r.URL.Query().Get("conversation_id")
	if _, err := convid.Parse(conversationID); err != nil {
		http.Error(w, "Invalid conversation_id", http.StatusBadRequest)
		return
	}
	if _, ok := convid.Peer(conversationID, uid); !ok {
		http.Error(w, "Not a participant of this conversation", http.StatusForbidden)
		return
	}

	from, errFrom := queryInt(r, "from")
	to, errTo := queryInt(r, "to")
	limit, errLimit := queryInt(r, "limit")
	if err := errors.Join(errFrom, errTo, errLimit); err != nil || from < 0 || to < 0 || limit < 0 {
		http.Error(w, "Invalid range", http.StatusBadRequest)
		return
	}
	if limit == 0 || limit > maxHistoryLimit {
		limit = realtime.PageSize
	}

	messages, err := h.messages.Between(r.Context(), conversationID, from, to, int(limit))
	if err != nil {
		h.log.Warn("Failed to read history", "conversation_id", conversationID, "error", err)
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, h.log, messages)
}

type LoginRequest struct {
	UserID string `json:"user_id" validate:"required,max=128,excludes=_,excludes=/"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// LoginHandler issues a session token. Identity proofing is out of scope:
// any well formed uid is accepted.
func LoginHandler(issuer *auth.Issuer, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "Invalid user_id", http.StatusBadRequest)
			return
		}

		token, err := issuer.GenerateToken(req.UserID)
		if err != nil {
			log.Error("Failed to generate token", "error", err)
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}
		writeJSON(w, log, LoginResponse{Token: token})
	}
}

func AuthMiddleware(issuer *auth.Issuer, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			claims, err := issuer.ValidateToken(auth.BearerToken(tokenString))
			if err != nil {
				log.Debug("Rejected token", "error", err)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}
