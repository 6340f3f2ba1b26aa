package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
	"github.com/Vovarama1992/chatcrm-relay/internal/relay"
)

const (
	secretHeader = "X-Telegram-Bot-Api-Secret-Token"
	apiKeyHeader = "X-Api-Key"

	defaultHistory = 50
	maxHistory     = 500
)

// CallbackAnswerer acknowledges inline button presses.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID string) error
}

// HandlerConfig carries the HTTP-facing settings.
type HandlerConfig struct {
	WebhookSecret string
	APIKey        string
	// DefaultGroupID receives /api/send-to-group posts that name no group.
	DefaultGroupID string
}

type Handler struct {
	svc    relay.Service
	bot    CallbackAnswerer
	secret string
	apiKey string
	group  string
	log    *logging.Logger
}

func NewHandler(svc relay.Service, bot CallbackAnswerer, cfg HandlerConfig, log *logging.Logger) *Handler {
	return &Handler{
		svc:    svc,
		bot:    bot,
		secret: cfg.WebhookSecret,
		apiKey: cfg.APIKey,
		group:  cfg.DefaultGroupID,
		log:    log.Sub("http"),
	}
}

// HandleWebhook receives Bot API updates.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && !equal(r.Header.Get(secretHeader), h.secret) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var u Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	// Telegram may hang up before routing finishes; the work must not be cut short.
	ctx := context.WithoutCancel(r.Context())

	if u.CallbackQuery != nil && h.bot != nil {
		if err := h.bot.AnswerCallback(ctx, u.CallbackQuery.ID); err != nil {
			h.log.Debug().Err(err).Msg("answering callback failed")
		}
	}

	evt, ok := Normalize(u)
	if !ok {
		h.log.Debug().Int64("updateId", u.UpdateID).Msg("ignoring update")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.svc.HandleIncoming(ctx, evt); err != nil {
		h.log.Error().Err(err).Int64("updateId", u.UpdateID).Msg("processing update failed")
		http.Error(w, "processing error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// SendToUser relays an agent message from the CRM to one chat.
func (h *Handler) SendToUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ChatID        json.Number `json:"chat_id"`
		Message       string      `json:"message"`
		AttachmentURL string      `json:"attachment_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	chatID := strings.TrimSpace(payload.ChatID.String())
	if chatID == "" || strings.TrimSpace(payload.Message) == "" {
		writeError(w, http.StatusBadRequest, "Missing chat_id or message")
		return
	}

	msg := relay.Outgoing{Text: payload.Message, AttachmentURL: strings.TrimSpace(payload.AttachmentURL)}
	if err := h.svc.SendToUser(r.Context(), chatID, msg); err != nil {
		h.log.Error().Err(err).Str("chatId", chatID).Msg("send to user failed")
		writeError(w, http.StatusBadGateway, "Failed to send message to Telegram user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Message sent to Telegram user",
		"chat_id": chatID,
	})
}

// SendToGroup posts to a group chat, falling back to the configured group.
func (h *Handler) SendToGroup(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		GroupID       json.Number `json:"group_id"`
		Message       string      `json:"message"`
		AttachmentURL string      `json:"attachment_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		writeError(w, http.StatusBadRequest, "Missing message")
		return
	}
	groupID := strings.TrimSpace(payload.GroupID.String())
	if groupID == "" {
		groupID = h.group
	}
	if groupID == "" {
		writeError(w, http.StatusBadRequest, "No group ID configured")
		return
	}

	msg := relay.Outgoing{Text: payload.Message, AttachmentURL: strings.TrimSpace(payload.AttachmentURL)}
	if err := h.svc.SendToGroup(r.Context(), groupID, msg); err != nil {
		h.log.Error().Err(err).Str("groupId", groupID).Msg("send to group failed")
		writeError(w, http.StatusBadGateway, "Failed to send message to Telegram group")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"message":  "Message sent to Telegram group",
		"group_id": groupID,
	})
}

// SendToAll broadcasts to every linked record.
func (h *Handler) SendToAll(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message       string `json:"message"`
		AttachmentURL string `json:"attachment_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		writeError(w, http.StatusBadRequest, "Missing message")
		return
	}

	res, err := h.svc.Broadcast(r.Context(), relay.Outgoing{
		Text:          payload.Message,
		AttachmentURL: strings.TrimSpace(payload.AttachmentURL),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("broadcast failed")
		writeError(w, http.StatusBadGateway, "CRM query failed")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		relay.BroadcastResult
	}{Status: "success", BroadcastResult: res})
}

// Transcript returns the newest messages exchanged with a chat.
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	limit := defaultHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistory)
	}

	entries, err := h.svc.History(r.Context(), chatID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("chatId", chatID).Msg("loading transcript failed")
		writeError(w, http.StatusInternalServerError, "transcript unavailable")
		return
	}
	if entries == nil {
		entries = []relay.TranscriptEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "messages": entries})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "chatcrm-relay",
	})
}

// requireAPIKey guards the relay API when a key is configured.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey != "" && !equal(r.Header.Get(apiKeyHeader), h.apiKey) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
