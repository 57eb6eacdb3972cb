package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sellzap/sellzap/internal/transport/cloudapi"
	"github.com/sellzap/sellzap/pkg/logging"
)

// maxWebhookBody caps inbound webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandler terminates Cloud API webhook traffic. The provider retries
// and eventually disables webhooks that respond slowly or with errors, so
// Receive always acks 200 immediately; processing happens downstream.
type WebhookHandler struct {
	adapter *cloudapi.WebhookAdapter
	logger  *logging.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(adapter *cloudapi.WebhookAdapter, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{adapter: adapter, logger: logger}
}

// Verify handles the provider's GET subscription handshake: echo the
// challenge when the verify token matches the bot's webhook token.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	botID, err := uuid.Parse(chi.URLParam(r, "botID"))
	if err != nil {
		http.Error(w, "invalid bot ID", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	if token == "" {
		token = q.Get("token")
	}
	challenge, ok := h.adapter.Verify(r.Context(), botID, token, q.Get("hub.challenge"))
	if !ok {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// Receive accepts an event batch. It always responds 200: invalid payloads
// are logged and dropped rather than bounced back to the provider.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	botID, err := uuid.Parse(chi.URLParam(r, "botID"))
	if err != nil {
		// Still ack; retries would never succeed.
		w.WriteHeader(http.StatusOK)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("webhook body read failed", "bot_id", botID, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	token := r.URL.Query().Get("token")
	h.adapter.Receive(r.Context(), botID, token, payload)
	w.WriteHeader(http.StatusOK)
}
