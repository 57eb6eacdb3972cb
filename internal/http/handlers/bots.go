package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sellzap/sellzap/internal/bots"
	"github.com/sellzap/sellzap/internal/http/middleware"
	"github.com/sellzap/sellzap/pkg/logging"
)

// BotsHandler exposes owner-facing bot management endpoints. All routes
// require an owner JWT; bots belonging to other owners read as 404.
type BotsHandler struct {
	repo    *bots.Repository
	secrets *bots.SecretStore
	logger  *logging.Logger
}

// NewBotsHandler creates a bot management handler.
func NewBotsHandler(repo *bots.Repository, secrets *bots.SecretStore, logger *logging.Logger) *BotsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BotsHandler{repo: repo, secrets: secrets, logger: logger}
}

// BotSecretsRequest carries credentials to encrypt at rest. Values are
// write-only: they never appear in any response.
type BotSecretsRequest struct {
	AIKey         string `json:"ai_key"`
	ProviderToken string `json:"provider_token"`
	PhoneNumberID string `json:"phone_number_id"`
}

// CreateBotRequest is the payload for registering a new bot.
type CreateBotRequest struct {
	Name          string `json:"name"`
	TransportKind string `json:"transport_kind"`

	SegmentLimits []int `json:"segment_limits,omitempty"`

	FollowUp1DelayMinutes int    `json:"followup1_delay_minutes"`
	FollowUp2DelayMinutes int    `json:"followup2_delay_minutes"`
	FollowUp1Text         string `json:"followup1_text"`
	FollowUp2Text         string `json:"followup2_text"`

	SystemPrompt string `json:"system_prompt"`
	ReportPhone  string `json:"report_phone"`
	OwnerEmail   string `json:"owner_email"`

	Secrets *BotSecretsRequest `json:"secrets,omitempty"`
}

// BotResponse is the owner-visible view of a bot. Secrets are omitted.
type BotResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	TransportKind string `json:"transport_kind"`
	Status        string `json:"status"`
	WebhookToken  string `json:"webhook_token,omitempty"`

	SegmentLimits [3]int `json:"segment_limits"`

	FollowUp1DelayMinutes int    `json:"followup1_delay_minutes"`
	FollowUp2DelayMinutes int    `json:"followup2_delay_minutes"`
	FollowUp1Text         string `json:"followup1_text"`
	FollowUp2Text         string `json:"followup2_text"`

	SystemPrompt string `json:"system_prompt"`
	ReportPhone  string `json:"report_phone"`
	OwnerEmail   string `json:"owner_email"`

	Paired    bool      `json:"paired"`
	CreatedAt time.Time `json:"created_at"`
}

func botResponse(b *bots.Bot) BotResponse {
	return BotResponse{
		ID:                    b.ID.String(),
		Name:                  b.Name,
		TransportKind:         b.TransportKind,
		Status:                b.Status,
		WebhookToken:          b.WebhookToken,
		SegmentLimits:         b.SegmentLimits,
		FollowUp1DelayMinutes: int(b.FollowUp1Delay / time.Minute),
		FollowUp2DelayMinutes: int(b.FollowUp2Delay / time.Minute),
		FollowUp1Text:         b.FollowUp1Text,
		FollowUp2Text:         b.FollowUp2Text,
		SystemPrompt:          b.SystemPrompt,
		ReportPhone:           b.ReportPhone,
		OwnerEmail:            b.OwnerEmail,
		Paired:                b.SessionJID != "",
		CreatedAt:             b.CreatedAt,
	}
}

// defaultSegmentLimits applies when a bot is created without explicit caps.
var defaultSegmentLimits = [3]int{300, 300, 300}

// Create registers a new bot for the authenticated owner.
func (h *BotsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.OwnerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing owner identity")
		return
	}

	var req CreateBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	switch req.TransportKind {
	case bots.TransportCloud, bots.TransportSession:
	default:
		writeError(w, http.StatusBadRequest, "transport_kind must be \"cloud\" or \"session\"")
		return
	}

	limits := defaultSegmentLimits
	for i, v := range req.SegmentLimits {
		if i >= len(limits) {
			break
		}
		if v > 0 {
			limits[i] = v
		}
	}

	bot := &bots.Bot{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Name:           req.Name,
		TransportKind:  req.TransportKind,
		Status:         bots.StatusActive,
		WebhookToken:   uuid.NewString(),
		SegmentLimits:  limits,
		FollowUp1Delay: time.Duration(req.FollowUp1DelayMinutes) * time.Minute,
		FollowUp2Delay: time.Duration(req.FollowUp2DelayMinutes) * time.Minute,
		FollowUp1Text:  req.FollowUp1Text,
		FollowUp2Text:  req.FollowUp2Text,
		SystemPrompt:   req.SystemPrompt,
		ReportPhone:    req.ReportPhone,
		OwnerEmail:     req.OwnerEmail,
	}

	if err := h.repo.Create(r.Context(), bot); err != nil {
		h.logger.Error("create bot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create bot")
		return
	}

	if req.Secrets != nil {
		err := h.secrets.Put(r.Context(), bot.ID, bots.Secrets{
			AIKey:         req.Secrets.AIKey,
			ProviderToken: req.Secrets.ProviderToken,
			PhoneNumberID: req.Secrets.PhoneNumberID,
		})
		if err != nil {
			h.logger.Error("store bot secrets failed", "bot_id", bot.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "could not store bot credentials")
			return
		}
	}

	writeJSON(w, http.StatusCreated, botResponse(bot))
}

// List returns all bots belonging to the authenticated owner.
func (h *BotsHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.OwnerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing owner identity")
		return
	}

	list, err := h.repo.ListByOwner(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("list bots failed", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list bots")
		return
	}

	out := make([]BotResponse, 0, len(list))
	for i := range list {
		out = append(out, botResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": out})
}

// Get returns one bot owned by the caller.
func (h *BotsHandler) Get(w http.ResponseWriter, r *http.Request) {
	bot, ok := h.ownedBot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, botResponse(bot))
}

// UpdateStatusRequest toggles a bot between ACTIVE and PAUSED.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus pauses or resumes a bot. A paused bot stops replying and
// stops scheduling follow-ups but keeps its pairing and history.
func (h *BotsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	bot, ok := h.ownedBot(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	switch req.Status {
	case bots.StatusActive, bots.StatusPaused:
	default:
		writeError(w, http.StatusBadRequest, "status must be ACTIVE or PAUSED")
		return
	}

	if err := h.repo.UpdateStatus(r.Context(), bot.ID, req.Status); err != nil {
		h.logger.Error("update bot status failed", "bot_id", bot.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not update status")
		return
	}
	bot.Status = req.Status
	writeJSON(w, http.StatusOK, botResponse(bot))
}

// PutSecrets replaces a bot's stored credentials.
func (h *BotsHandler) PutSecrets(w http.ResponseWriter, r *http.Request) {
	bot, ok := h.ownedBot(w, r)
	if !ok {
		return
	}

	var req BotSecretsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := h.secrets.Put(r.Context(), bot.ID, bots.Secrets{
		AIKey:         req.AIKey,
		ProviderToken: req.ProviderToken,
		PhoneNumberID: req.PhoneNumberID,
	})
	if err != nil {
		h.logger.Error("store bot secrets failed", "bot_id", bot.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not store bot credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (h *BotsHandler) ownedBot(w http.ResponseWriter, r *http.Request) (*bots.Bot, bool) {
	return ownedBot(w, r, h.repo, h.logger)
}

// ownedBot resolves the {botID} URL parameter and enforces ownership.
// Bots that don't exist and bots owned by someone else both read as 404.
func ownedBot(w http.ResponseWriter, r *http.Request, repo *bots.Repository, logger *logging.Logger) (*bots.Bot, bool) {
	ownerID, ok := middleware.OwnerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing owner identity")
		return nil, false
	}
	botID, err := uuid.Parse(chi.URLParam(r, "botID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bot ID")
		return nil, false
	}
	bot, err := repo.Get(r.Context(), botID)
	if errors.Is(err, bots.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bot not found")
		return nil, false
	}
	if err != nil {
		logger.Error("load bot failed", "bot_id", botID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load bot")
		return nil, false
	}
	if bot.OwnerID != ownerID {
		writeError(w, http.StatusNotFound, "bot not found")
		return nil, false
	}
	return bot, true
}
