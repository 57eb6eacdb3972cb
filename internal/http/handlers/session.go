package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sellzap/sellzap/internal/bots"
	"github.com/sellzap/sellzap/internal/transport/wasession"
	"github.com/sellzap/sellzap/pkg/logging"
)

// SessionHandler exposes pairing and lifecycle control for session-transport
// bots. The events endpoint streams state changes over a websocket so the
// dashboard can render the QR code and flip to "connected" live.
type SessionHandler struct {
	registry *wasession.Registry
	repo     *bots.Repository
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewSessionHandler creates a session control handler.
func NewSessionHandler(registry *wasession.Registry, repo *bots.Repository, logger *logging.Logger) *SessionHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionHandler{
		registry: registry,
		repo:     repo,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The owner JWT (Authorization header, or access_token query
			// parameter for browser dials) already gates the route.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Connect starts (or resumes) the bot's session. Safe to call repeatedly;
// an already-running session is left alone.
func (h *SessionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	bot, ok := ownedBot(w, r, h.repo, h.logger)
	if !ok {
		return
	}
	if bot.TransportKind != bots.TransportSession {
		writeError(w, http.StatusConflict, "bot does not use the session transport")
		return
	}
	if err := h.registry.Connect(r.Context(), bot.ID); err != nil {
		h.logger.Error("session connect failed", "bot_id", bot.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not start session")
		return
	}
	writeJSON(w, http.StatusAccepted, h.registry.Status(bot.ID))
}

// Status returns the session's current state, including the QR data URI
// while pairing is pending.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	bot, ok := ownedBot(w, r, h.repo, h.logger)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.registry.Status(bot.ID))
}

// Disconnect logs the session out and discards its stored credentials.
// The next Connect starts a fresh pairing.
func (h *SessionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	bot, ok := ownedBot(w, r, h.repo, h.logger)
	if !ok {
		return
	}
	if err := h.registry.Disconnect(r.Context(), bot.ID); err != nil {
		h.logger.Error("session disconnect failed", "bot_id", bot.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not stop session")
		return
	}
	writeJSON(w, http.StatusOK, h.registry.Status(bot.ID))
}

// Events upgrades to a websocket and streams status snapshots, starting
// with the current one, until the client goes away or the session ends.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	bot, ok := ownedBot(w, r, h.repo, h.logger)
	if !ok {
		return
	}

	updates, cancel := h.registry.Watch(bot.ID)
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "bot_id", bot.ID, "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close handshakes and pings are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case status, open := <-updates:
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(status); err != nil {
				return
			}
		}
	}
}
