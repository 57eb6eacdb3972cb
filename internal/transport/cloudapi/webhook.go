package cloudapi

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sellzap/sellzap/internal/bots"
	"github.com/sellzap/sellzap/pkg/logging"
)

// BotDirectory resolves bots for token validation.
type BotDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*bots.Bot, error)
}

// InboundFunc receives each normalized inbound message. Implementations must
// return fast; the engine queues the real work.
type InboundFunc func(ctx context.Context, botID uuid.UUID, msg ParsedInboundMessage)

// WebhookAdapter validates and normalizes Cloud API webhook deliveries.
// Every outcome is an ack: the HTTP layer always answers 200 to Meta, so a
// bad token or paused bot just means the payload is dropped.
type WebhookAdapter struct {
	directory BotDirectory
	onMessage InboundFunc
	logger    *logging.Logger
}

func NewWebhookAdapter(directory BotDirectory, onMessage InboundFunc, logger *logging.Logger) *WebhookAdapter {
	if directory == nil {
		panic("cloudapi: directory cannot be nil")
	}
	if onMessage == nil {
		panic("cloudapi: onMessage cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookAdapter{directory: directory, onMessage: onMessage, logger: logger}
}

// Verify answers the provider verification handshake: a matching token
// echoes the challenge, anything else returns ok=false.
func (a *WebhookAdapter) Verify(ctx context.Context, botID uuid.UUID, token, challenge string) (string, bool) {
	bot, err := a.directory.Get(ctx, botID)
	if err != nil || bot.WebhookToken == "" || token != bot.WebhookToken {
		return "", false
	}
	return challenge, true
}

// Receive validates the token and forwards each text message in the payload.
// It never returns an error to the caller: all failure modes are logged and
// acknowledged.
func (a *WebhookAdapter) Receive(ctx context.Context, botID uuid.UUID, token string, payload []byte) {
	bot, err := a.directory.Get(ctx, botID)
	if err != nil {
		a.logger.Debug("webhook for unknown bot dropped", "bot_id", botID)
		return
	}
	if bot.WebhookToken == "" || token != bot.WebhookToken {
		a.logger.Warn("webhook token mismatch", "bot_id", botID)
		return
	}
	if !bot.IsActive() {
		a.logger.Debug("webhook for inactive bot dropped", "bot_id", botID)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		a.logger.Warn("undecodable webhook payload dropped", "bot_id", botID, "error", err)
		return
	}

	for _, msg := range ParseWebhookEvent(event) {
		a.onMessage(ctx, botID, msg)
	}
}

// ParseWebhookEvent extracts normalized text messages from a webhook event.
// Non-text message types are skipped.
func ParseWebhookEvent(event WebhookEvent) []ParsedInboundMessage {
	var messages []ParsedInboundMessage

	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}

			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WAID] = contact.Profile.Name
			}

			for _, m := range change.Value.Messages {
				if m.Type != "text" || m.Text == nil || m.Text.Body == "" {
					continue
				}
				parsed := ParsedInboundMessage{
					From:        m.From,
					DisplayName: names[m.From],
					Text:        m.Text.Body,
					MessageID:   m.ID,
				}
				if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
					parsed.Timestamp = time.Unix(secs, 0).UTC()
				}
				messages = append(messages, parsed)
			}
		}
	}

	return messages
}
