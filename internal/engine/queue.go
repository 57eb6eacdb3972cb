package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// queueClient moves normalized inbound events between the transports and the
// dispatcher. Implementations own their wire encoding; producers and
// consumers only ever see typed events.
type queueClient interface {
	Send(ctx context.Context, event InboundEvent) error
	Receive(ctx context.Context, maxEvents int, waitSeconds int) ([]queuedEvent, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// queuedEvent pairs a received event with the broker token needed to ack it.
// An empty ReceiptHandle means the broker requires no ack.
type queuedEvent struct {
	Event         InboundEvent
	ReceiptHandle string
}

// InboundEvent is one normalized inbound message from any transport,
// published onto the engine queue by webhook handlers and session clients.
type InboundEvent struct {
	ID          string    `json:"id"`
	BotID       uuid.UUID `json:"bot_id"`
	Contact     string    `json:"contact"`
	DisplayName string    `json:"display_name,omitempty"`
	Text        string    `json:"text"`
	ProviderID  string    `json:"provider_id,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// normalizeEvent stamps missing identity and arrival time before the event
// crosses a process boundary.
func normalizeEvent(event InboundEvent) InboundEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	return event
}
