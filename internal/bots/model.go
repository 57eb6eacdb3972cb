package bots

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Transport kinds supported by the platform.
const (
	// TransportCloud delivers messages through the hosted Cloud API webhook.
	TransportCloud = "cloud"
	// TransportSession delivers messages through a standing paired connection.
	TransportSession = "session"
)

// Bot lifecycle statuses.
const (
	StatusActive = "ACTIVE"
	StatusPaused = "PAUSED"
)

// ErrNotFound is returned when a bot does not exist.
var ErrNotFound = errors.New("bots: not found")

// Bot is one configured automated WhatsApp agent belonging to a platform user.
type Bot struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Name          string
	TransportKind string
	Status        string
	WebhookToken  string

	// SegmentLimits caps each of the up to three reply segments, in runes.
	SegmentLimits [3]int

	FollowUp1Delay time.Duration
	FollowUp2Delay time.Duration
	FollowUp1Text  string
	FollowUp2Text  string

	SystemPrompt string
	ReportPhone  string
	OwnerEmail   string

	// SessionJID is the paired WhatsApp identity for session-transport bots,
	// empty until first pairing completes.
	SessionJID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether inbound traffic for this bot should be processed.
func (b *Bot) IsActive() bool {
	return b != nil && b.Status == StatusActive
}

// SegmentLimit returns the rune cap for segment i (0-based), falling back to
// the last configured limit for out-of-range indexes.
func (b *Bot) SegmentLimit(i int) int {
	if i < 0 {
		i = 0
	}
	if i >= len(b.SegmentLimits) {
		i = len(b.SegmentLimits) - 1
	}
	return b.SegmentLimits[i]
}

// Secrets holds a bot's decrypted credentials. Values must never be logged.
type Secrets struct {
	AIKey         string
	ProviderToken string
	PhoneNumberID string
}
