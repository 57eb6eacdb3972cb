// Package wasession hosts long-lived WhatsApp Web sessions, one per bot,
// with QR pairing, credential persistence and automatic reconnection.
package wasession

import (
	"context"
	"time"
)

// Session states.
const (
	StateIdle            = "IDLE"
	StateConnecting      = "CONNECTING"
	StateAwaitingPairing = "AWAITING_PAIRING"
	StateConnected       = "CONNECTED"
	StateReconnecting    = "RECONNECTING"
)

// EventKind discriminates Client events.
type EventKind string

const (
	EventQR           EventKind = "qr"
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventLoggedOut    EventKind = "logged_out"
	EventMessage      EventKind = "message"
)

// Event is one asynchronous occurrence on a live session connection.
type Event struct {
	Kind    EventKind
	QRCode  string
	Phone   string
	Message *InboundMessage
}

// InboundMessage is a text message received on a live session.
type InboundMessage struct {
	From        string
	DisplayName string
	Text        string
	MessageID   string
	Timestamp   time.Time
}

// Client is one underlying WhatsApp Web connection. The registry drives it
// through Connect/Disconnect and observes it through the event channel the
// factory wires in.
type Client interface {
	// Connect starts the connection. If the client has no stored
	// credentials it emits QR events until paired; with credentials it
	// resumes the session directly.
	Connect(ctx context.Context) error
	// Disconnect closes the socket but keeps credentials.
	Disconnect()
	// Logout invalidates and discards the stored credentials.
	Logout(ctx context.Context) error
	// SendText delivers one text message to a phone number.
	SendText(ctx context.Context, to, text string) error
	// PairedPhone returns the authenticated phone number, if any.
	PairedPhone() string
}

// ClientFactory builds a Client for one bot. storedJID is the previously
// paired device identity, empty for a fresh pairing. Events must be
// delivered on the provided channel until the client is disconnected.
type ClientFactory func(ctx context.Context, botID string, storedJID string, events chan<- Event) (Client, error)
