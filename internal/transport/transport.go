// Package transport defines the outbound send contract shared by the Cloud
// API adapter and the persistent-session adapter.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/sellzap/sellzap/internal/bots"
)

var (
	// ErrNotConnected means a persistent session is not ready to send.
	ErrNotConnected = errors.New("transport: session not connected")
	// ErrUnknownTransport means a bot carries a transport kind no adapter serves.
	ErrUnknownTransport = errors.New("transport: unknown transport kind")
)

// Sender delivers one outbound text message on behalf of a bot.
type Sender interface {
	SendText(ctx context.Context, bot *bots.Bot, to, text string) error
}

// Resolver maps a bot's transport kind to the adapter that serves it.
type Resolver struct {
	cloud   Sender
	session Sender
}

func NewResolver(cloud, session Sender) *Resolver {
	return &Resolver{cloud: cloud, session: session}
}

// For returns the sender for kind, or ErrUnknownTransport.
func (r *Resolver) For(kind string) (Sender, error) {
	switch kind {
	case bots.TransportCloud:
		if r.cloud == nil {
			return nil, fmt.Errorf("%w: %s adapter not configured", ErrUnknownTransport, kind)
		}
		return r.cloud, nil
	case bots.TransportSession:
		if r.session == nil {
			return nil, fmt.Errorf("%w: %s adapter not configured", ErrUnknownTransport, kind)
		}
		return r.session, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, kind)
	}
}

// SendText resolves the bot's adapter and forwards the send.
func (r *Resolver) SendText(ctx context.Context, bot *bots.Bot, to, text string) error {
	sender, err := r.For(bot.TransportKind)
	if err != nil {
		return err
	}
	return sender.SendText(ctx, bot, to, text)
}
