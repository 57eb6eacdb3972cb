package wasession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/sellzap/sellzap/pkg/logging"
)

// WhatsmeowFactory builds real WhatsApp Web clients over a shared sqlstore
// container. Device credentials for every bot live in one Postgres schema
// managed by whatsmeow itself.
type WhatsmeowFactory struct {
	container *sqlstore.Container
	logger    *logging.Logger
}

// NewWhatsmeowFactory opens (and migrates) the whatsmeow credential store.
func NewWhatsmeowFactory(ctx context.Context, dsn string, logger *logging.Logger) (*WhatsmeowFactory, error) {
	if logger == nil {
		logger = logging.Default()
	}
	container, err := sqlstore.New(ctx, "postgres", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("wasession: open credential store: %w", err)
	}
	return &WhatsmeowFactory{container: container, logger: logger}, nil
}

// NewClient implements ClientFactory.
func (f *WhatsmeowFactory) NewClient(ctx context.Context, botID string, storedJID string, eventCh chan<- Event) (Client, error) {
	device, err := f.device(ctx, storedJID)
	if err != nil {
		return nil, err
	}

	c := &whatsmeowClient{
		client: whatsmeow.NewClient(device, waLog.Noop),
		events: eventCh,
		done:   make(chan struct{}),
		logger: f.logger.With("bot_id", botID),
	}
	c.client.AddEventHandler(c.handleEvent)
	return c, nil
}

func (f *WhatsmeowFactory) device(ctx context.Context, storedJID string) (*store.Device, error) {
	if strings.TrimSpace(storedJID) != "" {
		jid, err := types.ParseJID(normalizeJID(storedJID))
		if err == nil {
			device, err := f.container.GetDevice(ctx, jid)
			if err != nil {
				return nil, fmt.Errorf("wasession: load device: %w", err)
			}
			if device != nil {
				return device, nil
			}
		}
	}
	return f.container.NewDevice(), nil
}

type whatsmeowClient struct {
	client *whatsmeow.Client
	events chan<- Event
	logger *logging.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func (c *whatsmeowClient) Connect(ctx context.Context) error {
	if c.client.Store.ID == nil {
		// Fresh pairing: the QR channel must be opened before Connect.
		qrCh, err := c.client.GetQRChannel(ctx)
		if err != nil && !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			return fmt.Errorf("wasession: open qr channel: %w", err)
		}
		if qrCh != nil {
			go c.forwardQR(qrCh)
		}
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("wasession: connect: %w", err)
	}
	return nil
}

func (c *whatsmeowClient) forwardQR(qrCh <-chan whatsmeow.QRChannelItem) {
	for item := range qrCh {
		switch item.Event {
		case "code":
			c.emit(Event{Kind: EventQR, QRCode: item.Code})
		case "timeout":
			c.emit(Event{Kind: EventDisconnected})
		}
		// "success" is followed by events.Connected from the main
		// handler, nothing to forward here.
	}
}

func (c *whatsmeowClient) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		c.emit(Event{Kind: EventConnected, Phone: c.PairedPhone()})

	case *events.Disconnected:
		c.emit(Event{Kind: EventDisconnected})

	case *events.StreamError:
		c.emit(Event{Kind: EventDisconnected})

	case *events.LoggedOut:
		c.emit(Event{Kind: EventLoggedOut})

	case *events.Message:
		if e.Info.IsFromMe || e.Info.IsGroup {
			return
		}
		text := extractText(e.Message)
		if text == "" {
			return
		}
		c.emit(Event{Kind: EventMessage, Message: &InboundMessage{
			From:        e.Info.Sender.User,
			DisplayName: e.Info.PushName,
			Text:        text,
			MessageID:   e.Info.ID,
			Timestamp:   e.Info.Timestamp,
		}})
	}
}

func (c *whatsmeowClient) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *whatsmeowClient) Disconnect() {
	c.closeOnce.Do(func() { close(c.done) })
	c.client.Disconnect()
}

func (c *whatsmeowClient) Logout(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.done) })
	if err := c.client.Logout(ctx); err != nil {
		return fmt.Errorf("wasession: logout: %w", err)
	}
	return nil
}

func (c *whatsmeowClient) SendText(ctx context.Context, to, text string) error {
	jid, err := types.ParseJID(normalizeJID(to))
	if err != nil {
		return fmt.Errorf("wasession: invalid recipient %q: %w", to, err)
	}

	_, err = c.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("wasession: send: %w", err)
	}
	return nil
}

func (c *whatsmeowClient) PairedPhone() string {
	id := c.client.Store.ID
	if id == nil {
		return ""
	}
	return id.User
}

// normalizeJID turns a bare phone number into a user JID string.
func normalizeJID(addr string) string {
	addr = strings.TrimSpace(strings.TrimPrefix(addr, "+"))
	if strings.Contains(addr, "@") {
		return addr
	}
	return addr + "@" + types.DefaultUserServer
}

// extractText pulls the text body out of the few message shapes that carry
// plain text.
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}
