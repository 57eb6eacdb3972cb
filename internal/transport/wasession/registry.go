package wasession

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sellzap/sellzap/internal/bots"
	"github.com/sellzap/sellzap/internal/observability/metrics"
	"github.com/sellzap/sellzap/internal/transport"
	"github.com/sellzap/sellzap/pkg/logging"
)

// Status is the externally visible snapshot of one bot's session.
type Status struct {
	State     string `json:"state"`
	QRDataURI string `json:"qr_data_uri,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// BotDirectory resolves bots and lists the fleet for startup reconnection.
type BotDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*bots.Bot, error)
	ListActiveSessionBots(ctx context.Context) ([]bots.Bot, error)
}

// CredentialStore persists the paired device identity per bot. An empty jid
// clears it.
type CredentialStore interface {
	UpdateSessionJID(ctx context.Context, id uuid.UUID, jid string) error
}

// InboundHandler receives each message arriving on a live session. It must
// return fast; the engine queues the real work.
type InboundHandler func(ctx context.Context, botID uuid.UUID, msg InboundMessage)

// Registry owns one session handle per bot and serializes all mutations to
// a single bot's handle. Different bots' handles are fully independent.
type Registry struct {
	mu      sync.Mutex
	handles map[uuid.UUID]*handle

	factory    ClientFactory
	directory  BotDirectory
	creds      CredentialStore
	inbound    InboundHandler
	metrics    *metrics.SessionMetrics
	logger     *logging.Logger
	maxBackoff time.Duration
}

type handle struct {
	botID uuid.UUID

	mu       sync.Mutex
	state    string
	qr       string
	phone    string
	client   Client
	cancel   context.CancelFunc
	watchers map[chan Status]struct{}
}

func NewRegistry(factory ClientFactory, directory BotDirectory, creds CredentialStore, inbound InboundHandler, m *metrics.SessionMetrics, logger *logging.Logger) *Registry {
	if factory == nil {
		panic("wasession: factory cannot be nil")
	}
	if directory == nil {
		panic("wasession: directory cannot be nil")
	}
	if creds == nil {
		panic("wasession: credential store cannot be nil")
	}
	if inbound == nil {
		panic("wasession: inbound handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		handles:    make(map[uuid.UUID]*handle),
		factory:    factory,
		directory:  directory,
		creds:      creds,
		inbound:    inbound,
		metrics:    m,
		logger:     logger,
		maxBackoff: time.Minute,
	}
}

// Connect starts (or resumes) the session for a bot. Idempotent: a bot whose
// handle already exists is left alone. The session outlives the caller's
// request context.
func (r *Registry) Connect(ctx context.Context, botID uuid.UUID) error {
	bot, err := r.directory.Get(ctx, botID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.handles[botID]; exists {
		r.mu.Unlock()
		return nil
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	h := &handle{
		botID:    botID,
		state:    StateConnecting,
		cancel:   cancel,
		watchers: make(map[chan Status]struct{}),
	}
	r.handles[botID] = h
	r.mu.Unlock()

	r.metrics.ObserveTransition(StateConnecting)
	go r.run(sessionCtx, h, bot.SessionJID)
	return nil
}

// ReconnectAll resumes every ACTIVE session bot that has previously paired.
// Called on process startup so the fleet self-heals across restarts.
func (r *Registry) ReconnectAll(ctx context.Context) {
	list, err := r.directory.ListActiveSessionBots(ctx)
	if err != nil {
		r.logger.Error("reconnect sweep failed to list bots", "error", err)
		return
	}
	for _, bot := range list {
		if err := r.Connect(ctx, bot.ID); err != nil {
			r.logger.Error("reconnect failed", "bot_id", bot.ID, "error", err)
		}
	}
	r.logger.Info("reconnect sweep finished", "bots", len(list))
}

// Disconnect tears the session down, discards credentials and removes the
// handle. Idempotent.
func (r *Registry) Disconnect(ctx context.Context, botID uuid.UUID) error {
	r.mu.Lock()
	h, ok := r.handles[botID]
	if ok {
		delete(r.handles, botID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	h.cancel()
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client != nil {
		if err := client.Logout(ctx); err != nil {
			r.logger.Warn("session logout failed", "bot_id", botID, "error", err)
		}
	}
	h.set(r, Status{State: StateIdle})
	h.closeWatchers()

	if err := r.creds.UpdateSessionJID(ctx, botID, ""); err != nil {
		r.logger.Error("failed to clear session credentials", "bot_id", botID, "error", err)
	}
	r.updateConnectedGauge()
	return nil
}

// Status is a pure read of the in-memory handle; no handle means IDLE.
func (r *Registry) Status(botID uuid.UUID) Status {
	r.mu.Lock()
	h, ok := r.handles[botID]
	r.mu.Unlock()
	if !ok {
		return Status{State: StateIdle}
	}
	return h.snapshot()
}

// Watch streams status changes for one bot until the returned cancel func is
// called. The current status is delivered first.
func (r *Registry) Watch(botID uuid.UUID) (<-chan Status, func()) {
	ch := make(chan Status, 8)

	r.mu.Lock()
	h, ok := r.handles[botID]
	r.mu.Unlock()
	if !ok {
		ch <- Status{State: StateIdle}
		close(ch)
		return ch, func() {}
	}

	h.mu.Lock()
	h.watchers[ch] = struct{}{}
	ch <- Status{State: h.state, QRDataURI: h.qr, Phone: h.phone}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, live := h.watchers[ch]; live {
			delete(h.watchers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SendText implements transport.Sender over the bot's live session.
func (r *Registry) SendText(ctx context.Context, bot *bots.Bot, to, text string) error {
	if bot == nil {
		return transport.ErrNotConnected
	}
	r.mu.Lock()
	h, ok := r.handles[bot.ID]
	r.mu.Unlock()
	if !ok {
		return transport.ErrNotConnected
	}

	h.mu.Lock()
	client := h.client
	state := h.state
	h.mu.Unlock()
	if state != StateConnected || client == nil {
		return transport.ErrNotConnected
	}
	return client.SendText(ctx, to, text)
}

// run drives one session's event loop until logout or explicit disconnect.
func (r *Registry) run(ctx context.Context, h *handle, storedJID string) {
	log := r.logger.With("bot_id", h.botID)
	events := make(chan Event, 16)

	client, err := r.factory(ctx, h.botID.String(), storedJID, events)
	if err != nil {
		log.Error("session client init failed", "error", err)
		r.remove(h)
		return
	}
	h.mu.Lock()
	h.client = client
	h.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		log.Error("session connect failed", "error", err)
		r.remove(h)
		return
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			client.Disconnect()
			return

		case ev := <-events:
			switch ev.Kind {
			case EventQR:
				uri, err := qrDataURI(ev.QRCode)
				if err != nil {
					log.Error("qr encode failed", "error", err)
					continue
				}
				h.set(r, Status{State: StateAwaitingPairing, QRDataURI: uri})
				log.Info("session awaiting pairing")

			case EventConnected:
				backoff = time.Second
				h.set(r, Status{State: StateConnected, Phone: ev.Phone})
				r.updateConnectedGauge()
				log.Info("session connected", "phone", ev.Phone)
				if err := r.creds.UpdateSessionJID(ctx, h.botID, ev.Phone); err != nil {
					log.Error("failed to persist session identity", "error", err)
				}

			case EventDisconnected:
				h.set(r, Status{State: StateReconnecting, Phone: h.snapshot().Phone})
				r.updateConnectedGauge()
				log.Warn("session dropped, reconnecting", "backoff", backoff)

				select {
				case <-ctx.Done():
					client.Disconnect()
					return
				case <-time.After(backoff):
				}
				if backoff < r.maxBackoff {
					backoff *= 2
				}
				if err := client.Connect(ctx); err != nil {
					log.Error("session reconnect failed", "error", err)
				}

			case EventLoggedOut:
				// Remote logout: pairing is invalidated, stored
				// credentials are useless. A fresh QR pairing is
				// required.
				log.Warn("session logged out remotely, clearing credentials")
				if err := r.creds.UpdateSessionJID(ctx, h.botID, ""); err != nil {
					log.Error("failed to clear session credentials", "error", err)
				}
				client.Disconnect()
				r.remove(h)
				r.updateConnectedGauge()
				return

			case EventMessage:
				if ev.Message == nil || strings.TrimSpace(ev.Message.Text) == "" {
					continue
				}
				r.inbound(ctx, h.botID, *ev.Message)
			}
		}
	}
}

func (r *Registry) remove(h *handle) {
	r.mu.Lock()
	delete(r.handles, h.botID)
	r.mu.Unlock()
	h.set(r, Status{State: StateIdle})
	h.closeWatchers()
}

func (r *Registry) updateConnectedGauge() {
	r.mu.Lock()
	connected := 0
	for _, h := range r.handles {
		if h.snapshot().State == StateConnected {
			connected++
		}
	}
	r.mu.Unlock()
	r.metrics.SetConnected(connected)
}

func (h *handle) snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{State: h.state, QRDataURI: h.qr, Phone: h.phone}
}

// set updates the handle and fans the new status out to watchers. Sends stay
// under h.mu: watcher channels are only ever closed under the same mutex, so
// a send can never hit a closed channel. The sends are nonblocking against a
// buffered channel, so holding the lock cannot stall.
func (h *handle) set(r *Registry, s Status) {
	h.mu.Lock()
	h.state = s.State
	h.qr = s.QRDataURI
	h.phone = s.Phone
	for ch := range h.watchers {
		select {
		case ch <- s:
		default: // slow watcher, drop
		}
	}
	h.mu.Unlock()

	r.metrics.ObserveTransition(s.State)
}

func (h *handle) closeWatchers() {
	h.mu.Lock()
	for ch := range h.watchers {
		delete(h.watchers, ch)
		close(ch)
	}
	h.mu.Unlock()
}
