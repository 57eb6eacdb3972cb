package wasession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellzap/sellzap/internal/bots"
	"github.com/sellzap/sellzap/internal/transport"
)

type fakeClient struct {
	mu        sync.Mutex
	events    chan<- Event
	connected int
	loggedOut bool
	sent      []string
	sendErr   error
	phone     string
}

func (c *fakeClient) Connect(_ context.Context) error {
	c.mu.Lock()
	c.connected++
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Disconnect() {}

func (c *fakeClient) Logout(_ context.Context) error {
	c.mu.Lock()
	c.loggedOut = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) SendText(_ context.Context, to, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, to+":"+text)
	return nil
}

func (c *fakeClient) PairedPhone() string { return c.phone }

func (c *fakeClient) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) push(ev Event) { c.events <- ev }

type fakeFactory struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
	built   int
}

func (f *fakeFactory) new(_ context.Context, botID, _ string, events chan<- Event) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{events: events, phone: "5511988887777"}
	if f.clients == nil {
		f.clients = make(map[string]*fakeClient)
	}
	f.clients[botID] = c
	f.built++
	return c, nil
}

func (f *fakeFactory) client(botID uuid.UUID) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[botID.String()]
}

type regDirectory struct {
	mu   sync.Mutex
	bots map[uuid.UUID]*bots.Bot
}

func (d *regDirectory) Get(_ context.Context, id uuid.UUID) (*bots.Bot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bot, ok := d.bots[id]
	if !ok {
		return nil, bots.ErrNotFound
	}
	return bot, nil
}

func (d *regDirectory) ListActiveSessionBots(_ context.Context) ([]bots.Bot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []bots.Bot
	for _, bot := range d.bots {
		if bot.IsActive() && bot.TransportKind == bots.TransportSession && bot.SessionJID != "" {
			out = append(out, *bot)
		}
	}
	return out, nil
}

type fakeCreds struct {
	mu   sync.Mutex
	jids map[uuid.UUID]string
}

func (c *fakeCreds) UpdateSessionJID(_ context.Context, id uuid.UUID, jid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jids == nil {
		c.jids = make(map[uuid.UUID]string)
	}
	c.jids[id] = jid
	return nil
}

func (c *fakeCreds) get(id uuid.UUID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jids[id]
}

type inboundRecorder struct {
	mu   sync.Mutex
	msgs []InboundMessage
}

func (r *inboundRecorder) handle(_ context.Context, _ uuid.UUID, msg InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *inboundRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type registryFixture struct {
	registry *Registry
	factory  *fakeFactory
	creds    *fakeCreds
	inbound  *inboundRecorder
	bot      *bots.Bot
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	bot := &bots.Bot{
		ID:            uuid.New(),
		TransportKind: bots.TransportSession,
		Status:        bots.StatusActive,
	}
	fx := &registryFixture{
		factory: &fakeFactory{},
		creds:   &fakeCreds{},
		inbound: &inboundRecorder{},
		bot:     bot,
	}
	directory := &regDirectory{bots: map[uuid.UUID]*bots.Bot{bot.ID: bot}}
	fx.registry = NewRegistry(fx.factory.new, directory, fx.creds, fx.inbound.handle, nil, nil)
	return fx
}

func (fx *registryFixture) waitState(t *testing.T, state string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return fx.registry.Status(fx.bot.ID).State == state
	}, 3*time.Second, 10*time.Millisecond, "expected state %s", state)
}

func (fx *registryFixture) connectAndPair(t *testing.T) *fakeClient {
	t.Helper()
	require.NoError(t, fx.registry.Connect(context.Background(), fx.bot.ID))
	require.Eventually(t, func() bool { return fx.factory.client(fx.bot.ID) != nil }, 3*time.Second, 10*time.Millisecond)
	client := fx.factory.client(fx.bot.ID)
	client.push(Event{Kind: EventConnected, Phone: client.phone})
	fx.waitState(t, StateConnected)
	return client
}

func TestConnectIdempotent(t *testing.T) {
	fx := newRegistryFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.registry.Connect(ctx, fx.bot.ID))
	require.NoError(t, fx.registry.Connect(ctx, fx.bot.ID))
	require.NoError(t, fx.registry.Connect(ctx, fx.bot.ID))

	require.Eventually(t, func() bool {
		fx.factory.mu.Lock()
		defer fx.factory.mu.Unlock()
		return fx.factory.built == 1
	}, 3*time.Second, 10*time.Millisecond, "repeat connects must not spawn new clients")
}

func TestConnectUnknownBot(t *testing.T) {
	fx := newRegistryFixture(t)
	assert.Error(t, fx.registry.Connect(context.Background(), uuid.New()))
}

func TestQRPairingFlow(t *testing.T) {
	fx := newRegistryFixture(t)
	require.NoError(t, fx.registry.Connect(context.Background(), fx.bot.ID))
	require.Eventually(t, func() bool { return fx.factory.client(fx.bot.ID) != nil }, 3*time.Second, 10*time.Millisecond)
	client := fx.factory.client(fx.bot.ID)

	client.push(Event{Kind: EventQR, QRCode: "pairing-code-1"})
	fx.waitState(t, StateAwaitingPairing)
	status := fx.registry.Status(fx.bot.ID)
	assert.Contains(t, status.QRDataURI, "data:image/png;base64,")

	client.push(Event{Kind: EventConnected, Phone: "5511988887777"})
	fx.waitState(t, StateConnected)
	status = fx.registry.Status(fx.bot.ID)
	assert.Equal(t, "5511988887777", status.Phone)
	assert.Empty(t, status.QRDataURI)

	assert.Equal(t, "5511988887777", fx.creds.get(fx.bot.ID), "paired identity persisted")
}

func TestDropTriggersReconnect(t *testing.T) {
	fx := newRegistryFixture(t)
	client := fx.connectAndPair(t)

	client.push(Event{Kind: EventDisconnected})
	fx.waitState(t, StateReconnecting)

	require.Eventually(t, func() bool {
		return client.connectCount() >= 2
	}, 5*time.Second, 20*time.Millisecond, "registry must retry the connection")

	client.push(Event{Kind: EventConnected, Phone: client.phone})
	fx.waitState(t, StateConnected)
}

func TestRemoteLogoutClearsCredentials(t *testing.T) {
	fx := newRegistryFixture(t)
	client := fx.connectAndPair(t)
	require.Equal(t, client.phone, fx.creds.get(fx.bot.ID))

	client.push(Event{Kind: EventLoggedOut})
	fx.waitState(t, StateIdle)
	assert.Empty(t, fx.creds.get(fx.bot.ID), "invalidated pairing must clear stored identity")
}

func TestDisconnectIsIdempotent(t *testing.T) {
	fx := newRegistryFixture(t)
	client := fx.connectAndPair(t)
	ctx := context.Background()

	require.NoError(t, fx.registry.Disconnect(ctx, fx.bot.ID))
	require.NoError(t, fx.registry.Disconnect(ctx, fx.bot.ID))

	assert.Equal(t, StateIdle, fx.registry.Status(fx.bot.ID).State)
	client.mu.Lock()
	assert.True(t, client.loggedOut)
	client.mu.Unlock()
	assert.Empty(t, fx.creds.get(fx.bot.ID))
}

func TestSendTextRequiresConnected(t *testing.T) {
	fx := newRegistryFixture(t)
	ctx := context.Background()

	err := fx.registry.SendText(ctx, fx.bot, "5511999887766", "oi")
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	client := fx.connectAndPair(t)
	require.NoError(t, fx.registry.SendText(ctx, fx.bot, "5511999887766", "oi"))
	client.mu.Lock()
	assert.Equal(t, []string{"5511999887766:oi"}, client.sent)
	client.mu.Unlock()
}

func TestInboundMessagesForwarded(t *testing.T) {
	fx := newRegistryFixture(t)
	client := fx.connectAndPair(t)

	client.push(Event{Kind: EventMessage, Message: &InboundMessage{
		From: "5511999887766", DisplayName: "Maria", Text: "quanto custa?",
	}})

	require.Eventually(t, func() bool { return fx.inbound.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	fx.inbound.mu.Lock()
	assert.Equal(t, "quanto custa?", fx.inbound.msgs[0].Text)
	fx.inbound.mu.Unlock()
}

func TestWatchStreamsTransitions(t *testing.T) {
	fx := newRegistryFixture(t)
	require.NoError(t, fx.registry.Connect(context.Background(), fx.bot.ID))
	require.Eventually(t, func() bool { return fx.factory.client(fx.bot.ID) != nil }, 3*time.Second, 10*time.Millisecond)

	ch, cancel := fx.registry.Watch(fx.bot.ID)
	defer cancel()

	first := <-ch
	assert.Equal(t, StateConnecting, first.State)

	fx.factory.client(fx.bot.ID).push(Event{Kind: EventConnected, Phone: "5511988887777"})

	select {
	case status := <-ch:
		assert.Equal(t, StateConnected, status.State)
	case <-time.After(3 * time.Second):
		t.Fatal("no status update received")
	}
}

func TestWatchCancelDuringTransitions(t *testing.T) {
	fx := newRegistryFixture(t)
	require.NoError(t, fx.registry.Connect(context.Background(), fx.bot.ID))
	require.Eventually(t, func() bool { return fx.factory.client(fx.bot.ID) != nil }, 3*time.Second, 10*time.Millisecond)
	client := fx.factory.client(fx.bot.ID)

	// Hammer watcher churn against a stream of transitions. A send racing a
	// cancel must never reach a closed channel.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				client.push(Event{Kind: EventQR, QRCode: "pairing-code"})
			} else {
				client.push(Event{Kind: EventConnected, Phone: client.phone})
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ch, cancel := fx.registry.Watch(fx.bot.ID)
				<-ch
				cancel()
			}
		}()
	}
	wg.Wait()
	<-done

	// Cancelling a watcher twice is a no-op, and a disconnect that closes
	// the remaining watchers must coexist with a late cancel.
	ch, cancel := fx.registry.Watch(fx.bot.ID)
	<-ch
	require.NoError(t, fx.registry.Disconnect(context.Background(), fx.bot.ID))
	for range ch {
	}
	cancel()
	cancel()
}

func TestReconnectAllSweepsPairedBots(t *testing.T) {
	fx := newRegistryFixture(t)
	fx.bot.SessionJID = "5511988887777"

	fx.registry.ReconnectAll(context.Background())

	require.Eventually(t, func() bool {
		return fx.registry.Status(fx.bot.ID).State != StateIdle
	}, 3*time.Second, 10*time.Millisecond)
}
