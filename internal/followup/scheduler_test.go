package followup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellzap/sellzap/internal/bots"
	"github.com/sellzap/sellzap/internal/convo"
)

type stubDirectory struct {
	bots map[uuid.UUID]*bots.Bot
}

func (d *stubDirectory) Get(_ context.Context, id uuid.UUID) (*bots.Bot, error) {
	bot, ok := d.bots[id]
	if !ok {
		return nil, bots.ErrNotFound
	}
	return bot, nil
}

type stubStore struct {
	mu         sync.Mutex
	candidates []convo.FollowUpCandidate
	claimed    map[string]bool
	claimErr   error
	appended   []convo.Message
	listCalls  int
	listGate   chan struct{}
}

func (s *stubStore) ListFollowUpCandidates(_ context.Context) ([]convo.FollowUpCandidate, error) {
	s.mu.Lock()
	s.listCalls++
	gate := s.listGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]convo.FollowUpCandidate(nil), s.candidates...), nil
}

func (s *stubStore) ClaimFollowUp(_ context.Context, id uuid.UUID, stage int, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, s.claimErr
	}
	if s.claimed == nil {
		s.claimed = make(map[string]bool)
	}
	key := id.String() + "-" + string(rune('0'+stage))
	if s.claimed[key] {
		return false, nil
	}
	s.claimed[key] = true
	return true, nil
}

func (s *stubStore) AppendMessage(_ context.Context, _ uuid.UUID, msg convo.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, msg)
	return nil
}

type stubSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *stubSender) SendText(_ context.Context, _ *bots.Bot, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, to+":"+text)
	return nil
}

func followUpBot() *bots.Bot {
	return &bots.Bot{
		ID:             uuid.New(),
		TransportKind:  bots.TransportSession,
		Status:         bots.StatusActive,
		FollowUp1Delay: 60 * time.Second,
		FollowUp2Delay: 90 * time.Second,
		FollowUp1Text:  "Oi! Ainda está interessada no kit?",
		FollowUp2Text:  "Última chance: frete grátis hoje!",
	}
}

type schedulerFixture struct {
	scheduler *Scheduler
	store     *stubStore
	sender    *stubSender
	bot       *bots.Bot
	now       time.Time
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	bot := followUpBot()
	fx := &schedulerFixture{
		store:  &stubStore{},
		sender: &stubSender{},
		bot:    bot,
		now:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	directory := &stubDirectory{bots: map[uuid.UUID]*bots.Bot{bot.ID: bot}}
	fx.scheduler = NewScheduler(directory, fx.store, fx.sender, nil, nil)
	fx.scheduler.now = func() time.Time { return fx.now }
	return fx
}

func (fx *schedulerFixture) addCandidate(lastActivity time.Time, f1 *time.Time) uuid.UUID {
	id := uuid.New()
	fx.store.candidates = append(fx.store.candidates, convo.FollowUpCandidate{
		ConversationID:  id,
		BotID:           fx.bot.ID,
		Contact:         "5511999887766",
		LastActivityAt:  lastActivity,
		FollowUp1SentAt: f1,
	})
	return id
}

func TestRunSendsStageOneWhenDue(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.addCandidate(fx.now.Add(-61*time.Second), nil)

	result := fx.scheduler.Run(context.Background())

	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, []string{"5511999887766:Oi! Ainda está interessada no kit?"}, fx.sender.sent)
	require.Len(t, fx.store.appended, 1)
	assert.Equal(t, convo.RoleAssistant, fx.store.appended[0].Role)
}

func TestRunSkipsStageOneBeforeDelay(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.addCandidate(fx.now.Add(-30*time.Second), nil)

	result := fx.scheduler.Run(context.Background())

	assert.Zero(t, result.Sent)
	assert.Empty(t, fx.sender.sent)
}

func TestRunStageTwoMeasuredFromStageOne(t *testing.T) {
	fx := newSchedulerFixture(t)
	f1 := fx.now.Add(-91 * time.Second)
	fx.addCandidate(fx.now.Add(-10*time.Minute), &f1)

	result := fx.scheduler.Run(context.Background())

	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, []string{"5511999887766:Última chance: frete grátis hoje!"}, fx.sender.sent)
}

func TestRunStageTwoNotDueYet(t *testing.T) {
	fx := newSchedulerFixture(t)
	f1 := fx.now.Add(-30 * time.Second)
	fx.addCandidate(fx.now.Add(-10*time.Minute), &f1)

	result := fx.scheduler.Run(context.Background())

	assert.Zero(t, result.Sent)
}

func TestRunStageClaimedOnceAcrossRuns(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.addCandidate(fx.now.Add(-2*time.Minute), nil)

	first := fx.scheduler.Run(context.Background())
	second := fx.scheduler.Run(context.Background())

	assert.Equal(t, 1, first.Sent)
	assert.Zero(t, second.Sent, "a claimed stage must not send twice")
	assert.Len(t, fx.sender.sent, 1)
}

func TestRunClaimHeldEvenIfSendFails(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.addCandidate(fx.now.Add(-2*time.Minute), nil)
	fx.sender.err = errors.New("not connected")

	first := fx.scheduler.Run(context.Background())
	assert.Equal(t, 1, first.Failed)

	fx.sender.err = nil
	second := fx.scheduler.Run(context.Background())
	assert.Zero(t, second.Sent, "burned claim is never retried")
}

func TestRunOverlapSkipped(t *testing.T) {
	fx := newSchedulerFixture(t)
	gate := make(chan struct{})
	fx.store.listGate = gate

	done := make(chan RunResult, 1)
	go func() { done <- fx.scheduler.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		fx.store.mu.Lock()
		defer fx.store.mu.Unlock()
		return fx.store.listCalls == 1
	}, 2*time.Second, 10*time.Millisecond)

	overlap := fx.scheduler.Run(context.Background())
	assert.True(t, overlap.Skipped, "overlapping run must be skipped, not queued")

	close(gate)
	<-done
}

func TestRunSkipsBotWithoutFollowUpConfig(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.bot.FollowUp1Text = ""
	fx.addCandidate(fx.now.Add(-time.Hour), nil)

	result := fx.scheduler.Run(context.Background())

	assert.Zero(t, result.Sent)
}

func TestRunTransportFilter(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.scheduler.WithTransports(bots.TransportCloud)
	fx.addCandidate(fx.now.Add(-time.Hour), nil)

	result := fx.scheduler.Run(context.Background())

	assert.Zero(t, result.Sent, "session bot must be left to the process owning its connection")
	assert.Empty(t, fx.sender.sent)

	fx.scheduler.WithTransports(bots.TransportCloud, bots.TransportSession)
	result = fx.scheduler.Run(context.Background())
	assert.Equal(t, 1, result.Sent)
}
