// Package followup nudges unsold conversations back to life with up to two
// staged follow-up messages per conversation.
package followup

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sellzap/sellzap/internal/bots"
	"github.com/sellzap/sellzap/internal/convo"
	"github.com/sellzap/sellzap/internal/observability/metrics"
	"github.com/sellzap/sellzap/pkg/logging"
)

// BotDirectory resolves the bot that owns a candidate conversation.
type BotDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*bots.Bot, error)
}

// Store is the conversation persistence the scheduler needs: candidate
// listing plus atomic stage claims.
type Store interface {
	ListFollowUpCandidates(ctx context.Context) ([]convo.FollowUpCandidate, error)
	ClaimFollowUp(ctx context.Context, conversationID uuid.UUID, stage int, at time.Time) (bool, error)
	AppendMessage(ctx context.Context, conversationID uuid.UUID, msg convo.Message) error
}

// Sender delivers the follow-up text over the bot's transport.
type Sender interface {
	SendText(ctx context.Context, bot *bots.Bot, to, text string) error
}

// Scheduler runs the follow-up sweep. Runs are non-reentrant: a trigger that
// arrives while a sweep is still in flight is skipped, not queued.
type Scheduler struct {
	directory BotDirectory
	store     Store
	sender    Sender
	metrics   *metrics.FollowUpMetrics
	logger    *logging.Logger
	now       func() time.Time

	// transports, when non-nil, limits sweeps to bots on those transport
	// kinds. A standalone worker uses it to leave session bots to the
	// process that owns their live connections.
	transports map[string]bool

	running atomic.Bool
}

func NewScheduler(directory BotDirectory, store Store, sender Sender, m *metrics.FollowUpMetrics, logger *logging.Logger) *Scheduler {
	if directory == nil || store == nil || sender == nil {
		panic("followup: missing required dependency")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		directory: directory,
		store:     store,
		sender:    sender,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithTransports restricts the sweep to bots on the given transport kinds.
func (s *Scheduler) WithTransports(kinds ...string) *Scheduler {
	s.transports = make(map[string]bool, len(kinds))
	for _, kind := range kinds {
		s.transports[kind] = true
	}
	return s
}

// RunResult summarizes one sweep.
type RunResult struct {
	Skipped bool
	Sent    int
	Failed  int
}

// Run executes one sweep. Returns Skipped=true when a previous sweep is
// still in flight.
func (s *Scheduler) Run(ctx context.Context) RunResult {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.ObserveRun("skipped_overlap")
		s.logger.Warn("follow-up run skipped: previous run still in flight")
		return RunResult{Skipped: true}
	}
	defer s.running.Store(false)

	candidates, err := s.store.ListFollowUpCandidates(ctx)
	if err != nil {
		s.metrics.ObserveRun("failed")
		s.logger.Error("follow-up candidate listing failed", "error", err)
		return RunResult{}
	}

	var result RunResult
	now := s.now()
	cache := make(map[uuid.UUID]*bots.Bot)

	for _, cand := range candidates {
		bot, ok := cache[cand.BotID]
		if !ok {
			bot, err = s.directory.Get(ctx, cand.BotID)
			if err != nil {
				s.logger.Error("follow-up bot lookup failed", "bot_id", cand.BotID, "error", err)
				continue
			}
			cache[cand.BotID] = bot
		}

		if s.transports != nil && !s.transports[bot.TransportKind] {
			continue
		}

		stage, text, due := nextStage(bot, cand, now)
		if !due {
			continue
		}
		if s.dispatch(ctx, bot, cand, stage, text, now) {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	s.metrics.ObserveRun("completed")
	s.logger.Info("follow-up run finished", "candidates", len(candidates), "sent", result.Sent, "failed", result.Failed)
	return result
}

// nextStage decides which stage (if any) is due for a candidate. Stage 1 is
// measured from last activity; stage 2 from stage 1's send time.
func nextStage(bot *bots.Bot, cand convo.FollowUpCandidate, now time.Time) (int, string, bool) {
	if cand.FollowUp1SentAt == nil {
		if bot.FollowUp1Delay <= 0 || bot.FollowUp1Text == "" {
			return 0, "", false
		}
		if now.Sub(cand.LastActivityAt) >= bot.FollowUp1Delay {
			return 1, bot.FollowUp1Text, true
		}
		return 0, "", false
	}

	if cand.FollowUp2SentAt == nil {
		if bot.FollowUp2Delay <= 0 || bot.FollowUp2Text == "" {
			return 0, "", false
		}
		if now.Sub(*cand.FollowUp1SentAt) >= bot.FollowUp2Delay {
			return 2, bot.FollowUp2Text, true
		}
	}
	return 0, "", false
}

// dispatch claims the stage marker first, then sends. A claimed marker is
// never reverted, so a failed send burns the stage rather than risking a
// double-send from a later overlapping run.
func (s *Scheduler) dispatch(ctx context.Context, bot *bots.Bot, cand convo.FollowUpCandidate, stage int, text string, now time.Time) bool {
	stageLabel := "1"
	if stage == 2 {
		stageLabel = "2"
	}

	claimed, err := s.store.ClaimFollowUp(ctx, cand.ConversationID, stage, now)
	if err != nil {
		s.metrics.ObserveSent(stageLabel, "claim_failed")
		s.logger.Error("follow-up claim failed", "conversation_id", cand.ConversationID, "stage", stage, "error", err)
		return false
	}
	if !claimed {
		// Another run got here first.
		return false
	}

	if err := s.sender.SendText(ctx, bot, cand.Contact, text); err != nil {
		s.metrics.ObserveSent(stageLabel, "send_failed")
		s.logger.Error("follow-up send failed", "conversation_id", cand.ConversationID, "stage", stage, "error", err)
		return false
	}

	if err := s.store.AppendMessage(ctx, cand.ConversationID, convo.Message{
		Role:      convo.RoleAssistant,
		Content:   text,
		CreatedAt: now,
	}); err != nil {
		s.logger.Error("follow-up message persist failed", "conversation_id", cand.ConversationID, "error", err)
	}

	s.metrics.ObserveSent(stageLabel, "sent")
	s.logger.Info("follow-up sent", "conversation_id", cand.ConversationID, "bot_id", bot.ID, "stage", stage)
	return true
}

// Loop runs sweeps on a fixed cadence until ctx is cancelled. An overrunning
// sweep simply causes the next tick to be skipped by Run's reentrancy guard.
func (s *Scheduler) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Run(ctx)
		}
	}
}
