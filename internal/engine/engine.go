// Package engine turns inbound transport messages into AI-generated replies.
// Every inbound message flows through a queue, a per-conversation lane, and
// the nine-step turn in processTurn.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sellzap/sellzap/internal/bots"
	"github.com/sellzap/sellzap/internal/convo"
	"github.com/sellzap/sellzap/internal/observability/metrics"
	"github.com/sellzap/sellzap/pkg/logging"
)

// BotDirectory resolves bots by id.
type BotDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*bots.Bot, error)
}

// SecretSource yields a bot's decrypted secrets at point of use.
type SecretSource interface {
	Get(ctx context.Context, botID uuid.UUID) (bots.Secrets, error)
}

// ConversationStore is the durable conversation persistence the engine needs.
type ConversationStore interface {
	FindOrCreate(ctx context.Context, botID uuid.UUID, contact, displayName string) (*convo.Conversation, *convo.State, error)
	AppendMessage(ctx context.Context, conversationID uuid.UUID, msg convo.Message) error
	History(ctx context.Context, conversationID uuid.UUID, limit int) ([]convo.Message, error)
	MarkSold(ctx context.Context, conversationID uuid.UUID, report string, at time.Time) (bool, error)
}

// Sender delivers one outbound reply segment. Satisfied by transport.Resolver.
type Sender interface {
	SendText(ctx context.Context, bot *bots.Bot, to, text string) error
}

// SaleNotifier is told when a conversation is won, after the sold marker is
// durably persisted.
type SaleNotifier interface {
	NotifySale(ctx context.Context, bot *bots.Bot, conv *convo.Conversation, report string)
}

// LLMFactory builds an LLM client around one bot's own API key.
type LLMFactory func(apiKey string) (LLMClient, error)

// Engine is the conversation engine. Submit is the fast path transports call;
// the dispatcher drains the queue and runs full turns.
type Engine struct {
	directory BotDirectory
	secrets   SecretSource
	store     ConversationStore
	cache     *convo.TranscriptCache
	queue     queueClient
	sender    Sender
	notifier  SaleNotifier
	llm       LLMFactory
	fallback  LLMClient
	metrics   *metrics.EngineMetrics
	logger    *logging.Logger

	historyWindow int
}

// Options configures optional engine collaborators.
type Options struct {
	Cache         *convo.TranscriptCache
	Notifier      SaleNotifier
	Fallback      LLMClient
	Metrics       *metrics.EngineMetrics
	Logger        *logging.Logger
	HistoryWindow int
}

// New wires the engine. directory, secrets, store, queue, sender and llm are
// required.
func New(directory BotDirectory, secrets SecretSource, store ConversationStore, queue Queue, sender Sender, llm LLMFactory, opts Options) *Engine {
	if directory == nil || secrets == nil || store == nil || queue == nil || sender == nil || llm == nil {
		panic("engine: missing required dependency")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	window := opts.HistoryWindow
	if window <= 0 {
		window = 40
	}
	return &Engine{
		directory:     directory,
		secrets:       secrets,
		store:         store,
		cache:         opts.Cache,
		queue:         queue,
		sender:        sender,
		notifier:      opts.Notifier,
		llm:           llm,
		fallback:      opts.Fallback,
		metrics:       opts.Metrics,
		logger:        logger,
		historyWindow: window,
	}
}

// Queue is the public alias transports and cmd wiring use to hand the engine
// its backing queue.
type Queue = queueClient

// Submit normalizes and enqueues one inbound message. It returns as soon as
// the event is on the queue, so webhook handlers can acknowledge upstream
// immediately.
func (e *Engine) Submit(ctx context.Context, event InboundEvent) error {
	if event.BotID == uuid.Nil {
		return errors.New("engine: bot id required")
	}
	if strings.TrimSpace(event.Contact) == "" {
		return errors.New("engine: contact required")
	}
	if strings.TrimSpace(event.Text) == "" {
		return nil
	}

	event = normalizeEvent(event)
	if err := e.queue.Send(ctx, event); err != nil {
		return err
	}
	e.logger.Debug("inbound event queued", "event_id", event.ID, "bot_id", event.BotID)
	return nil
}

// processTurn runs one full conversation turn for an inbound event. Errors
// are terminal for the turn: the conversation simply waits for the next
// inbound message or a scheduled follow-up.
func (e *Engine) processTurn(ctx context.Context, event InboundEvent) {
	log := e.logger.With("bot_id", event.BotID, "contact", event.Contact, "event_id", event.ID)

	bot, err := e.directory.Get(ctx, event.BotID)
	if err != nil {
		if errors.Is(err, bots.ErrNotFound) {
			e.metrics.ObserveInbound("unknown", "dropped")
			return
		}
		log.Error("bot lookup failed", "error", err)
		return
	}
	if !bot.IsActive() {
		e.metrics.ObserveInbound(bot.TransportKind, "dropped_inactive")
		return
	}
	e.metrics.ObserveInbound(bot.TransportKind, "accepted")

	conv, state, err := e.store.FindOrCreate(ctx, bot.ID, event.Contact, event.DisplayName)
	if err != nil {
		log.Error("conversation load failed", "error", err)
		return
	}

	inbound := convo.Message{Role: convo.RoleUser, Content: event.Text, CreatedAt: event.ReceivedAt}
	if err := e.store.AppendMessage(ctx, conv.ID, inbound); err != nil {
		log.Error("persist inbound message failed", "error", err)
		return
	}

	history := e.loadHistory(ctx, conv.ID)
	if err := e.cache.Append(ctx, conv.ID.String(), convo.CachedMessage{
		Role: convo.RoleUser, Content: event.Text, Timestamp: event.ReceivedAt,
	}); err != nil {
		log.Warn("transcript cache append failed", "error", err)
	}

	reply, ok := e.complete(ctx, log, bot, state, history, event.Text)
	if !ok {
		return
	}

	now := time.Now().UTC()
	if reply.SaleConfirmed && !conv.Sold {
		won, err := e.store.MarkSold(ctx, conv.ID, reply.OrderReport, now)
		if err != nil {
			log.Error("mark sold failed", "error", err)
		} else if won {
			e.metrics.ObserveSale(bot.TransportKind)
			log.Info("conversation sold", "conversation_id", conv.ID)
			if e.notifier != nil {
				e.notifier.NotifySale(ctx, bot, conv, reply.OrderReport)
			}
		}
	}

	payload, _ := json.Marshal(reply)
	for _, segment := range reply.Messages {
		msg := convo.Message{
			Role:      convo.RoleAssistant,
			Content:   segment,
			Payload:   payload,
			CreatedAt: now,
		}
		if err := e.store.AppendMessage(ctx, conv.ID, msg); err != nil {
			log.Error("persist assistant message failed", "error", err)
		}
		if err := e.cache.Append(ctx, conv.ID.String(), convo.CachedMessage{
			Role: convo.RoleAssistant, Content: segment, Timestamp: now,
		}); err != nil {
			log.Warn("transcript cache append failed", "error", err)
		}

		// Segments fail independently; a lost segment is not retried here.
		if err := e.sender.SendText(ctx, bot, event.Contact, segment); err != nil {
			e.metrics.ObserveOutbound(bot.TransportKind, "failed")
			log.Error("outbound send failed", "error", err)
			continue
		}
		e.metrics.ObserveOutbound(bot.TransportKind, "sent")
	}
}

// complete resolves the bot's AI key, builds the prompt and runs the model.
// AI failure ends the turn without a reply.
func (e *Engine) complete(ctx context.Context, log *logging.Logger, bot *bots.Bot, state *convo.State, history []convo.CachedMessage, inbound string) (Reply, bool) {
	secrets, err := e.secrets.Get(ctx, bot.ID)
	if err != nil {
		log.Error("secret lookup failed", "error", err)
		return Reply{}, false
	}

	client, err := e.llm(secrets.AIKey)
	if err != nil {
		log.Error("ai client init failed", "error", err)
		return Reply{}, false
	}
	if e.fallback != nil {
		client = NewFallbackLLMClient(client, e.fallback, log.Logger)
	}

	req := buildPrompt(bot, state, history, inbound)
	started := time.Now()
	resp, err := client.Complete(ctx, req)
	e.metrics.ObserveAILatency("primary", time.Since(started))
	if err != nil {
		e.metrics.ObserveAIFailure("primary")
		log.Error("ai completion failed", "error", err)
		return Reply{}, false
	}

	reply := ParseReply(resp.Text, [3]int{bot.SegmentLimit(0), bot.SegmentLimit(1), bot.SegmentLimit(2)})
	if len(reply.Messages) == 0 {
		log.Warn("ai reply had no usable segments")
		return Reply{}, false
	}
	return reply, true
}

// loadHistory prefers the Redis window and falls back to the durable log.
func (e *Engine) loadHistory(ctx context.Context, conversationID uuid.UUID) []convo.CachedMessage {
	cached, err := e.cache.List(ctx, conversationID.String(), int64(e.historyWindow))
	if err == nil && len(cached) > 0 {
		return cached
	}

	persisted, err := e.store.History(ctx, conversationID, e.historyWindow)
	if err != nil {
		e.logger.Warn("history load failed", "conversation_id", conversationID, "error", err)
		return nil
	}

	out := make([]convo.CachedMessage, 0, len(persisted))
	for _, msg := range persisted {
		out = append(out, convo.CachedMessage{Role: msg.Role, Content: msg.Content, Timestamp: msg.CreatedAt})
	}
	if len(out) > 0 {
		if err := e.cache.Prime(ctx, conversationID.String(), out); err != nil {
			e.logger.Warn("transcript cache prime failed", "conversation_id", conversationID, "error", err)
		}
	}
	return out
}
