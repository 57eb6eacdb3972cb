package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sellzap/sellzap/pkg/logging"
)

const (
	defaultReceiveWaitSecs  = 2
	defaultReceiveBatchSize = 5
	maxReceiveWaitSecs      = 20
	maxReceiveBatchSize     = 10
	deleteTimeoutSeconds    = 5
)

// Dispatcher drains the engine queue and hands each event to a
// per-conversation lane, so turns within one conversation run strictly in
// arrival order while conversations run in parallel.
type Dispatcher struct {
	engine *Engine
	queue  queueClient
	lanes  *keyedExecutor
	logger *logging.Logger

	receiveWaitSecs  int
	receiveBatchSize int
	wg               sync.WaitGroup
}

// DispatcherOption customizes dispatcher behavior.
type DispatcherOption func(*Dispatcher)

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) DispatcherOption {
	return func(d *Dispatcher) {
		if seconds < 0 {
			return
		}
		if seconds > maxReceiveWaitSecs {
			seconds = maxReceiveWaitSecs
		}
		d.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		d.receiveBatchSize = size
	}
}

// NewDispatcher constructs the queue consumer around an engine. The queue
// must be the same one the engine's Submit publishes to.
func NewDispatcher(engine *Engine, queue Queue, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if engine == nil {
		panic("engine: engine cannot be nil")
	}
	if queue == nil {
		panic("engine: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	d := &Dispatcher{
		engine:           engine,
		queue:            queue,
		lanes:            newKeyedExecutor(),
		logger:           logger,
		receiveWaitSecs:  defaultReceiveWaitSecs,
		receiveBatchSize: defaultReceiveBatchSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the consumer loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Wait blocks until the consumer loop and all in-flight turns finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
	d.lanes.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	d.logger.Debug("engine dispatcher started")

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("engine dispatcher stopping")
			return
		default:
		}

		messages, err := d.queue.Receive(ctx, d.receiveBatchSize, d.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Error("failed to receive inbound events", "error", err)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			d.handleMessage(ctx, msg)
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg queuedEvent) {
	event := msg.Event
	if event.BotID == uuid.Nil {
		d.logger.Error("dropping inbound event without bot id", "event_id", event.ID)
		d.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	key := event.BotID.String() + "|" + event.Contact
	d.lanes.Submit(key, func() {
		d.engine.processTurn(ctx, event)
		d.deleteMessage(context.Background(), msg.ReceiptHandle)
	})
}

func (d *Dispatcher) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := d.queue.Delete(deleteCtx, receiptHandle); err != nil {
		d.logger.Error("failed to delete inbound event", "error", err)
	}
}
