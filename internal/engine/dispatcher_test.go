package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellzap/sellzap/internal/convo"
)

func TestDispatcherProcessesQueuedEvents(t *testing.T) {
	fx := newEngineFixture(t)
	queue := fx.engine.queue

	dispatcher := NewDispatcher(fx.engine, queue, nil, WithReceiveWaitSeconds(1))
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	require.NoError(t, fx.engine.Submit(ctx, InboundEvent{
		BotID: fx.bot.ID, Contact: "5511999887766", Text: "oi",
	}))

	require.Eventually(t, func() bool {
		return len(fx.store.messages(convo.RoleAssistant)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	dispatcher.Wait()
}

func TestDispatcherSerializesOneConversation(t *testing.T) {
	fx := newEngineFixture(t)
	fx.llm.delay = 50 * time.Millisecond
	queue := fx.engine.queue

	dispatcher := NewDispatcher(fx.engine, queue, nil, WithReceiveWaitSeconds(1))
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, fx.engine.Submit(ctx, InboundEvent{
			BotID: fx.bot.ID, Contact: "5511999887766", Text: "mensagem",
		}))
	}

	require.Eventually(t, func() bool {
		return len(fx.store.messages(convo.RoleUser)) == 5
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	dispatcher.Wait()

	// One lane means one AI call per inbound message, and with a slow
	// provider the turns still never overlap.
	assert.Equal(t, 5, fx.llm.calls)
	assert.Equal(t, 1, fx.llm.concurrencyPeak())
}

func TestDispatcherInterleavesDistinctConversations(t *testing.T) {
	fx := newEngineFixture(t)
	fx.llm.delay = 100 * time.Millisecond
	queue := fx.engine.queue

	dispatcher := NewDispatcher(fx.engine, queue, nil, WithReceiveWaitSeconds(1), WithReceiveBatchSize(4))
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	for _, contact := range []string{"5511999880001", "5511999880002", "5511999880003", "5511999880004"} {
		require.NoError(t, fx.engine.Submit(ctx, InboundEvent{
			BotID: fx.bot.ID, Contact: contact, Text: "mensagem",
		}))
	}

	require.Eventually(t, func() bool {
		return len(fx.store.messages(convo.RoleUser)) == 4
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	dispatcher.Wait()

	assert.Greater(t, fx.llm.concurrencyPeak(), 1, "unrelated conversations must run in parallel")
}

func TestDispatcherDropsEventWithoutBot(t *testing.T) {
	fx := newEngineFixture(t)
	queue := fx.engine.queue

	require.NoError(t, queue.Send(context.Background(), InboundEvent{
		Contact: "5511999887766", Text: "mensagem",
	}))

	dispatcher := NewDispatcher(fx.engine, queue, nil, WithReceiveWaitSeconds(1))
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	cancel()
	dispatcher.Wait()

	assert.Empty(t, fx.store.appended)
}
