package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellzap/sellzap/internal/bots"
	"github.com/sellzap/sellzap/internal/convo"
)

type captureEmail struct {
	sent []EmailMessage
	err  error
}

func (c *captureEmail) Send(_ context.Context, msg EmailMessage) error {
	c.sent = append(c.sent, msg)
	return c.err
}

type captureSender struct {
	to   []string
	body []string
	err  error
}

func (c *captureSender) SendText(_ context.Context, _ *bots.Bot, to, text string) error {
	c.to = append(c.to, to)
	c.body = append(c.body, text)
	return c.err
}

func saleBot() *bots.Bot {
	return &bots.Bot{
		ID:          uuid.New(),
		Name:        "Loja da Maria",
		ReportPhone: "5511988887777",
		OwnerEmail:  "maria@example.com",
	}
}

func saleConv() *convo.Conversation {
	return &convo.Conversation{
		ID:          uuid.New(),
		Contact:     "5511999887766",
		DisplayName: "João",
	}
}

func TestNotifySaleBothChannels(t *testing.T) {
	email := &captureEmail{}
	sender := &captureSender{}
	svc := NewService(email, sender, nil)

	svc.NotifySale(context.Background(), saleBot(), saleConv(), "1x kit completo - João")

	require.Len(t, sender.to, 1)
	assert.Equal(t, "5511988887777", sender.to[0])
	assert.Contains(t, sender.body[0], "1x kit completo - João")
	assert.Contains(t, sender.body[0], "João (5511999887766)")

	require.Len(t, email.sent, 1)
	assert.Equal(t, "maria@example.com", email.sent[0].To)
	assert.Contains(t, email.sent[0].Subject, "Loja da Maria")
}

func TestNotifySaleSkipsUnconfiguredChannels(t *testing.T) {
	email := &captureEmail{}
	sender := &captureSender{}
	svc := NewService(email, sender, nil)

	bot := saleBot()
	bot.ReportPhone = ""
	bot.OwnerEmail = ""

	svc.NotifySale(context.Background(), bot, saleConv(), "report")

	assert.Empty(t, sender.to)
	assert.Empty(t, email.sent)
}

func TestNotifySaleFailuresAreSwallowed(t *testing.T) {
	email := &captureEmail{err: errors.New("smtp down")}
	sender := &captureSender{err: errors.New("not connected")}
	svc := NewService(email, sender, nil)

	// Must not panic or propagate: the sale is already persisted.
	svc.NotifySale(context.Background(), saleBot(), saleConv(), "report")

	assert.Len(t, sender.to, 1)
	assert.Len(t, email.sent, 1)
}

func TestNotifySaleDefaultReport(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(nil, sender, nil)

	svc.NotifySale(context.Background(), saleBot(), saleConv(), "")

	require.Len(t, sender.body, 1)
	assert.Contains(t, sender.body[0], "Venda confirmada")
}

func TestNotifySaleNilArgs(t *testing.T) {
	svc := NewService(&captureEmail{}, &captureSender{}, nil)
	svc.NotifySale(context.Background(), nil, nil, "x")
}

func TestStubEmailSender(t *testing.T) {
	stub := NewStubEmailSender(nil)
	assert.NoError(t, stub.Send(context.Background(), EmailMessage{To: "x@example.com", Subject: "s"}))
}

func TestEmailSenderConstructorsRequireConfig(t *testing.T) {
	assert.Nil(t, NewSendGridSender("", "vendas@sellzap.com", "", nil))
	assert.Nil(t, NewSendGridSender("sg-key", "", "", nil))
	assert.Nil(t, NewSESSender(nil, "vendas@sellzap.com", "", nil))

	sg := NewSendGridSender("sg-key", "vendas@sellzap.com", "", nil)
	require.NotNil(t, sg)
	assert.Equal(t, defaultFromName, sg.fromName)
}
