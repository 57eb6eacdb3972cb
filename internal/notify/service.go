// Package notify tells bot owners about closed sales: an order report to the
// owner's report phone over the bot's own transport, and an email copy.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sellzap/sellzap/internal/bots"
	"github.com/sellzap/sellzap/internal/convo"
	"github.com/sellzap/sellzap/pkg/logging"
)

// MessageSender delivers the report message over the bot's transport.
type MessageSender interface {
	SendText(ctx context.Context, bot *bots.Bot, to, text string) error
}

// Service fans a sale out to the owner's configured channels. Notification
// failures are logged, never propagated: the sale is already durably marked
// by the time the service runs.
type Service struct {
	email  EmailSender
	sender MessageSender
	logger *logging.Logger
}

// NewService creates a sale notification service. Both channels are
// optional; a nil channel is skipped.
func NewService(email EmailSender, sender MessageSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, sender: sender, logger: logger}
}

// NotifySale reports one closed sale to the bot's owner.
func (s *Service) NotifySale(ctx context.Context, bot *bots.Bot, conv *convo.Conversation, report string) {
	if bot == nil || conv == nil {
		return
	}
	if report == "" {
		report = fmt.Sprintf("Venda confirmada na conversa com %s.", contactLabel(conv))
	}

	if s.sender != nil && bot.ReportPhone != "" {
		body := fmt.Sprintf("🎉 Venda confirmada!\n\nBot: %s\nCliente: %s\n\n%s",
			bot.Name, contactLabel(conv), report)
		if err := s.sender.SendText(ctx, bot, bot.ReportPhone, body); err != nil {
			s.logger.Error("sale report message failed", "bot_id", bot.ID, "error", err)
		}
	}

	if s.email != nil && bot.OwnerEmail != "" {
		msg := EmailMessage{
			To:      bot.OwnerEmail,
			Subject: fmt.Sprintf("Venda confirmada - %s", bot.Name),
			Body: fmt.Sprintf("Uma venda foi confirmada em %s.\n\nBot: %s\nCliente: %s\n\nRelatório do pedido:\n%s\n",
				time.Now().Format("02/01/2006 15:04"), bot.Name, contactLabel(conv), report),
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("sale report email failed", "bot_id", bot.ID, "error", err)
		}
	}

	s.logger.Info("sale notified", "bot_id", bot.ID, "conversation_id", conv.ID)
}

func contactLabel(conv *convo.Conversation) string {
	if name := strings.TrimSpace(conv.DisplayName); name != "" {
		return fmt.Sprintf("%s (%s)", name, conv.Contact)
	}
	return conv.Contact
}
