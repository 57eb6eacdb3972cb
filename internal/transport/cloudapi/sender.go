package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sellzap/sellzap/internal/bots"
	"github.com/sellzap/sellzap/pkg/logging"
)

var sendTracer = otel.Tracer("sellzap.internal.transport.cloudapi")

// SecretSource yields a bot's decrypted provider credentials at send time.
type SecretSource interface {
	Get(ctx context.Context, botID uuid.UUID) (bots.Secrets, error)
}

// Sender posts text messages through the WhatsApp Cloud (Graph) API. Each
// send resolves the bot's own access token and phone number id, so one
// Sender serves every cloud-transport bot.
type Sender struct {
	baseURL    string
	secrets    SecretSource
	httpClient *http.Client
	logger     *logging.Logger
}

// NewSender builds a Graph API sender. baseURL defaults to the production
// Graph endpoint and is overridable for tests.
func NewSender(baseURL string, secrets SecretSource, logger *logging.Logger) *Sender {
	if secrets == nil {
		panic("cloudapi: secrets cannot be nil")
	}
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v21.0"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sender{
		baseURL: strings.TrimRight(baseURL, "/"),
		secrets: secrets,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// SendText makes a single outbound Graph API call; failures surface to the
// caller and are not retried here.
func (s *Sender) SendText(ctx context.Context, bot *bots.Bot, to, text string) error {
	if bot == nil {
		return errors.New("cloudapi: bot required")
	}
	if to == "" {
		return errors.New("cloudapi: to required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("cloudapi: text required")
	}

	ctx, span := sendTracer.Start(ctx, "transport.cloudapi.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("sellzap.bot_id", bot.ID.String()),
		attribute.String("sellzap.to", to),
	)

	secrets, err := s.secrets.Get(ctx, bot.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("cloudapi: resolve credentials: %w", err)
	}
	if secrets.ProviderToken == "" || secrets.PhoneNumberID == "" {
		return errors.New("cloudapi: bot has no cloud api credentials")
	}

	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             sendText{Body: text},
	})
	if err != nil {
		return fmt.Errorf("cloudapi: marshal send payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, secrets.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cloudapi: build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+secrets.ProviderToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("cloudapi: send request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed sendResponse
		if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Error != nil {
			return fmt.Errorf("cloudapi: graph api error %d (%s): %s",
				parsed.Error.Code, parsed.Error.Type, parsed.Error.Message)
		}
		return fmt.Errorf("cloudapi: graph api status %d", resp.StatusCode)
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err == nil && len(parsed.Messages) > 0 {
		s.logger.Debug("cloud api message sent", "bot_id", bot.ID, "provider_message_id", parsed.Messages[0].ID)
	}
	return nil
}
