package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/sellzap/sellzap/pkg/logging"
)

// SQSQueue moves events through AWS/LocalStack SQS as JSON bodies, for
// deployments where webhook ingestion and the dispatcher run in separate
// processes.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
	logger   *logging.Logger
}

// NewSQSQueue creates a queue wrapper around the provided SQS client.
func NewSQSQueue(client *sqs.Client, queueURL string, logger *logging.Logger) *SQSQueue {
	if client == nil {
		panic("engine: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("engine: SQS queueURL cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSQueue{client: client, queueURL: queueURL, logger: logger}
}

func (q *SQSQueue) Send(ctx context.Context, event InboundEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("engine: failed to encode event: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("engine: failed to send SQS message: %w", err)
	}
	return nil
}

// Receive long-polls the queue and decodes each body. A message that does
// not decode is deleted on the spot so it cannot redeliver forever.
func (q *SQSQueue) Receive(ctx context.Context, maxEvents int, waitSeconds int) ([]queuedEvent, error) {
	output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxEvents),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("engine: failed to receive SQS messages: %w", err)
	}

	events := make([]queuedEvent, 0, len(output.Messages))
	for _, msg := range output.Messages {
		var event InboundEvent
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &event); err != nil {
			q.logger.Error("dropping undecodable queue message",
				"msg_id", aws.ToString(msg.MessageId), "error", err)
			if err := q.Delete(ctx, aws.ToString(msg.ReceiptHandle)); err != nil {
				q.logger.Error("failed to delete undecodable queue message", "error", err)
			}
			continue
		}
		events = append(events, queuedEvent{
			Event:         event,
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return events, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("engine: failed to delete SQS message: %w", err)
	}
	return nil
}
