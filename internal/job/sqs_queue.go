package job

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/logging"
	"github.com/faveindex/internal/models"
)

// SQSAPI abstracts the SQS operations the queue needs
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is a Queue backed by an SQS standard queue
type SQSQueue struct {
	client            SQSAPI
	queueURL          string
	maxMessages       int32
	visibilityTimeout time.Duration
}

// NewSQSQueue creates a new SQSQueue
func NewSQSQueue(client SQSAPI, queueURL string, maxMessages int, visibilityTimeout time.Duration) *SQSQueue {
	return &SQSQueue{
		client:            client,
		queueURL:          queueURL,
		maxMessages:       int32(maxMessages),
		visibilityTimeout: visibilityTimeout,
	}
}

// Enqueue implements Queue
func (q *SQSQueue) Enqueue(ctx context.Context, j models.Job) error {
	body, err := encodeJob(j)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return apperrors.NewQueueError("send", err)
	}
	return nil
}

// Poll implements Queue
func (q *SQSQueue) Poll(ctx context.Context) []models.Job {
	logger := logging.FromContext(ctx)

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: q.maxMessages,
		VisibilityTimeout:   int32(q.visibilityTimeout / time.Second),
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to receive jobs")
		return nil
	}

	jobs := make([]models.Job, 0, len(out.Messages))
	for _, msg := range out.Messages {
		handle := aws.ToString(msg.ReceiptHandle)
		j, err := decodeJob(aws.ToString(msg.Body))
		if err != nil {
			// a body that never decodes would otherwise cycle forever
			logger.WithError(err).WithField("messageId", aws.ToString(msg.MessageId)).Warn("Dropping malformed job")
			_ = q.Ack(ctx, handle)
			continue
		}
		j.ReceiptHandle = handle
		jobs = append(jobs, j)
	}
	return jobs
}

// Ack implements Queue
func (q *SQSQueue) Ack(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return apperrors.NewQueueError("delete", err)
	}
	return nil
}
