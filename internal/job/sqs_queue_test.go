package job

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faveindex/internal/models"
)

type mockSQS struct {
	sent       []*sqs.SendMessageInput
	received   []*sqs.ReceiveMessageInput
	deleted    []string
	messages   []sqstypes.Message
	receiveErr error
	deleteErr  error
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.sent = append(m.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.received = append(m.received, in)
	if m.receiveErr != nil {
		return nil, m.receiveErr
	}
	return &sqs.ReceiveMessageOutput{Messages: m.messages}, nil
}

func (m *mockSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, aws.ToString(in.ReceiptHandle))
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	return &sqs.DeleteMessageOutput{}, nil
}

func message(handle, body string) sqstypes.Message {
	return sqstypes.Message{ReceiptHandle: aws.String(handle), Body: aws.String(body), MessageId: aws.String(handle)}
}

func TestSQSQueueEnqueue(t *testing.T) {
	m := &mockSQS{}
	q := NewSQSQueue(m, "https://sqs.us-east-1.amazonaws.com/1/faveindex", 10, 300*time.Second)

	require.NoError(t, q.Enqueue(context.Background(), models.Job{UserID: "twitter|1", Amount: 15}))
	require.Len(t, m.sent, 1)
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/1/faveindex", aws.ToString(m.sent[0].QueueUrl))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(m.sent[0].MessageBody)), &body))
	assert.Equal(t, "twitter|1", body["userId"])
	assert.EqualValues(t, 15, body["amount"])
	assert.NotContains(t, body, "ReceiptHandle")
}

func TestSQSQueuePoll(t *testing.T) {
	m := &mockSQS{messages: []sqstypes.Message{
		message("h1", `{"userId":"twitter|1","amount":2}`),
		message("h2", `garbage`),
		message("h3", `{"userId":"twitter|2","amount":15}`),
	}}
	q := NewSQSQueue(m, "url", 10, 300*time.Second)

	jobs := q.Poll(context.Background())

	require.Len(t, jobs, 2)
	assert.Equal(t, models.Job{UserID: "twitter|1", Amount: 2, ReceiptHandle: "h1"}, jobs[0])
	assert.Equal(t, "h3", jobs[1].ReceiptHandle)
	assert.Equal(t, []string{"h2"}, m.deleted, "malformed message is deleted")

	require.Len(t, m.received, 1)
	assert.Equal(t, int32(10), m.received[0].MaxNumberOfMessages)
	assert.Equal(t, int32(300), m.received[0].VisibilityTimeout)
}

func TestSQSQueuePollErrorYieldsEmptyBatch(t *testing.T) {
	q := NewSQSQueue(&mockSQS{receiveErr: errors.New("throttled")}, "url", 10, 300*time.Second)
	assert.Empty(t, q.Poll(context.Background()))
}

func TestSQSQueueAckErrorIsSoft(t *testing.T) {
	m := &mockSQS{deleteErr: errors.New("ReceiptHandleIsInvalid")}
	q := NewSQSQueue(m, "url", 10, 300*time.Second)

	err := q.Ack(context.Background(), "expired")
	assert.Error(t, err)
	assert.Equal(t, []string{"expired"}, m.deleted)
}
