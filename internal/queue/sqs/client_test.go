package sqs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pushgate.dev/internal/queue"
)

// fakeSQS scripts ReceiveMessage responses and records every call
type fakeSQS struct {
	receiveInputs  []*awssqs.ReceiveMessageInput
	receiveOutputs []*awssqs.ReceiveMessageOutput
	receiveErr     error

	deleteInputs []*awssqs.DeleteMessageBatchInput
	deleteOutput *awssqs.DeleteMessageBatchOutput
	deleteErr    error

	attrErr error
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error) {
	f.receiveInputs = append(f.receiveInputs, params)
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	if len(f.receiveOutputs) == 0 {
		return &awssqs.ReceiveMessageOutput{}, nil
	}
	out := f.receiveOutputs[0]
	f.receiveOutputs = f.receiveOutputs[1:]
	return out, nil
}

func (f *fakeSQS) DeleteMessageBatch(ctx context.Context, params *awssqs.DeleteMessageBatchInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageBatchOutput, error) {
	f.deleteInputs = append(f.deleteInputs, params)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	if f.deleteOutput != nil {
		return f.deleteOutput, nil
	}
	return &awssqs.DeleteMessageBatchOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(ctx context.Context, params *awssqs.GetQueueAttributesInput, optFns ...func(*awssqs.Options)) (*awssqs.GetQueueAttributesOutput, error) {
	if f.attrErr != nil {
		return nil, f.attrErr
	}
	return &awssqs.GetQueueAttributesOutput{}, nil
}

func sqsMessages(n int, prefix string) []types.Message {
	msgs := make([]types.Message, n)
	for i := range msgs {
		msgs[i] = types.Message{
			MessageId:     aws.String(fmt.Sprintf("%s-%d", prefix, i)),
			Body:          aws.String(`{"applicationId":"app-a"}`),
			ReceiptHandle: aws.String(fmt.Sprintf("rh-%s-%d", prefix, i)),
		}
	}
	return msgs
}

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123/notifications"

func TestPollMapsLeaseAndWait(t *testing.T) {
	fake := &fakeSQS{receiveOutputs: []*awssqs.ReceiveMessageOutput{
		{Messages: sqsMessages(3, "m")},
	}}
	client := NewClientWithAPI(fake, testQueueURL)

	msgs, err := client.Poll(context.Background(), 10, 25*time.Second, 5*time.Second)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	require.Len(t, fake.receiveInputs, 1)
	in := fake.receiveInputs[0]
	assert.Equal(t, testQueueURL, aws.ToString(in.QueueUrl))
	assert.Equal(t, int32(10), in.MaxNumberOfMessages)
	assert.Equal(t, int32(25), in.VisibilityTimeout, "the lease maps to the per-receive visibility timeout")
	assert.Equal(t, int32(5), in.WaitTimeSeconds)
}

func TestPollCapsWaitAtSQSLimit(t *testing.T) {
	fake := &fakeSQS{}
	client := NewClientWithAPI(fake, testQueueURL)

	_, err := client.Poll(context.Background(), 5, 25*time.Second, 90*time.Second)
	require.NoError(t, err)

	require.Len(t, fake.receiveInputs, 1)
	assert.Equal(t, int32(20), fake.receiveInputs[0].WaitTimeSeconds)
}

func TestPollChunksLargeBatches(t *testing.T) {
	fake := &fakeSQS{receiveOutputs: []*awssqs.ReceiveMessageOutput{
		{Messages: sqsMessages(10, "a")},
		{Messages: sqsMessages(10, "b")},
		{Messages: sqsMessages(5, "c")},
	}}
	client := NewClientWithAPI(fake, testQueueURL)

	msgs, err := client.Poll(context.Background(), 25, 25*time.Second, 5*time.Second)
	require.NoError(t, err)
	assert.Len(t, msgs, 25)

	require.Len(t, fake.receiveInputs, 3)
	assert.Equal(t, int32(10), fake.receiveInputs[0].MaxNumberOfMessages)
	assert.Equal(t, int32(10), fake.receiveInputs[1].MaxNumberOfMessages)
	assert.Equal(t, int32(5), fake.receiveInputs[2].MaxNumberOfMessages)

	// Only the first receive long-polls.
	assert.Equal(t, int32(5), fake.receiveInputs[0].WaitTimeSeconds)
	assert.Equal(t, int32(0), fake.receiveInputs[1].WaitTimeSeconds)
	assert.Equal(t, int32(0), fake.receiveInputs[2].WaitTimeSeconds)
}

func TestPollStopsOnShortReceive(t *testing.T) {
	fake := &fakeSQS{receiveOutputs: []*awssqs.ReceiveMessageOutput{
		{Messages: sqsMessages(4, "a")},
	}}
	client := NewClientWithAPI(fake, testQueueURL)

	msgs, err := client.Poll(context.Background(), 30, 25*time.Second, 5*time.Second)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
	assert.Len(t, fake.receiveInputs, 1, "a short receive means the queue is drained")
}

func TestPollError(t *testing.T) {
	fake := &fakeSQS{receiveErr: errors.New("throttled")}
	client := NewClientWithAPI(fake, testQueueURL)

	_, err := client.Poll(context.Background(), 10, 25*time.Second, 5*time.Second)
	assert.Error(t, err)
}

func TestCommitDeletesInChunks(t *testing.T) {
	fake := &fakeSQS{receiveOutputs: []*awssqs.ReceiveMessageOutput{
		{Messages: sqsMessages(10, "a")},
		{Messages: sqsMessages(2, "b")},
	}}
	client := NewClientWithAPI(fake, testQueueURL)

	msgs, err := client.Poll(context.Background(), 12, 25*time.Second, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 12)

	require.NoError(t, client.Commit(context.Background(), msgs))

	require.Len(t, fake.deleteInputs, 2)
	assert.Len(t, fake.deleteInputs[0].Entries, 10)
	assert.Len(t, fake.deleteInputs[1].Entries, 2)
	assert.Equal(t, "rh-a-0", aws.ToString(fake.deleteInputs[0].Entries[0].ReceiptHandle))
}

func TestCommitPartialFailureIsNotFatal(t *testing.T) {
	fake := &fakeSQS{
		receiveOutputs: []*awssqs.ReceiveMessageOutput{{Messages: sqsMessages(2, "a")}},
		deleteOutput: &awssqs.DeleteMessageBatchOutput{
			Failed: []types.BatchResultErrorEntry{{Id: aws.String("0")}},
		},
	}
	client := NewClientWithAPI(fake, testQueueURL)

	msgs, err := client.Poll(context.Background(), 2, 25*time.Second, 5*time.Second)
	require.NoError(t, err)

	// Failed entries stay leased for redelivery; the commit itself succeeds.
	assert.NoError(t, client.Commit(context.Background(), msgs))
}

type foreignMessage struct{}

func (foreignMessage) ID() string   { return "foreign" }
func (foreignMessage) Data() []byte { return nil }

func TestCommitRejectsForeignMessages(t *testing.T) {
	client := NewClientWithAPI(&fakeSQS{}, testQueueURL)

	err := client.Commit(context.Background(), []queue.Message{foreignMessage{}})
	assert.Error(t, err)
}
