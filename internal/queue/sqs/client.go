// Package sqs provides the AWS SQS queue implementation
package sqs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"

	"go.pushgate.dev/internal/common/metrics"
	"go.pushgate.dev/internal/queue"
)

// SQS caps ReceiveMessage at 10 messages and long polling at 20 seconds.
const (
	maxReceiveBatch    = 10
	maxWaitTimeSeconds = 20
)

// SQSClientAPI defines the interface for SQS client operations (for testing)
type SQSClientAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Client provides poll/commit access to an SQS queue.
// One Client is shared by all listener workers; the AWS SDK client is safe
// for concurrent use.
type Client struct {
	sqs      SQSClientAPI
	queueURL string
}

// NewClient creates a new SQS queue client
func NewClient(ctx context.Context, cfg *queue.SQSConfig) (*Client, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("sqs: queue URL is required")
	}

	var awsCfg aws.Config
	var err error

	if cfg.CustomEndpoint != "" {
		// LocalStack/testing mode with custom endpoint
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.CustomEndpoint)
		})

		return &Client{sqs: sqsClient, queueURL: cfg.QueueURL}, nil
	}

	awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{sqs: sqs.NewFromConfig(awsCfg), queueURL: cfg.QueueURL}, nil
}

// NewClientWithAPI creates a client around an existing SQS API (for testing)
func NewClientWithAPI(api SQSClientAPI, queueURL string) *Client {
	return &Client{sqs: api, queueURL: queueURL}
}

// Poll retrieves up to max messages from the queue. SQS limits a single
// ReceiveMessage to 10 messages, so larger batches are filled with repeated
// calls; only the first call long-polls, follow-ups return whatever is
// immediately available.
func (c *Client) Poll(ctx context.Context, max int, lease, wait time.Duration) ([]queue.Message, error) {
	if max <= 0 {
		return nil, nil
	}

	waitSeconds := int32(wait / time.Second)
	if waitSeconds > maxWaitTimeSeconds {
		waitSeconds = maxWaitTimeSeconds
	}

	leaseSeconds := int32(lease / time.Second)
	if leaseSeconds < 1 {
		leaseSeconds = 1
	}

	var out []queue.Message
	for len(out) < max {
		want := max - len(out)
		if want > maxReceiveBatch {
			want = maxReceiveBatch
		}

		input := &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(c.queueURL),
			MaxNumberOfMessages:   int32(want),
			WaitTimeSeconds:       waitSeconds,
			VisibilityTimeout:     leaseSeconds,
			MessageAttributeNames: []string{"All"},
		}

		result, err := c.sqs.ReceiveMessage(ctx, input)
		if err != nil {
			metrics.QueuePollErrors.WithLabelValues("sqs").Inc()
			return nil, fmt.Errorf("failed to receive messages: %w", err)
		}

		for i := range result.Messages {
			out = append(out, &Message{
				msg:       &result.Messages[i],
				messageID: aws.ToString(result.Messages[i].MessageId),
			})
		}

		// A short receive means the queue is drained for now.
		if len(result.Messages) < want {
			break
		}

		// Follow-up calls should not block the whole wait window again.
		waitSeconds = 0
	}

	metrics.QueueMessagesPolled.WithLabelValues("sqs").Add(float64(len(out)))
	return out, nil
}

// Commit deletes the given messages from the queue in batches of 10.
// Entries SQS reports as failed are logged and left to lease expiry; they
// will be redelivered and processed again (at-least-once).
func (c *Client) Commit(ctx context.Context, msgs []queue.Message) error {
	for start := 0; start < len(msgs); start += maxReceiveBatch {
		end := start + maxReceiveBatch
		if end > len(msgs) {
			end = len(msgs)
		}

		entries := make([]types.DeleteMessageBatchRequestEntry, 0, end-start)
		for i := start; i < end; i++ {
			m, ok := msgs[i].(*Message)
			if !ok {
				return fmt.Errorf("sqs: commit of foreign message type %T", msgs[i])
			}
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(strconv.Itoa(i)),
				ReceiptHandle: m.msg.ReceiptHandle,
			})
		}

		result, err := c.sqs.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(c.queueURL),
			Entries:  entries,
		})
		if err != nil {
			metrics.QueueCommitErrors.WithLabelValues("sqs").Inc()
			return fmt.Errorf("failed to delete message batch: %w", err)
		}

		if len(result.Failed) > 0 {
			// Not fatal: the failed messages stay leased and will be
			// redelivered once the lease expires.
			metrics.QueueCommitErrors.WithLabelValues("sqs").Add(float64(len(result.Failed)))
			log.Warn().
				Int("failed", len(result.Failed)).
				Int("deleted", len(result.Successful)).
				Msg("Some messages failed to delete, leaving to lease expiry")
		}
	}

	return nil
}

// HealthCheck verifies that the SQS queue is accessible
func (c *Client) HealthCheck(ctx context.Context) error {
	input := &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(c.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
		},
	}

	_, err := c.sqs.GetQueueAttributes(ctx, input)
	return err
}

// QueueURL returns the configured queue URL
func (c *Client) QueueURL() string {
	return c.queueURL
}

// Close releases the client. The AWS SDK holds no long-lived connections that
// need explicit teardown.
func (c *Client) Close() error {
	return nil
}

// Message wraps a received SQS message
type Message struct {
	msg       *types.Message
	messageID string
}

// ID returns the SQS message ID
func (m *Message) ID() string {
	return m.messageID
}

// Data returns the message payload
func (m *Message) Data() []byte {
	if m.msg.Body != nil {
		return []byte(*m.msg.Body)
	}
	return nil
}
