//go:build adapters_sqs
// +build adapters_sqs

package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/KamdynS/pacer/queue"
)

// Queue implements queue.Queue backed by AWS SQS. Hints are at-most-once:
// received messages are deleted immediately, because a lost hint only costs
// one poll interval.
type Queue struct {
	client *sqs.Client
	cfg    Config
}

// New constructs a new SQS-backed queue adapter using default AWS config chain.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("QueueURL is required")
	}
	if cfg.WaitTimeSeconds == 0 {
		cfg.WaitTimeSeconds = DefaultConfig().WaitTimeSeconds
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewFromClient(sqs.NewFromConfig(awscfg), cfg), nil
}

// NewFromClient constructs the adapter from an existing SQS client.
func NewFromClient(client *sqs.Client, cfg Config) *Queue {
	return &Queue{client: client, cfg: cfg}
}

// Enqueue sends a hint to SQS. queueName travels as a message attribute;
// QueueURL controls the destination.
func (q *Queue) Enqueue(ctx context.Context, queueName string, n *queue.Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.cfg.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"QueueName": {
				DataType:    aws.String("String"),
				StringValue: aws.String(queueName),
			},
			"Kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(n.Kind)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs SendMessage: %w", err)
	}
	return nil
}

// Dequeue retrieves a hint using the configured WaitTimeSeconds.
func (q *Queue) Dequeue(ctx context.Context, queueName string) (*queue.Notice, error) {
	wait := time.Duration(q.cfg.WaitTimeSeconds) * time.Second
	return q.DequeueWithTimeout(ctx, queueName, wait)
}

// DequeueWithTimeout performs long-poll ReceiveMessage and returns a single
// hint if available. The message is deleted on receipt.
func (q *Queue) DequeueWithTimeout(ctx context.Context, _ string, timeout time.Duration) (*queue.Notice, error) {
	waitSec := q.cfg.WaitTimeSeconds
	if timeout > 0 && int(timeout/time.Second) < waitSec {
		waitSec = int(timeout / time.Second)
	}
	if waitSec < 0 {
		waitSec = 0
	}
	if waitSec > 20 {
		waitSec = 20
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.cfg.QueueURL),
		MessageAttributeNames: []string{"All"},
		MaxNumberOfMessages:   1,
		WaitTimeSeconds:       int32Ptr(int32(waitSec)),
	})
	if err != nil {
		return nil, fmt.Errorf("sqs ReceiveMessage: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	msg := out.Messages[0]

	if msg.ReceiptHandle != nil {
		_, _ = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.cfg.QueueURL),
			ReceiptHandle: msg.ReceiptHandle,
		})
	}
	if msg.Body == nil {
		return nil, nil
	}
	var n queue.Notice
	if err := json.Unmarshal([]byte(*msg.Body), &n); err != nil {
		return nil, fmt.Errorf("unmarshal notice body: %w", err)
	}
	return &n, nil
}

// Len returns ApproximateNumberOfMessages (ready only).
func (q *Queue) Len(ctx context.Context, _ string) (int, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.cfg.QueueURL),
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqs GetQueueAttributes: %w", err)
	}
	if out.Attributes == nil {
		return 0, nil
	}
	s := out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)]
	if s == "" {
		return 0, nil
	}
	n, convErr := strconv.Atoi(s)
	if convErr != nil {
		return 0, nil
	}
	return n, nil
}

func (q *Queue) Close() error {
	return nil
}

func int32Ptr(v int32) *int32 { return &v }
