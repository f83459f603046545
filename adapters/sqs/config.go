//go:build adapters_sqs
// +build adapters_sqs

package sqsqueue

// Config controls the SQS adapter behavior.
type Config struct {
	// Required: fully qualified SQS queue URL. All hint queues share one
	// SQS queue; a hint delivered to the wrong poller is a harmless early
	// wake, since pollers rescan the store regardless.
	QueueURL string

	// Optional: AWS region; falls back to default chain if empty
	Region string

	// ReceiveMessage long polling seconds (0..20). If DequeueWithTimeout
	// supplies a shorter timeout, that value is used instead for that call.
	WaitTimeSeconds int
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		WaitTimeSeconds: 20,
	}
}
