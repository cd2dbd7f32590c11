package workflow

import (
	"context"
	"time"
)

// TopicReadyRuns carries run IDs that are ready to be advanced: newly
// started runs, runs resumed by a matched event, elapsed timers and
// completed sub-workflows. Delivery is at-least-once; idempotent step
// execution is the correctness backstop.
const TopicReadyRuns = "workflow-runs-ready"

// QueueEvent is one message on the ready-run queue.
type QueueEvent struct {
	RunID     string
	CreatedAt time.Time
}

// EventStreamer is the transport adapter interface for the ready-run queue.
// adapters/memstreamer provides the in-memory implementation and
// adapters/kafkastreamer the Kafka one.
type EventStreamer interface {
	NewSender(ctx context.Context, topic string) (EventSender, error)
	NewReceiver(ctx context.Context, topic string, name string, opts ...ReceiverOption) (EventReceiver, error)
}

type EventSender interface {
	Send(ctx context.Context, runID string) error
	Close() error
}

type EventReceiver interface {
	Recv(ctx context.Context) (*QueueEvent, Ack, error)
	Close() error
}

// Ack is used for the streamer to update its cursor of consumed messages.
// If Ack is not called the message will be redelivered.
type Ack func() error

type ReceiverOptions struct {
	PollFrequency time.Duration
}

type ReceiverOption func(*ReceiverOptions)

func WithReceiverPollFrequency(d time.Duration) ReceiverOption {
	return func(opt *ReceiverOptions) {
		opt.PollFrequency = d
	}
}
