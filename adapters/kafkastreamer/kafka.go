// Package kafkastreamer carries the ready-run queue over Kafka. One
// partitioned topic per queue; the receiver name is the consumer group, so
// multiple engine instances share the advancing work and acking commits the
// group offset.
package kafkastreamer

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	workflow "github.com/nine-minds/alga-workflow"
)

func New(brokers []string) *StreamConstructor {
	return &StreamConstructor{
		brokers: brokers,
	}
}

var _ workflow.EventStreamer = (*StreamConstructor)(nil)

type StreamConstructor struct {
	brokers []string
}

func (s *StreamConstructor) NewSender(ctx context.Context, topic string) (workflow.EventSender, error) {
	return &Sender{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(s.brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}, nil
}

type Sender struct {
	writer *kafka.Writer
}

var _ workflow.EventSender = (*Sender)(nil)

// Send keys the message by run ID so all messages of one run land on one
// partition and stay ordered.
func (s *Sender) Send(ctx context.Context, runID string) error {
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(runID),
		Value: []byte(runID),
	})
}

func (s *Sender) Close() error {
	return s.writer.Close()
}

func (s *StreamConstructor) NewReceiver(
	ctx context.Context,
	topic string,
	name string,
	opts ...workflow.ReceiverOption,
) (workflow.EventReceiver, error) {
	var ropts workflow.ReceiverOptions
	for _, opt := range opts {
		opt(&ropts)
	}

	maxWait := ropts.PollFrequency
	if maxWait == 0 {
		maxWait = 250 * time.Millisecond
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.brokers,
		Topic:       topic,
		GroupID:     name,
		MaxWait:     maxWait,
		StartOffset: kafka.FirstOffset,
	})

	return &Receiver{reader: reader}, nil
}

type Receiver struct {
	reader *kafka.Reader
}

var _ workflow.EventReceiver = (*Receiver)(nil)

func (r *Receiver) Recv(ctx context.Context) (*workflow.QueueEvent, workflow.Ack, error) {
	m, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, nil, err
	}

	qe := &workflow.QueueEvent{
		RunID:     string(m.Value),
		CreatedAt: m.Time,
	}

	ack := func() error {
		return r.reader.CommitMessages(ctx, m)
	}

	return qe, ack, nil
}

func (r *Receiver) Close() error {
	return r.reader.Close()
}
