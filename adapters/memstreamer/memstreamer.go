// Package memstreamer is the in-memory EventStreamer used by tests and
// single-process deployments. Topics share one append-only log; receivers
// track independent offsets so redelivery-after-missed-ack behaves like a
// real broker.
package memstreamer

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	workflow "github.com/nine-minds/alga-workflow"
)

func New(opts ...Option) *StreamConstructor {
	var (
		log []*entry
		opt options
	)

	opt.clock = clock.RealClock{}

	for _, option := range opts {
		option(&opt)
	}

	return &StreamConstructor{
		opts: &opt,
		stream: &stream{
			mu:  &sync.Mutex{},
			log: &log,
		},
	}
}

type options struct {
	clock clock.Clock
}

type Option func(o *options)

func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

type StreamConstructor struct {
	opts   *options
	stream *stream
}

func (s *StreamConstructor) NewSender(ctx context.Context, topic string) (workflow.EventSender, error) {
	s.stream.mu.Lock()
	defer s.stream.mu.Unlock()

	return &stream{
		mu:    s.stream.mu,
		log:   s.stream.log,
		topic: topic,
		clock: s.opts.clock,
	}, nil
}

func (s *StreamConstructor) NewReceiver(ctx context.Context, topic string, name string, opts ...workflow.ReceiverOption) (workflow.EventReceiver, error) {
	var ropts workflow.ReceiverOptions
	for _, opt := range opts {
		opt(&ropts)
	}
	if ropts.PollFrequency == 0 {
		ropts.PollFrequency = 10 * time.Millisecond
	}

	s.stream.mu.Lock()
	defer s.stream.mu.Unlock()

	return &stream{
		mu:    s.stream.mu,
		log:   s.stream.log,
		topic: topic,
		name:  name,
		clock: s.opts.clock,
		poll:  ropts.PollFrequency,
	}, nil
}

var _ workflow.EventStreamer = (*StreamConstructor)(nil)

type entry struct {
	topic string
	event workflow.QueueEvent
}

type stream struct {
	mu     *sync.Mutex
	log    *[]*entry
	offset int
	topic  string
	name   string
	clock  clock.Clock
	poll   time.Duration
}

func (s *stream) Send(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	*s.log = append(*s.log, &entry{
		topic: s.topic,
		event: workflow.QueueEvent{
			RunID:     runID,
			CreatedAt: s.clock.Now(),
		},
	})
	return nil
}

func (s *stream) Recv(ctx context.Context) (*workflow.QueueEvent, workflow.Ack, error) {
	for ctx.Err() == nil {
		s.mu.Lock()
		log := *s.log
		s.mu.Unlock()

		if len(log)-1 < s.offset {
			time.Sleep(s.poll)
			continue
		}

		e := log[s.offset]

		if s.topic != e.topic {
			s.offset += 1
			continue
		}

		ack := func() error {
			s.offset += 1
			return nil
		}

		return &e.event, ack, nil
	}

	return nil, nil, ctx.Err()
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log = nil
	s.offset = 0
	return nil
}

var (
	_ workflow.EventSender   = (*stream)(nil)
	_ workflow.EventReceiver = (*stream)(nil)
)
