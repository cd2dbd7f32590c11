package memstreamer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nine-minds/alga-workflow/adapters/memstreamer"
)

func TestSendRecvAck(t *testing.T) {
	ctx := context.Background()
	constructor := memstreamer.New()

	sender, err := constructor.NewSender(ctx, "runs")
	require.NoError(t, err)
	receiver, err := constructor.NewReceiver(ctx, "runs", "advancer")
	require.NoError(t, err)

	require.NoError(t, sender.Send(ctx, "run-1"))
	require.NoError(t, sender.Send(ctx, "run-2"))

	ev, ack, err := receiver.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-1", ev.RunID)
	require.False(t, ev.CreatedAt.IsZero())
	require.NoError(t, ack())

	ev, ack, err = receiver.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-2", ev.RunID)
	require.NoError(t, ack())
}

func TestRedeliveryWithoutAck(t *testing.T) {
	ctx := context.Background()
	constructor := memstreamer.New()

	sender, err := constructor.NewSender(ctx, "runs")
	require.NoError(t, err)
	receiver, err := constructor.NewReceiver(ctx, "runs", "advancer")
	require.NoError(t, err)

	require.NoError(t, sender.Send(ctx, "run-1"))

	ev, _, err := receiver.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-1", ev.RunID)

	// The unacked event is delivered again.
	ev, ack, err := receiver.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-1", ev.RunID)
	require.NoError(t, ack())
}

func TestTopicIsolation(t *testing.T) {
	ctx := context.Background()
	constructor := memstreamer.New()

	runsSender, err := constructor.NewSender(ctx, "runs")
	require.NoError(t, err)
	otherSender, err := constructor.NewSender(ctx, "other")
	require.NoError(t, err)
	receiver, err := constructor.NewReceiver(ctx, "runs", "advancer")
	require.NoError(t, err)

	require.NoError(t, otherSender.Send(ctx, "skip-me"))
	require.NoError(t, runsSender.Send(ctx, "run-1"))

	ev, ack, err := receiver.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-1", ev.RunID)
	require.NoError(t, ack())
}

func TestRecvHonoursContext(t *testing.T) {
	constructor := memstreamer.New()

	receiver, err := constructor.NewReceiver(context.Background(), "runs", "advancer")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err = receiver.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIndependentReceiverOffsets(t *testing.T) {
	ctx := context.Background()
	constructor := memstreamer.New()

	sender, err := constructor.NewSender(ctx, "runs")
	require.NoError(t, err)
	first, err := constructor.NewReceiver(ctx, "runs", "advancer-1")
	require.NoError(t, err)
	second, err := constructor.NewReceiver(ctx, "runs", "advancer-2")
	require.NoError(t, err)

	require.NoError(t, sender.Send(ctx, "run-1"))

	ev, ack, err := first.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-1", ev.RunID)
	require.NoError(t, ack())

	// The second receiver still sees the event: offsets are per receiver.
	ev, ack, err = second.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-1", ev.RunID)
	require.NoError(t, ack())
}
