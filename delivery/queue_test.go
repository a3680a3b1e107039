package delivery

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshbridge/core"
	"github.com/hupe1980/meshbridge/transport"
)

func fastConfig() Config {
	return Config{
		Capacity:    5,
		ChunkSize:   200,
		AckTimeout:  50 * time.Millisecond,
		MaxAttempts: 3,
		BackoffBase: 10 * time.Millisecond,
		ChunkDelay:  5 * time.Millisecond,
		BeatEvery:   10 * time.Millisecond,
	}
}

// ackOnSend immediately delivers the ack from "the receive path", exercising
// the race-buffer path because the ack lands before the worker awaits it.
func ackOnSend(s transport.SentText, h transport.Handler) {
	if s.WantAck {
		h.OnAck(s.ID)
	}
}

// queueHandler adapts a Queue to the transport.Handler surface for tests.
type queueHandler struct{ q *Queue }

func (h queueHandler) OnMessage(transport.Message)           {}
func (h queueHandler) OnAck(id uint32)                       { h.q.HandleAck(id) }
func (h queueHandler) OnTelemetry(string, transport.Metrics) {}
func (h queueHandler) OnConnectionLost()                     {}

func startQueue(t *testing.T, cfg Config, mock *transport.Mock) *Queue {
	t.Helper()
	q := New(cfg, mock)
	require.NoError(t, mock.Connect(queueHandler{q}))
	q.Start()
	t.Cleanup(q.Stop)
	return q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestQueue_EnqueueBeyondCapacityFails(t *testing.T) {
	mock := transport.NewMock()
	q := New(fastConfig(), mock) // worker not started, messages stay queued

	for i := 0; i < 5; i++ {
		assert.True(t, q.Enqueue("msg", "!node1", 0, ""))
	}
	assert.False(t, q.Enqueue("dropped", "!node1", 0, ""))
	assert.Equal(t, 5, q.Len())
}

func TestQueue_ChunkedUnicastDeliveredInOrder(t *testing.T) {
	mock := transport.NewMock()
	mock.AckFunc = ackOnSend
	q := startQueue(t, fastConfig(), mock)

	text := strings.Repeat("lorem ipsum ", 38)[:450]
	require.True(t, q.Enqueue(text, "!node1", 0, ""))

	waitFor(t, func() bool { return len(mock.Sent()) == 3 })
	sent := mock.Sent()
	assert.True(t, strings.HasPrefix(sent[0].Text, "[1/3] "))
	assert.True(t, strings.HasPrefix(sent[1].Text, "[2/3] "))
	assert.True(t, strings.HasPrefix(sent[2].Text, "[3/3] "))
	for _, s := range sent {
		assert.Equal(t, "!node1", s.Dest)
		assert.True(t, s.WantAck)
	}
}

func TestQueue_NextChunkWaitsForAck(t *testing.T) {
	mock := transport.NewMock()
	var acked atomic.Bool
	// Delay the first ack; chunk 2 must not be transmitted before it.
	mock.AckFunc = func(s transport.SentText, h transport.Handler) {
		if s.ID == 1 {
			go func() {
				time.Sleep(20 * time.Millisecond)
				acked.Store(true)
				h.OnAck(s.ID)
			}()
			return
		}
		h.OnAck(s.ID)
	}
	q := startQueue(t, fastConfig(), mock)

	require.True(t, q.Enqueue(strings.Repeat("x", 450), "!node1", 0, ""))

	waitFor(t, func() bool { return len(mock.Sent()) >= 2 })
	assert.True(t, acked.Load(), "chunk 2 sent before chunk 1 was acknowledged")
}

func TestQueue_BroadcastSkipsAckWait(t *testing.T) {
	mock := transport.NewMock() // no AckFunc: acks never arrive
	q := startQueue(t, fastConfig(), mock)

	require.True(t, q.Enqueue("short broadcast", core.Broadcast, 3, ""))

	waitFor(t, func() bool { return len(mock.Sent()) == 1 })
	s := mock.Sent()[0]
	assert.Equal(t, core.Broadcast, s.Dest)
	assert.Equal(t, 3, s.Channel)
	assert.False(t, s.WantAck)
}

func TestQueue_AbandonsRemainingChunksAfterRetries(t *testing.T) {
	mock := transport.NewMock() // unicast, acks never arrive
	cfg := fastConfig()
	q := startQueue(t, cfg, mock)

	require.True(t, q.Enqueue(strings.Repeat("y", 450), "!node1", 0, ""))

	// Chunk 1 is attempted MaxAttempts times, then the message is abandoned.
	waitFor(t, func() bool { return len(mock.Sent()) == cfg.MaxAttempts })
	time.Sleep(5 * cfg.AckTimeout)
	sent := mock.Sent()
	assert.Len(t, sent, cfg.MaxAttempts)
	for _, s := range sent {
		assert.True(t, strings.HasPrefix(s.Text, "[1/3] "), "unexpected payload %q", s.Text)
	}
}

func TestQueue_SendErrorRetried(t *testing.T) {
	mock := transport.NewMock()
	mock.SendErr = errors.New("radio offline")
	q := startQueue(t, fastConfig(), mock)

	require.True(t, q.Enqueue("hello", "!node1", 0, ""))
	// Queue drains even though the send failed every attempt.
	waitFor(t, func() bool { return q.Len() == 0 })
}

func TestQueue_SessionPrefixApplied(t *testing.T) {
	mock := transport.NewMock()
	mock.AckFunc = ackOnSend
	q := startQueue(t, fastConfig(), mock)

	require.True(t, q.Enqueue("hi", "!node1", 0, "[s] "))
	waitFor(t, func() bool { return len(mock.Sent()) == 1 })
	assert.Equal(t, "[s] hi", mock.Sent()[0].Text)
}

type beatCounter struct{ n atomic.Int32 }

func (b *beatCounter) QueueHeartbeat() { b.n.Add(1) }

func TestQueue_HeartbeatTicksWhenIdle(t *testing.T) {
	mock := transport.NewMock()
	beats := &beatCounter{}
	q := New(fastConfig(), mock, func(o *Options) { o.Heartbeat = beats })
	q.Start()
	t.Cleanup(q.Stop)

	waitFor(t, func() bool { return beats.n.Load() >= 3 })
}

func TestAckReconciler_RaceBufferHit(t *testing.T) {
	r := newAckReconciler()
	r.arm()
	r.handleAck(42) // arrives before the sender registers the id
	_, done := r.await(42)
	assert.True(t, done)
}

func TestAckReconciler_SignalsArmedWait(t *testing.T) {
	r := newAckReconciler()
	r.arm()
	ch, done := r.await(7)
	require.False(t, done)
	r.handleAck(7)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("armed wait not signaled")
	}
}

func TestAckReconciler_ArmClearsStaleState(t *testing.T) {
	r := newAckReconciler()
	r.arm()
	_, done := r.await(1)
	require.False(t, done)
	r.arm() // new chunk; the old wait must not leak into this one
	ch, done := r.await(2)
	require.False(t, done)
	r.handleAck(1) // stale ack buffers but must not signal the new wait
	select {
	case <-ch:
		t.Fatal("stale ack signaled fresh wait")
	case <-time.After(20 * time.Millisecond):
	}
	r.handleAck(2)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("wait not signaled")
	}
}
