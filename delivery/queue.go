package delivery

import (
	"time"

	"github.com/hupe1980/meshbridge/core"
	"github.com/hupe1980/meshbridge/logging"
)

// Sender is the transmit slice of the transport adapter needed by the queue.
type Sender interface {
	SendText(text, dest string, channel int, wantAck bool) (uint32, error)
}

// Heartbeat receives queue liveness ticks. The worker beats at least once per
// tick interval even when the queue is idle.
type Heartbeat interface {
	QueueHeartbeat()
}

// Config tunes the delivery queue. Zero values fall back to the defaults
// matching observed radio bandwidth; none of these are protocol invariants.
type Config struct {
	Capacity    int           // max queued messages (default 500)
	ChunkSize   int           // max characters per chunk (default 200)
	AckTimeout  time.Duration // per-attempt ack wait (default 30s)
	MaxAttempts int           // attempts per chunk including the first (default 3)
	BackoffBase time.Duration // retry backoff unit, scaled by attempt (default 10s)
	ChunkDelay  time.Duration // pacing delay between chunks of one message (default 5s)
	BeatEvery   time.Duration // idle heartbeat interval (default 2s)
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 500
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 200
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 10 * time.Second
	}
	if c.ChunkDelay <= 0 {
		c.ChunkDelay = 5 * time.Second
	}
	if c.BeatEvery <= 0 {
		c.BeatEvery = 2 * time.Second
	}
}

// Message is one outbound unit before chunking.
type Message struct {
	Text     string
	Dest     string
	Channel  int
	Prefix   string // session-indicator prefix, "" when none
	Enqueued time.Time
}

// Queue is the bounded FIFO delivery queue with its single drain worker.
// Enqueue is safe for concurrent use; HandleAck is called from the
// transport's receive path.
type Queue struct {
	cfg    Config
	sender Sender
	log    logging.Logger
	beat   Heartbeat

	ch   chan Message
	acks *ackReconciler
	stop chan struct{}
	done chan struct{}
}

// Options carries optional queue collaborators.
type Options struct {
	Logger    logging.Logger
	Heartbeat Heartbeat
}

// New constructs a queue; call Start to launch the worker.
func New(cfg Config, sender Sender, optFns ...func(o *Options)) *Queue {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg.applyDefaults()
	return &Queue{
		cfg:    cfg,
		sender: sender,
		log:    logging.OrNoOp(opts.Logger),
		beat:   opts.Heartbeat,
		ch:     make(chan Message, cfg.Capacity),
		acks:   newAckReconciler(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Enqueue appends a message, reporting false when the queue is at capacity.
// The queue is left unchanged on a drop. Approaching capacity logs a warning
// so operators can see congestion before traffic is lost.
func (q *Queue) Enqueue(text, dest string, channel int, prefix string) bool {
	msg := Message{Text: text, Dest: dest, Channel: channel, Prefix: prefix, Enqueued: time.Now()}
	select {
	case q.ch <- msg:
	default:
		q.log.Error("delivery queue full, dropping message", "capacity", q.cfg.Capacity, "dest", dest)
		return false
	}
	if fill := len(q.ch); fill*5 >= q.cfg.Capacity*4 {
		q.log.Warn("delivery queue nearly full", "fill", fill, "capacity", q.cfg.Capacity)
	}
	return true
}

// Len returns the number of queued messages.
func (q *Queue) Len() int { return len(q.ch) }

// HandleAck forwards an ack notification from the transport receive path.
func (q *Queue) HandleAck(id uint32) { q.acks.handleAck(id) }

// Start launches the single drain worker.
func (q *Queue) Start() {
	go q.run()
}

// Stop terminates the worker after the in-flight message completes.
func (q *Queue) Stop() {
	close(q.stop)
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	ticker := time.NewTicker(q.cfg.BeatEvery)
	defer ticker.Stop()
	q.heartbeat()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.heartbeat()
		case msg := <-q.ch:
			q.process(msg)
			q.heartbeat()
		}
	}
}

func (q *Queue) heartbeat() {
	if q.beat != nil {
		q.beat.QueueHeartbeat()
	}
}

// process chunks and transmits one message. Chunks are sent strictly in
// order; the first chunk that cannot be confirmed abandons the remainder so
// the receiver never sees out-of-order fragments of a partially failed
// message.
func (q *Queue) process(msg Message) {
	chunks := Split(msg.Text, q.cfg.ChunkSize)
	broadcast := msg.Dest == core.Broadcast
	for i, chunk := range chunks {
		if i > 0 && !q.pause(q.cfg.ChunkDelay) {
			return
		}
		payload := FormatChunk(chunk, i, len(chunks), msg.Prefix)
		if err := q.sendChunk(payload, msg.Dest, msg.Channel, broadcast); err != nil {
			q.log.Error("abandoning message after chunk failure",
				"chunk", i+1, "total", len(chunks), "dest", msg.Dest, "error", err)
			return
		}
		q.log.Debug("chunk delivered", "chunk", i+1, "total", len(chunks), "dest", msg.Dest)
	}
}

// sendChunk runs the reliable per-chunk protocol: arm a fresh wait handle,
// transmit, check the race buffer, then block for the ack with bounded
// retries. Broadcast destinations are best-effort and skip the ack wait.
func (q *Queue) sendChunk(payload, dest string, channel int, broadcast bool) error {
	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * q.cfg.BackoffBase
			q.log.Warn("retrying chunk", "attempt", attempt, "backoff", backoff, "dest", dest)
			if !q.pause(backoff) {
				return lastErr
			}
		}

		q.acks.arm()
		id, err := q.sender.SendText(payload, dest, channel, !broadcast)
		if err != nil {
			lastErr = &core.TransportError{Op: "send", Dest: dest, Attempt: attempt, Err: err}
			continue
		}
		if broadcast {
			return nil
		}

		wait, done := q.acks.await(id)
		if done {
			// Ack raced the send call and was already buffered.
			return nil
		}
		q.heartbeat()
		select {
		case <-wait:
			return nil
		case <-q.stop:
			return &core.TransportError{Op: "ack", Dest: dest, Attempt: attempt, Err: errStopped}
		case <-time.After(q.cfg.AckTimeout):
			lastErr = &core.TransportError{Op: "ack", Dest: dest, Attempt: attempt, Err: errAckTimeout}
		}
	}
	return lastErr
}

// pause sleeps for d unless the queue is stopping; reports false on stop.
func (q *Queue) pause(d time.Duration) bool {
	select {
	case <-q.stop:
		return false
	case <-time.After(d):
		return true
	}
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const (
	errAckTimeout = sentinelError("ack timeout")
	errStopped    = sentinelError("queue stopped")
)
