package responder

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/meshbridge/config"
	"github.com/hupe1980/meshbridge/conversation"
	"github.com/hupe1980/meshbridge/core"
	"github.com/hupe1980/meshbridge/delivery"
	"github.com/hupe1980/meshbridge/logging"
	"github.com/hupe1980/meshbridge/provider"
	"github.com/hupe1980/meshbridge/router"
	"github.com/hupe1980/meshbridge/tool"
	"github.com/hupe1980/meshbridge/transport"
)

// Liveness is the slice of the health monitor the responder feeds. Nil
// disables liveness tracking.
type Liveness interface {
	WorkerStarted(id string, budget time.Duration)
	WorkerHeartbeat(id string)
	WorkerDone(id string)
	TransportActivity()
}

// Dependencies wires the responder to its collaborators.
type Dependencies struct {
	Transport transport.Interface
	Queue     *delivery.Queue
	Sessions  *router.Manager
	Store     *conversation.Store
	Archive   *conversation.Manager
	Providers map[string]provider.Provider
	Registry  *tool.Registry
	Telemetry *transport.TelemetryCache
	Monitor   Liveness
	Settings  *config.Settings
}

// Options carries optional responder collaborators.
type Options struct {
	Logger logging.Logger
	// Pace sleeps between multi-part command replies; injectable for tests.
	Pace func(d time.Duration)
	// Spawn runs a query worker; tests replace it to run synchronously.
	Spawn func(f func())
	// BeatEvery is the worker heartbeat period while a tool call blocks.
	BeatEvery time.Duration
}

// Responder implements transport.Handler and the full !ai command surface.
type Responder struct {
	cfg  *config.Config
	deps Dependencies
	log  logging.Logger

	pace      func(d time.Duration)
	spawn     func(f func())
	beatEvery time.Duration

	mu             sync.Mutex
	pendingRefresh map[string]bool
}

var _ transport.Handler = (*Responder)(nil)

// New constructs a responder.
func New(cfg *config.Config, deps Dependencies, optFns ...func(o *Options)) *Responder {
	opts := Options{
		Pace:      time.Sleep,
		Spawn:     func(f func()) { go f() },
		BeatEvery: time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Responder{
		cfg:            cfg,
		deps:           deps,
		log:            logging.OrNoOp(opts.Logger),
		pace:           opts.Pace,
		spawn:          opts.Spawn,
		beatEvery:      opts.BeatEvery,
		pendingRefresh: make(map[string]bool),
	}
}

// OnMessage implements transport.Handler. It runs on the adapter's receive
// path, so anything slow is pushed onto a worker goroutine.
func (r *Responder) OnMessage(msg transport.Message) {
	r.activity()
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	dm := msg.IsDM()

	// Lazy session expiry: the next inbound message from the user detects
	// the idle timeout and notifies before normal processing resumes.
	if expired, ok := r.deps.Sessions.CheckTimeout(msg.From); ok {
		r.enqueue(fmt.Sprintf("\U0001F534 Session '%s' timed out.", expired.Name), expired.Dest, expired.Channel, "")
	} else if dm {
		if _, active := r.deps.Sessions.Active(msg.From); active && !hasCommandPrefix(text) {
			// Inside a session the invocation prefix is optional.
			r.deps.Sessions.Touch(msg.From)
			r.dispatchQuery(text, msg, "Thinking... \U0001F916")
			return
		}
	}

	if hasCommandPrefix(text) {
		r.handleCommand(text, msg)
	}
}

// OnAck implements transport.Handler.
func (r *Responder) OnAck(id uint32) {
	r.activity()
	r.deps.Queue.HandleAck(id)
}

// OnTelemetry implements transport.Handler.
func (r *Responder) OnTelemetry(nodeID string, metrics transport.Metrics) {
	r.activity()
	if r.deps.Telemetry != nil {
		r.deps.Telemetry.Update(nodeID, metrics)
	}
}

// OnConnectionLost implements transport.Handler. Reconnection is owned by the
// process entry point; the responder only records the event.
func (r *Responder) OnConnectionLost() {
	r.log.Error("radio connection lost")
}

// SweepSessions proactively expires idle sessions and notifies their owners.
// Required because lazy detection never fires for a user who stops writing.
func (r *Responder) SweepSessions() {
	for _, s := range r.deps.Sessions.Sweep() {
		r.enqueue(fmt.Sprintf("\U0001F534 Session '%s' timed out.", s.Name), s.Dest, s.Channel, "")
	}
}

// sendResponse routes a reply: admin command replies always go privately,
// public traffic only on allowed channels, DMs back to the sender. Markdown
// bold survives no radio display, so it is stripped.
func (r *Responder) sendResponse(text string, msg transport.Message, adminCmd bool) {
	dest := msg.From
	if !adminCmd && !msg.IsDM() {
		if !r.deps.Settings.ChannelAllowed(msg.Channel) {
			r.log.Info("skipping response on disabled channel", "channel", msg.Channel)
			return
		}
		dest = core.Broadcast
	}
	prefix := ""
	if msg.IsDM() {
		if s, ok := r.deps.Sessions.Active(msg.From); ok {
			prefix = s.Indicator()
		}
	}
	r.enqueue(strings.ReplaceAll(text, "**", ""), dest, msg.Channel, prefix)
}

func (r *Responder) enqueue(text, dest string, channel int, prefix string) {
	if !r.deps.Queue.Enqueue(text, dest, channel, prefix) {
		r.log.Error("response dropped, delivery queue full", "dest", dest)
	}
}

func (r *Responder) activity() {
	if r.deps.Monitor != nil {
		r.deps.Monitor.TransportActivity()
	}
}

func (r *Responder) historyKey(msg transport.Message) string {
	return r.deps.Sessions.HistoryKey(msg.From, msg.Channel, msg.IsDM())
}

func hasCommandPrefix(text string) bool {
	lower := strings.ToLower(text)
	return lower == "!ai" || strings.HasPrefix(lower, "!ai ")
}
