// Package health implements the liveness monitor. It watches the delivery
// queue heartbeat, per-query worker budgets and radio traffic, and condenses
// them into a verdict. The monitor never terminates anything itself; the
// process entry point consumes verdicts and exits so an external supervisor
// restarts the bridge with fresh state.
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/meshbridge/logging"
)

// Verdict is one liveness evaluation.
type Verdict struct {
	Healthy bool
	Reason  string
}

// Prober provokes radio activity to distinguish a quiet mesh from a dead
// link. Satisfied by the transport adapter.
type Prober interface {
	SendProbe() error
}

// Config tunes the monitor thresholds.
type Config struct {
	// QueueStale is the maximum age of the delivery queue heartbeat.
	QueueStale time.Duration
	// WorkerBudget is the default per-worker heartbeat budget. Workers may
	// override it at registration, e.g. for slow local inference.
	WorkerBudget time.Duration
	// TransportSilence is how long the radio may stay quiet before a probe
	// is sent.
	TransportSilence time.Duration
	// ProbeGrace is how long after a probe the radio gets to show activity.
	ProbeGrace time.Duration
}

// MonitorOptions carries optional Monitor collaborators.
type MonitorOptions struct {
	Logger logging.Logger
	Prober Prober
	Now    func() time.Time
}

type workerState struct {
	lastBeat time.Time
	budget   time.Duration
}

// Monitor aggregates heartbeats from the subsystems.
type Monitor struct {
	mu           sync.Mutex
	cfg          Config
	log          logging.Logger
	prober       Prober
	now          func() time.Time
	queueBeat    time.Time
	lastActivity time.Time
	probeSent    time.Time
	workers      map[string]*workerState
}

// NewMonitor constructs a monitor. All heartbeats start at construction time
// so a freshly started process is healthy.
func NewMonitor(cfg Config, optFns ...func(o *MonitorOptions)) *Monitor {
	opts := MonitorOptions{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	m := &Monitor{
		cfg:     cfg,
		log:     logging.OrNoOp(opts.Logger),
		prober:  opts.Prober,
		now:     opts.Now,
		workers: make(map[string]*workerState),
	}
	now := m.now()
	m.queueBeat = now
	m.lastActivity = now
	return m
}

// QueueHeartbeat records that the delivery queue worker is alive.
func (m *Monitor) QueueHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueBeat = m.now()
}

// WorkerStarted registers a query worker. A zero budget uses the configured
// default; long-running workers (local inference) pass a larger one.
func (m *Monitor) WorkerStarted(id string, budget time.Duration) {
	if budget <= 0 {
		budget = m.cfg.WorkerBudget
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[id] = &workerState{lastBeat: m.now(), budget: budget}
}

// WorkerHeartbeat refreshes a worker's budget clock. Workers beat during
// legitimately slow phases (tool polling) so only a genuine hang trips the
// budget.
func (m *Monitor) WorkerHeartbeat(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[id]; ok {
		w.lastBeat = m.now()
	}
}

// WorkerDone deregisters a worker.
func (m *Monitor) WorkerDone(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, id)
}

// TransportActivity records any inbound radio traffic.
func (m *Monitor) TransportActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.now()
	m.probeSent = time.Time{}
}

// Check evaluates every liveness signal and returns the first failure found.
func (m *Monitor) Check() Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	if m.cfg.QueueStale > 0 && now.Sub(m.queueBeat) > m.cfg.QueueStale {
		return Verdict{Reason: fmt.Sprintf("delivery queue heartbeat stale for %s", now.Sub(m.queueBeat).Round(time.Second))}
	}

	for id, w := range m.workers {
		if idle := now.Sub(w.lastBeat); idle > w.budget {
			return Verdict{Reason: fmt.Sprintf("worker %s silent for %s (budget %s)", id, idle.Round(time.Second), w.budget)}
		}
	}

	if m.cfg.TransportSilence > 0 && now.Sub(m.lastActivity) > m.cfg.TransportSilence {
		if m.probeSent.IsZero() {
			m.probeSent = now
			if m.prober != nil {
				if err := m.prober.SendProbe(); err != nil {
					return Verdict{Reason: fmt.Sprintf("probe send failed: %v", err)}
				}
			}
			m.log.Warn("radio silent, probe sent", "silence", now.Sub(m.lastActivity).Round(time.Second))
		} else if now.Sub(m.probeSent) > m.cfg.ProbeGrace {
			return Verdict{Reason: fmt.Sprintf("radio silent for %s and unresponsive to probe", now.Sub(m.lastActivity).Round(time.Second))}
		}
	}

	return Verdict{Healthy: true}
}
