package health

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type stubProber struct {
	calls int
	err   error
}

func (p *stubProber) SendProbe() error {
	p.calls++
	return p.err
}

func testConfig() Config {
	return Config{
		QueueStale:       60 * time.Second,
		WorkerBudget:     90 * time.Second,
		TransportSilence: 5 * time.Minute,
		ProbeGrace:       30 * time.Second,
	}
}

func newTestMonitor(prober Prober) (*Monitor, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	m := NewMonitor(testConfig(), func(o *MonitorOptions) {
		o.Now = clock.now
		o.Prober = prober
	})
	return m, clock
}

func TestMonitor_FreshProcessIsHealthy(t *testing.T) {
	m, _ := newTestMonitor(nil)
	assert.True(t, m.Check().Healthy)
}

func TestMonitor_StaleQueueHeartbeat(t *testing.T) {
	m, clock := newTestMonitor(nil)
	clock.advance(59 * time.Second)
	m.TransportActivity()
	require.True(t, m.Check().Healthy)

	clock.advance(2 * time.Second)
	v := m.Check()
	assert.False(t, v.Healthy)
	assert.Contains(t, v.Reason, "delivery queue")

	m.QueueHeartbeat()
	m.TransportActivity()
	assert.True(t, m.Check().Healthy)
}

func TestMonitor_WorkerBudgetExceeded(t *testing.T) {
	m, clock := newTestMonitor(nil)
	m.WorkerStarted("w1", 0)

	clock.advance(80 * time.Second)
	m.QueueHeartbeat()
	m.TransportActivity()
	require.True(t, m.Check().Healthy)

	clock.advance(11 * time.Second)
	m.QueueHeartbeat()
	m.TransportActivity()
	v := m.Check()
	assert.False(t, v.Healthy)
	assert.Contains(t, v.Reason, "w1")
}

func TestMonitor_WorkerHeartbeatExtendsBudget(t *testing.T) {
	m, clock := newTestMonitor(nil)
	m.WorkerStarted("w1", 0)

	clock.advance(80 * time.Second)
	m.WorkerHeartbeat("w1")
	clock.advance(80 * time.Second)
	m.QueueHeartbeat()
	m.TransportActivity()
	assert.True(t, m.Check().Healthy)
}

func TestMonitor_WorkerBudgetOverride(t *testing.T) {
	m, clock := newTestMonitor(nil)
	// Local inference worker gets a larger budget.
	m.WorkerStarted("slow", 300*time.Second)

	clock.advance(120 * time.Second)
	m.QueueHeartbeat()
	m.TransportActivity()
	assert.True(t, m.Check().Healthy)

	clock.advance(200 * time.Second)
	m.QueueHeartbeat()
	m.TransportActivity()
	assert.False(t, m.Check().Healthy)
}

func TestMonitor_WorkerDoneStopsTracking(t *testing.T) {
	m, clock := newTestMonitor(nil)
	m.WorkerStarted("w1", 0)
	m.WorkerDone("w1")

	clock.advance(10 * time.Minute)
	m.QueueHeartbeat()
	m.TransportActivity()
	assert.True(t, m.Check().Healthy)
}

func TestMonitor_SilentRadioProbesThenFails(t *testing.T) {
	prober := &stubProber{}
	m, clock := newTestMonitor(prober)

	clock.advance(6 * time.Minute)
	m.QueueHeartbeat()
	// First detection sends a probe and stays healthy.
	v := m.Check()
	assert.True(t, v.Healthy)
	assert.Equal(t, 1, prober.calls)

	// Still healthy inside the grace period, no second probe.
	clock.advance(29 * time.Second)
	m.QueueHeartbeat()
	assert.True(t, m.Check().Healthy)
	assert.Equal(t, 1, prober.calls)

	clock.advance(2 * time.Second)
	m.QueueHeartbeat()
	v = m.Check()
	assert.False(t, v.Healthy)
	assert.Contains(t, v.Reason, "unresponsive to probe")
}

func TestMonitor_ActivityAfterProbeRecovers(t *testing.T) {
	prober := &stubProber{}
	m, clock := newTestMonitor(prober)

	clock.advance(6 * time.Minute)
	m.QueueHeartbeat()
	require.True(t, m.Check().Healthy)
	require.Equal(t, 1, prober.calls)

	// The probe provokes traffic; the silence window restarts.
	m.TransportActivity()
	clock.advance(time.Minute)
	m.QueueHeartbeat()
	assert.True(t, m.Check().Healthy)
	assert.Equal(t, 1, prober.calls)
}

func TestMonitor_ProbeSendFailure(t *testing.T) {
	prober := &stubProber{err: errors.New("link down")}
	m, clock := newTestMonitor(prober)

	clock.advance(6 * time.Minute)
	m.QueueHeartbeat()
	v := m.Check()
	assert.False(t, v.Healthy)
	assert.Contains(t, v.Reason, "probe send failed")
}
