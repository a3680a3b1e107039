package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Metrics is a node telemetry snapshot. Pointer fields distinguish "not
// reported" from zero readings.
type Metrics struct {
	BatteryLevel       *int
	Latitude           *float64
	Longitude          *float64
	Temperature        *float64
	BarometricPressure *float64
	RelativeHumidity   *float64
	SNR                *float64
}

// TelemetryCache stores the latest Metrics per node, fed from the adapter's
// telemetry events. Tools short-poll it while a fresh reading is in flight.
type TelemetryCache struct {
	mu      sync.RWMutex
	entries map[string]telemetryEntry
}

type telemetryEntry struct {
	metrics Metrics
	updated time.Time
}

// NewTelemetryCache constructs an empty cache.
func NewTelemetryCache() *TelemetryCache {
	return &TelemetryCache{entries: make(map[string]telemetryEntry)}
}

// Update records a snapshot for nodeID, merging over the previous one so a
// device-metrics packet does not wipe cached environment readings.
func (c *TelemetryCache) Update(nodeID string, m Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.entries[nodeID].metrics
	merge(&prev, m)
	c.entries[nodeID] = telemetryEntry{metrics: prev, updated: time.Now()}
}

// Get returns the cached snapshot and its age, or ok=false when the node has
// never reported.
func (c *TelemetryCache) Get(nodeID string) (Metrics, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[nodeID]
	return e.metrics, e.updated, ok
}

// UpdatedSince reports whether nodeID has a snapshot newer than t.
func (c *TelemetryCache) UpdatedSince(nodeID string, t time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[nodeID]
	return ok && e.updated.After(t)
}

func merge(dst *Metrics, src Metrics) {
	if src.BatteryLevel != nil {
		dst.BatteryLevel = src.BatteryLevel
	}
	if src.Latitude != nil {
		dst.Latitude = src.Latitude
	}
	if src.Longitude != nil {
		dst.Longitude = src.Longitude
	}
	if src.Temperature != nil {
		dst.Temperature = src.Temperature
	}
	if src.BarometricPressure != nil {
		dst.BarometricPressure = src.BarometricPressure
	}
	if src.RelativeHumidity != nil {
		dst.RelativeHumidity = src.RelativeHumidity
	}
	if src.SNR != nil {
		dst.SNR = src.SNR
	}
}

// Format renders the metrics as a compact single line for prompt injection,
// e.g. "Location: 40.7000, -74.0000, Battery: 85%, Temp: 22.5C".
func (m Metrics) Format() string {
	var parts []string
	if m.Latitude != nil && m.Longitude != nil {
		parts = append(parts, fmt.Sprintf("Location: %.4f, %.4f", *m.Latitude, *m.Longitude))
	}
	if m.BatteryLevel != nil {
		parts = append(parts, fmt.Sprintf("Battery: %d%%", *m.BatteryLevel))
	}
	if m.Temperature != nil {
		parts = append(parts, fmt.Sprintf("Temp: %.1fC", *m.Temperature))
	}
	if m.BarometricPressure != nil {
		parts = append(parts, fmt.Sprintf("Press: %.1fhPa", *m.BarometricPressure))
	}
	if m.RelativeHumidity != nil {
		parts = append(parts, fmt.Sprintf("Hum: %.1f%%", *m.RelativeHumidity))
	}
	if m.SNR != nil {
		parts = append(parts, fmt.Sprintf("SNR: %.1fdB", *m.SNR))
	}
	return strings.Join(parts, ", ")
}
