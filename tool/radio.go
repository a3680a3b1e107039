package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/meshbridge/transport"
)

// NodeInfo reports metadata about the local radio or a specific node.
type NodeInfo struct {
	Transport transport.Interface
}

var _ Tool = (*NodeInfo)(nil)

// Name implements Tool.
func (t *NodeInfo) Name() string { return "get_node_info" }

// Description implements Tool.
func (t *NodeInfo) Description() string {
	return "Get status of a mesh node: battery, position and last readings. Defaults to the node running this assistant."
}

// Parameters implements Tool.
func (t *NodeInfo) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"node_id": map[string]any{
				"type":        "string",
				"description": "Node id like !a1b2c3d4. Omit for the local node.",
			},
		},
	}
}

// Call implements Tool.
func (t *NodeInfo) Call(_ context.Context, args map[string]any) (string, error) {
	nodeID := stringArg(args, "node_id")
	if nodeID == "" || nodeID == t.Transport.SelfID() {
		if info := t.Transport.SelfMetadata(); info != "" {
			return info, nil
		}
		return "", fmt.Errorf("no metadata available for local node")
	}
	if info := t.Transport.NodeMetadata(nodeID); info != "" {
		return info, nil
	}
	return "", fmt.Errorf("node %s not heard recently", nodeID)
}

// NodeList summarizes the nodes recently heard on the mesh.
type NodeList struct {
	Transport transport.Interface
}

var _ Tool = (*NodeList)(nil)

// Name implements Tool.
func (t *NodeList) Name() string { return "get_node_list" }

// Description implements Tool.
func (t *NodeList) Description() string {
	return "List the mesh nodes heard recently with their ids and signal quality."
}

// Parameters implements Tool.
func (t *NodeList) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Call implements Tool.
func (t *NodeList) Call(_ context.Context, _ map[string]any) (string, error) {
	summary := t.Transport.NodeListSummary()
	if summary == "" {
		return "", fmt.Errorf("no nodes heard yet")
	}
	return summary, nil
}

// TelemetryRefreshOptions carries optional TelemetryRefresh collaborators.
type TelemetryRefreshOptions struct {
	// Timeout bounds the wait for a fresh snapshot.
	Timeout time.Duration
	// PollInterval is the cache polling period.
	PollInterval time.Duration
	// Heartbeat, when set, is pinged on every poll so the liveness monitor
	// does not count the wait against the worker budget.
	Heartbeat func()
}

// TelemetryRefresh waits for a telemetry snapshot newer than the call. Radio
// telemetry arrives on its own schedule, so the tool short-polls the cache
// for a bounded time and falls back to the last cached reading.
type TelemetryRefresh struct {
	Transport transport.Interface
	Cache     *transport.TelemetryCache

	timeout      time.Duration
	pollInterval time.Duration
	heartbeat    func()
}

var _ Tool = (*TelemetryRefresh)(nil)

// NewTelemetryRefresh constructs the telemetry tool.
func NewTelemetryRefresh(tr transport.Interface, cache *transport.TelemetryCache, optFns ...func(o *TelemetryRefreshOptions)) *TelemetryRefresh {
	opts := TelemetryRefreshOptions{
		Timeout:      15 * time.Second,
		PollInterval: time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &TelemetryRefresh{
		Transport:    tr,
		Cache:        cache,
		timeout:      opts.Timeout,
		pollInterval: opts.PollInterval,
		heartbeat:    opts.Heartbeat,
	}
}

// Name implements Tool.
func (t *TelemetryRefresh) Name() string { return "refresh_telemetry" }

// Description implements Tool.
func (t *TelemetryRefresh) Description() string {
	return "Request fresh telemetry (battery, temperature, pressure, humidity, position) from a node and wait briefly for the reading."
}

// Parameters implements Tool.
func (t *TelemetryRefresh) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"node_id": map[string]any{
				"type":        "string",
				"description": "Node id to refresh. Omit for the local node.",
			},
		},
	}
}

// Call implements Tool.
func (t *TelemetryRefresh) Call(ctx context.Context, args map[string]any) (string, error) {
	nodeID := stringArg(args, "node_id")
	if nodeID == "" {
		nodeID = t.Transport.SelfID()
	}
	start := time.Now()
	if err := t.Transport.SendProbe(); err != nil {
		return "", fmt.Errorf("request telemetry: %w", err)
	}

	deadline := start.Add(t.timeout)
	for time.Now().Before(deadline) {
		if t.heartbeat != nil {
			t.heartbeat()
		}
		if t.Cache.UpdatedSince(nodeID, start) {
			m, _, _ := t.Cache.Get(nodeID)
			return m.Format(), nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.pollInterval):
		}
	}

	// Stale data beats no data.
	if m, updated, ok := t.Cache.Get(nodeID); ok {
		return fmt.Sprintf("%s (cached, %s old)", m.Format(), time.Since(updated).Round(time.Second)), nil
	}
	return "", fmt.Errorf("no telemetry received from %s", nodeID)
}
