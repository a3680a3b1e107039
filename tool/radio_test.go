package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshbridge/transport"
)

func TestNodeInfo_LocalNode(t *testing.T) {
	mock := transport.NewMock()
	mock.Metadata[mock.Self] = "Battery: 85%, Temp: 22.5C"
	info := &NodeInfo{Transport: mock}

	out, err := info.Call(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Battery: 85%, Temp: 22.5C", out)
}

func TestNodeInfo_RemoteNode(t *testing.T) {
	mock := transport.NewMock()
	mock.Metadata["!remote01"] = "Battery: 40%"
	info := &NodeInfo{Transport: mock}

	out, err := info.Call(context.Background(), map[string]any{"node_id": "!remote01"})
	require.NoError(t, err)
	assert.Equal(t, "Battery: 40%", out)

	_, err = info.Call(context.Background(), map[string]any{"node_id": "!unknown"})
	assert.Error(t, err)
}

func TestNodeList(t *testing.T) {
	mock := transport.NewMock()
	list := &NodeList{Transport: mock}

	_, err := list.Call(context.Background(), nil)
	assert.Error(t, err)

	mock.NodeList = "!a1 (SNR 5.0), !b2 (SNR -3.5)"
	out, err := list.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "!a1 (SNR 5.0), !b2 (SNR -3.5)", out)
}

func TestTelemetryRefresh_PicksUpFreshSnapshot(t *testing.T) {
	mock := transport.NewMock()
	cache := transport.NewTelemetryCache()
	beats := 0
	refresh := NewTelemetryRefresh(mock, cache, func(o *TelemetryRefreshOptions) {
		o.Timeout = 500 * time.Millisecond
		o.PollInterval = 10 * time.Millisecond
		o.Heartbeat = func() { beats++ }
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		battery := 73
		cache.Update(mock.Self, transport.Metrics{BatteryLevel: &battery})
	}()

	out, err := refresh.Call(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Battery: 73%", out)
	assert.Equal(t, 1, mock.Probes())
	assert.Greater(t, beats, 0)
}

func TestTelemetryRefresh_FallsBackToCachedReading(t *testing.T) {
	mock := transport.NewMock()
	cache := transport.NewTelemetryCache()
	battery := 50
	cache.Update("!remote01", transport.Metrics{BatteryLevel: &battery})

	refresh := NewTelemetryRefresh(mock, cache, func(o *TelemetryRefreshOptions) {
		o.Timeout = 30 * time.Millisecond
		o.PollInterval = 10 * time.Millisecond
	})

	// No new snapshot arrives after the call starts.
	time.Sleep(5 * time.Millisecond)
	out, err := refresh.Call(context.Background(), map[string]any{"node_id": "!remote01"})
	require.NoError(t, err)
	assert.Contains(t, out, "Battery: 50%")
	assert.Contains(t, out, "cached")
}

func TestTelemetryRefresh_NoDataAtAll(t *testing.T) {
	mock := transport.NewMock()
	cache := transport.NewTelemetryCache()
	refresh := NewTelemetryRefresh(mock, cache, func(o *TelemetryRefreshOptions) {
		o.Timeout = 20 * time.Millisecond
		o.PollInterval = 5 * time.Millisecond
	})

	_, err := refresh.Call(context.Background(), map[string]any{"node_id": "!silent"})
	assert.Error(t, err)
}
