// Package transport defines the consumed contract of the radio transport
// adapter: connection management, text transmission with transport-assigned
// packet ids, probes, and the asynchronous event callbacks (message, ack,
// telemetry, connection lost) emitted from the adapter's own receive path.
//
// The low-level frame decoder/encoder is owned by the radio library; this
// package only fixes the boundary the rest of meshbridge programs against,
// plus a telemetry snapshot cache fed by telemetry events.
package transport

import "github.com/hupe1980/meshbridge/core"

// Message is an inbound text message decoded by the adapter.
type Message struct {
	From    string
	To      string
	Channel int
	Text    string
}

// IsDM reports whether the message was addressed to this node directly
// rather than broadcast on a channel.
func (m Message) IsDM() bool { return m.To != core.Broadcast }

// Handler receives adapter events. All callbacks run on the adapter's receive
// path and must not block.
type Handler interface {
	// OnMessage is invoked for every decoded inbound text message.
	OnMessage(msg Message)
	// OnAck is invoked when a delivery acknowledgment for a previously
	// assigned packet id arrives. May fire before SendText has returned
	// that id to the caller.
	OnAck(id uint32)
	// OnTelemetry is invoked when a node reports metrics.
	OnTelemetry(nodeID string, metrics Metrics)
	// OnConnectionLost is invoked when the radio link drops.
	OnConnectionLost()
}

// Interface is the transport adapter surface consumed by meshbridge.
type Interface interface {
	// Connect establishes the radio link and registers the event handler.
	Connect(h Handler) error
	// IsConnected reports link health.
	IsConnected() bool
	// SendText transmits text to dest on the given channel and returns the
	// transport-assigned packet id. wantAck requests end-to-end delivery
	// confirmation; it is ignored for broadcast destinations.
	SendText(text, dest string, channel int, wantAck bool) (uint32, error)
	// SendProbe emits a lightweight packet to provoke radio activity,
	// used by the liveness monitor to distinguish a quiet mesh from a
	// dead link.
	SendProbe() error
	// SelfID returns the node id of the local radio.
	SelfID() string
	// SelfMetadata returns a short formatted description of the local
	// node state (battery, position) or "" when unknown.
	SelfMetadata() string
	// NodeMetadata returns a short formatted description of a remote
	// node's last known state or "" when unknown.
	NodeMetadata(nodeID string) string
	// NodeListSummary returns a compact summary of recently heard nodes.
	NodeListSummary() string
}
