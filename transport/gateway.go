package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/meshbridge/logging"
)

// GatewayOptions carries optional Gateway collaborators.
type GatewayOptions struct {
	Logger       logging.Logger
	DialTimeout  time.Duration // default 10s
	HelloTimeout time.Duration // default 10s
}

// Gateway is the transport adapter speaking newline-delimited JSON to a radio
// gateway daemon over TCP. The daemon owns the radio hardware and its wire
// format; this side only exchanges decoded events.
//
// Outbound frames: {"type":"send","id",...}, {"type":"probe"}.
// Inbound frames: hello, text, ack, telemetry, node.
type Gateway struct {
	addr         string
	log          logging.Logger
	dialTimeout  time.Duration
	helloTimeout time.Duration
	telemetry    *TelemetryCache

	mu      sync.Mutex
	conn    net.Conn
	enc     *json.Encoder
	handler Handler
	self    string
	nodes   map[string]nodeRecord

	connected atomic.Bool
	nextID    atomic.Uint32
}

type nodeRecord struct {
	Name      string
	LastHeard time.Time
}

// frame is the wire shape in both directions; unused fields stay nil/zero.
type frame struct {
	Type    string `json:"type"`
	ID      uint32 `json:"id,omitempty"`
	Self    string `json:"self,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Channel int    `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
	WantAck bool   `json:"want_ack,omitempty"`
	Node    string `json:"node,omitempty"`
	Name    string `json:"name,omitempty"`

	Battery  *int     `json:"battery,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	Temp     *float64 `json:"temp,omitempty"`
	Pressure *float64 `json:"pressure,omitempty"`
	Humidity *float64 `json:"humidity,omitempty"`
	SNR      *float64 `json:"snr,omitempty"`
}

var _ Interface = (*Gateway)(nil)

// NewGateway constructs an adapter for the gateway daemon at addr. The
// telemetry cache backs the node-metadata formatting; pass the same cache the
// rest of the process reads.
func NewGateway(addr string, telemetry *TelemetryCache, optFns ...func(o *GatewayOptions)) *Gateway {
	opts := GatewayOptions{
		DialTimeout:  10 * time.Second,
		HelloTimeout: 10 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gateway{
		addr:         addr,
		log:          logging.OrNoOp(opts.Logger),
		dialTimeout:  opts.DialTimeout,
		helloTimeout: opts.HelloTimeout,
		telemetry:    telemetry,
		nodes:        make(map[string]nodeRecord),
	}
}

// Connect implements Interface. It dials the daemon, waits for the hello
// frame carrying the local node id and starts the receive loop.
func (g *Gateway) Connect(h Handler) error {
	conn, err := net.DialTimeout("tcp", g.addr, g.dialTimeout)
	if err != nil {
		return fmt.Errorf("dial gateway %s: %w", g.addr, err)
	}

	r := bufio.NewReader(conn)
	if err := conn.SetReadDeadline(time.Now().Add(g.helloTimeout)); err != nil {
		conn.Close()
		return fmt.Errorf("gateway %s: %w", g.addr, err)
	}
	line, err := r.ReadBytes('\n')
	if err != nil {
		conn.Close()
		return fmt.Errorf("gateway %s hello: %w", g.addr, err)
	}
	var hello frame
	if err := json.Unmarshal(line, &hello); err != nil || hello.Type != "hello" || hello.Self == "" {
		conn.Close()
		return fmt.Errorf("gateway %s: unexpected first frame %q", g.addr, strings.TrimSpace(string(line)))
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return fmt.Errorf("gateway %s: %w", g.addr, err)
	}

	g.mu.Lock()
	g.conn = conn
	g.enc = json.NewEncoder(conn)
	g.handler = h
	g.self = hello.Self
	g.mu.Unlock()
	g.connected.Store(true)
	g.log.Info("gateway connected", "addr", g.addr, "self", hello.Self)

	go g.readLoop(r, h)
	return nil
}

// IsConnected implements Interface.
func (g *Gateway) IsConnected() bool { return g.connected.Load() }

// Close tears the connection down without notifying the handler.
func (g *Gateway) Close() error {
	g.connected.Store(false)
	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// SendText implements Interface. Packet ids are assigned on this side and
// echoed back by the daemon's ack frames.
func (g *Gateway) SendText(text, dest string, channel int, wantAck bool) (uint32, error) {
	id := g.nextID.Add(1)
	err := g.write(frame{
		Type:    "send",
		ID:      id,
		To:      dest,
		Channel: channel,
		Text:    text,
		WantAck: wantAck,
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SendProbe implements Interface.
func (g *Gateway) SendProbe() error {
	return g.write(frame{Type: "probe"})
}

// SelfID implements Interface.
func (g *Gateway) SelfID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.self
}

// SelfMetadata implements Interface.
func (g *Gateway) SelfMetadata() string {
	return g.NodeMetadata(g.SelfID())
}

// NodeMetadata implements Interface.
func (g *Gateway) NodeMetadata(nodeID string) string {
	if g.telemetry == nil || nodeID == "" {
		return ""
	}
	m, _, ok := g.telemetry.Get(nodeID)
	if !ok {
		return ""
	}
	return m.Format()
}

// NodeListSummary implements Interface. Returns the most recently heard
// nodes, newest first, capped to keep prompt overhead bounded.
func (g *Gateway) NodeListSummary() string {
	const maxNodes = 8

	g.mu.Lock()
	type heard struct {
		id  string
		rec nodeRecord
	}
	list := make([]heard, 0, len(g.nodes))
	for id, rec := range g.nodes {
		list = append(list, heard{id: id, rec: rec})
	}
	g.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].rec.LastHeard.After(list[j].rec.LastHeard) })
	if len(list) > maxNodes {
		list = list[:maxNodes]
	}

	parts := make([]string, 0, len(list))
	for _, h := range list {
		label := h.id
		if h.rec.Name != "" {
			label = fmt.Sprintf("%s (%s)", h.id, h.rec.Name)
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, ", ")
}

func (g *Gateway) write(f frame) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return fmt.Errorf("gateway %s: not connected", g.addr)
	}
	if err := g.enc.Encode(f); err != nil {
		return fmt.Errorf("gateway %s write: %w", g.addr, err)
	}
	return nil
}

// readLoop dispatches inbound frames to the handler until the connection
// drops. It runs on its own goroutine; handler callbacks must not block.
func (g *Gateway) readLoop(r *bufio.Reader, h Handler) {
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			if g.connected.CompareAndSwap(true, false) {
				g.log.Error("gateway read failed", "addr", g.addr, "error", err)
				h.OnConnectionLost()
			}
			return
		}
		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			g.log.Warn("discarding malformed gateway frame", "error", err)
			continue
		}
		g.dispatch(f, h)
	}
}

func (g *Gateway) dispatch(f frame, h Handler) {
	switch f.Type {
	case "text":
		g.markHeard(f.From, "")
		h.OnMessage(Message{From: f.From, To: f.To, Channel: f.Channel, Text: f.Text})
	case "ack":
		h.OnAck(f.ID)
	case "telemetry":
		g.markHeard(f.Node, "")
		h.OnTelemetry(f.Node, Metrics{
			BatteryLevel:       f.Battery,
			Latitude:           f.Lat,
			Longitude:          f.Lon,
			Temperature:        f.Temp,
			BarometricPressure: f.Pressure,
			RelativeHumidity:   f.Humidity,
			SNR:                f.SNR,
		})
	case "node":
		g.markHeard(f.Node, f.Name)
	default:
		g.log.Debug("ignoring gateway frame", "type", f.Type)
	}
}

func (g *Gateway) markHeard(nodeID, name string) {
	if nodeID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.nodes[nodeID]
	if name != "" {
		rec.Name = name
	}
	rec.LastHeard = time.Now()
	g.nodes[nodeID] = rec
}
