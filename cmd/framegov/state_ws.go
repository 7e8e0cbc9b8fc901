package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Telemetry WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// Design constraints:
//   - DaemonState remains daemon-owned; never expose *DaemonState to other goroutines.
//   - The initial snapshot on connect goes through the reducer/event loop.
//   - WS messages originate from reducer-emitted broadcasts (ReduceResult.Broadcasts).
//   - Slow clients are disconnected when their send buffer fills.
//
// Messages are JSON text frames with an envelope: {type, ts, data}. The first
// message on connect is "state_init" with a StateSnapshot in data.
//
// ============================================================================

// WS message types
const (
	wsTypeStateInit          = "state_init"
	wsTypeSessionStarted     = "session_started"
	wsTypePhaseChanged       = "phase_changed"
	wsTypeTargetChanged      = "target_changed"
	wsTypeDropRateSampled    = "drop_rate_sampled"
	wsTypePerformanceWarning = "performance_warning"
)

type wsSessionStartedData struct {
	SessionID string `json:"session_id"`
	NativeFPS int    `json:"native_fps"`
}

type wsPhaseChangedData struct {
	SessionID string `json:"session_id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type wsTargetChangedData struct {
	SessionID string `json:"session_id"`
	From      int    `json:"from_fps"`
	To        int    `json:"to_fps"`
	NativeFPS int    `json:"native_fps"`
}

type wsDropRateData struct {
	SessionID     string  `json:"session_id"`
	Phase         string  `json:"phase"`
	Rate          float64 `json:"drop_rate"`
	Filtered      float64 `json:"filtered_drop_rate"`
	FilteredKnown bool    `json:"filtered_known"`
}

type wsPerformanceWarningData struct {
	SessionID string  `json:"session_id"`
	TargetFPS int     `json:"target_fps"`
	Filtered  float64 `json:"filtered_drop_rate"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means "use now"
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(ev wsOutboundEvent) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (default 32).
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size (default 128).
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		c.closeSend()
		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsDropRateCoalesceWindow bounds how often drop_rate_sampled messages go out;
// within a window only the latest sample is sent.
const wsDropRateCoalesceWindow = 250 * time.Millisecond

// closeStatus extracts a websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump, cause string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting ("+cause+")", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping error", err)
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects, then
// unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", "read error", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type StateServer struct {
	logger *slog.Logger
	hub    *Hub

	// Used to request the initial snapshot through the event loop.
	events chan<- Event
}

// NewStateServer constructs the WS telemetry components. Call Register on a
// mux, start Hub().Run(ctx) and RunBroadcaster.
func NewStateServer(logger *slog.Logger, events chan<- Event, cfg HubConfig) *StateServer {
	return &StateServer{
		logger: logger,
		hub:    NewHub(logger, cfg),
		events: events,
	}
}

func (s *StateServer) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *StateServer) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *StateServer) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register first so broadcasts can reach it.
	s.hub.register <- client

	// The pumps must outlive the handler: net/http cancels r.Context() on return.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	if s.events == nil {
		return
	}

	snap, err := requestSnapshot(r.Context(), s.events, time.Second)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	initMsg, err := marshalEnvelope(wsOutboundEvent{Type: wsTypeStateInit, Data: snap, At: snap.At})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}

	// If the client is already slow, disconnect.
	select {
	case client.send <- initMsg:
	default:
		s.hub.unregister <- client
	}
}

// requestSnapshot asks the daemon loop for a StateSnapshot and waits for it.
func requestSnapshot(ctx context.Context, events chan<- Event, timeout time.Duration) (StateSnapshot, error) {
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reply := make(chan StateSnapshot, 1)
	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case events <- RequestStateSnapshot{Reply: reply}:
	}

	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case snap := <-reply:
		return snap, nil
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// broadcastObserver sees every reducer broadcast before coalescing.
type broadcastObserver interface {
	Observe(b StateBroadcast)
}

// RunBroadcaster reads reducer-emitted StateBroadcasts, feeds the observer
// (metrics) and fans them out to hub clients. Intended to run as a single
// goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, obs broadcastObserver, logger *slog.Logger) {
	if src == nil {
		return
	}

	// Latest-wins for drop_rate_sampled: flush at most once per window, even if
	// samples keep arriving.
	var pending *wsOutboundEvent
	var timer *time.Timer
	var timerCh <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		if hub == nil {
			return
		}
		msg, err := marshalEnvelope(ev)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPending := func() {
		if pending == nil {
			return
		}
		emit(*pending)
		pending = nil
	}

	stopTimer := func() {
		if timer != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			flushPending()
			stopTimer()

		case b, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			if obs != nil {
				obs.Observe(b)
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			if ev.Type == wsTypeDropRateSampled {
				copyEv := ev
				pending = &copyEv
				if timer == nil {
					timer = time.NewTimer(wsDropRateCoalesceWindow)
					timerCh = timer.C
				}
				continue
			}

			// Keep ordering: anything pending goes out first.
			flushPending()
			stopTimer()
			emit(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastSessionStarted:
		return wsOutboundEvent{
			Type: wsTypeSessionStarted,
			Data: wsSessionStartedData{SessionID: ev.SessionID, NativeFPS: ev.NativeFPS},
			At:   ev.At,
		}, true

	case BroadcastPhaseChanged:
		return wsOutboundEvent{
			Type: wsTypePhaseChanged,
			Data: wsPhaseChangedData{SessionID: ev.SessionID, From: ev.From.String(), To: ev.To.String()},
			At:   ev.At,
		}, true

	case BroadcastTargetChanged:
		return wsOutboundEvent{
			Type: wsTypeTargetChanged,
			Data: wsTargetChangedData{SessionID: ev.SessionID, From: ev.From, To: ev.To, NativeFPS: ev.NativeFPS},
			At:   ev.At,
		}, true

	case BroadcastDropRateSampled:
		return wsOutboundEvent{
			Type: wsTypeDropRateSampled,
			Data: wsDropRateData{
				SessionID:     ev.SessionID,
				Phase:         ev.Phase.String(),
				Rate:          ev.Rate,
				Filtered:      ev.Filtered,
				FilteredKnown: ev.FilteredKnown,
			},
			At: ev.At,
		}, true

	case BroadcastPerformanceWarning:
		return wsOutboundEvent{
			Type: wsTypePerformanceWarning,
			Data: wsPerformanceWarningData{SessionID: ev.SessionID, TargetFPS: ev.TargetFPS, Filtered: ev.Filtered},
			At:   ev.At,
		}, true

	default:
		// Skips and stale timers only feed metrics.
		return wsOutboundEvent{}, false
	}
}

// broadcastTypeName names a broadcast for logs.
func broadcastTypeName(b StateBroadcast) string {
	switch b.(type) {
	case BroadcastSessionStarted:
		return wsTypeSessionStarted
	case BroadcastPhaseChanged:
		return wsTypePhaseChanged
	case BroadcastTargetChanged:
		return wsTypeTargetChanged
	case BroadcastDropRateSampled:
		return wsTypeDropRateSampled
	case BroadcastPerformanceWarning:
		return wsTypePerformanceWarning
	case BroadcastSampleSkipped:
		return "sample_skipped"
	case BroadcastStaleTimer:
		return "stale_timer"
	default:
		return "unknown"
	}
}
