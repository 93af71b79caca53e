package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mseidel19/wallcast/internal/protocol"
)

// conn is one accepted socket. The pumps own the transport; the dispatch
// loop owns the registration state.
type conn struct {
	id        string
	remote    string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// client is set by the dispatch loop on registration and only ever
	// touched from that goroutine.
	client *Client
}

// close tears the socket down exactly once. The send channel is never closed
// so enqueuers racing a teardown cannot panic; writePump exits via done.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

type eventKind int

const (
	eventOpen eventKind = iota
	eventFrame
	eventClosed
	eventInject
	eventShutdown
	eventForceClose
	eventStats
)

// event is one unit of work for the dispatch loop.
type event struct {
	kind  eventKind
	conn  *conn
	data  []byte
	stats chan Stats
}

// Stats is a point-in-time view of the connection table.
type Stats struct {
	Connections     int  `json:"connections"`
	Registered      int  `json:"registered"`
	Inputs          int  `json:"inputs"`
	Observers       int  `json:"observers"`
	DisplayPresent  bool `json:"display_present"`
	BridgeConnected bool `json:"bridge_connected"`
}

// Server accepts client sockets, enforces the single-display invariant and
// routes envelopes between roles. Every inbound envelope is fully processed
// by one dispatch goroutine before the next is dequeued; the registry is
// touched by that goroutine alone.
type Server struct {
	cfg      Config
	clock    clockwork.Clock
	registry *Registry
	upgrader websocket.Upgrader
	bridge   *Bridge

	inbox chan event

	// Dispatch-loop state.
	conns         map[*conn]struct{}
	draining      bool
	drainedClosed bool

	drained chan struct{}
	closing atomic.Bool
}

// NewServer builds a relay server. The event bridge is connected here when
// configured so a bad NATS URL fails startup instead of surfacing later.
func NewServer(cfg Config) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		registry: NewRegistry(),
		inbox:    make(chan event, 1024),
		conns:    make(map[*conn]struct{}),
		drained:  make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     cfg.checkOrigin,
	}

	if cfg.Bridge.URL != "" {
		bridge, err := NewBridge(cfg.Bridge, s.inject)
		if err != nil {
			return nil, fmt.Errorf("failed to start event bridge: %w", err)
		}
		s.bridge = bridge
	}

	return s, nil
}

// Start runs the dispatch loop until ctx is cancelled. Callers run it on its
// own goroutine; everything else posts events into the inbox.
func (s *Server) Start(ctx context.Context) {
	log.Info().Str("socket_path", s.cfg.SocketPath).Msg("relay dispatch loop started")

	for {
		select {
		case <-ctx.Done():
			s.handleForceClose()
			if s.bridge != nil {
				s.bridge.Close()
			}
			log.Info().Msg("relay dispatch loop stopped")
			return
		case ev := <-s.inbox:
			s.handleEvent(ev)
		}
	}
}

func (s *Server) handleEvent(ev event) {
	switch ev.kind {
	case eventOpen:
		s.handleOpen(ev.conn)
	case eventFrame:
		s.route(ev.conn, ev.data)
	case eventClosed:
		s.handleClosed(ev.conn)
	case eventInject:
		s.handleInject(ev.data)
	case eventShutdown:
		s.handleShutdown()
	case eventForceClose:
		s.handleForceClose()
	case eventStats:
		ev.stats <- s.snapshotStats()
	}
}

// RegisterRoutes registers the socket endpoint and the stats endpoint.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(s.cfg.SocketPath, s.HandleSocket)
	mux.HandleFunc("/stats", s.handleStats)
	log.Info().Str("socket_path", s.cfg.SocketPath).Msg("relay routes registered")
}

// HandleSocket upgrades an HTTP request to the persistent client socket.
func (s *Server) HandleSocket(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("failed to upgrade connection")
		return
	}

	c := &conn{
		id:     uuid.NewString(),
		remote: r.RemoteAddr,
		ws:     ws,
		send:   make(chan []byte, s.cfg.SendBuffer),
		done:   make(chan struct{}),
	}

	// Post the open event before the pumps start so the loop learns about
	// the connection before any of its frames.
	s.inbox <- event{kind: eventOpen, conn: c}
	go s.writePump(c)
	go s.readPump(c)

	log.Info().Str("conn_id", c.id).Str("remote", c.remote).Msg("socket connected")
}

// Shutdown stops intake, asks every connection to close and waits for the
// close handshakes up to the configured drain bound. A drain timeout returns
// an error so the process can exit non-zero.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.inbox <- event{kind: eventShutdown}

	timer := s.clock.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case <-s.drained:
		return nil
	case <-timer.Chan():
		s.inbox <- event{kind: eventForceClose}
		return fmt.Errorf("graceful drain timed out after %s", s.cfg.DrainTimeout)
	case <-ctx.Done():
		s.inbox <- event{kind: eventForceClose}
		return ctx.Err()
	}
}

// Stats asks the dispatch loop for a snapshot of the connection table.
func (s *Server) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case s.inbox <- event{kind: eventStats, stats: reply}:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	stats, err := s.Stats(ctx)
	if err != nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Debug().Err(err).Msg("failed to write stats response")
	}
}

func (s *Server) handleOpen(c *conn) {
	if s.draining {
		s.sendCloseFrame(c, websocket.CloseGoingAway, "relay is shutting down")
		c.close()
		return
	}
	s.conns[c] = struct{}{}
}

func (s *Server) handleClosed(c *conn) {
	delete(s.conns, c)

	if c.client != nil {
		s.handleDeparture(c.client)
		c.client = nil
	}
	log.Info().Str("conn_id", c.id).Msg("socket disconnected")

	if s.draining && len(s.conns) == 0 && !s.drainedClosed {
		s.drainedClosed = true
		close(s.drained)
	}
}

func (s *Server) handleShutdown() {
	if s.draining {
		return
	}
	s.draining = true
	log.Info().Int("connections", len(s.conns)).Msg("draining connections")

	if len(s.conns) == 0 {
		s.drainedClosed = true
		close(s.drained)
		return
	}
	for c := range s.conns {
		s.sendCloseFrame(c, websocket.CloseGoingAway, "relay is shutting down")
	}
}

func (s *Server) handleForceClose() {
	for c := range s.conns {
		c.close()
	}
}

func (s *Server) snapshotStats() Stats {
	st := Stats{
		Connections: len(s.conns),
		Registered:  s.registry.Len(),
	}
	for _, client := range s.registry.Snapshot() {
		switch client.Role {
		case protocol.RoleInput:
			st.Inputs++
		case protocol.RoleObserver:
			st.Observers++
		}
	}
	st.DisplayPresent = s.registry.Display() != nil
	st.BridgeConnected = s.bridge != nil && s.bridge.Connected()
	return st
}

// sendCloseFrame writes a close control frame. WriteControl is safe to call
// concurrently with the write pump.
func (s *Server) sendCloseFrame(c *conn, code int, text string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(code, text)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Debug().Err(err).Str("conn_id", c.id).Msg("failed to send close frame")
	}
}

// inject posts a bridge-delivered envelope into the dispatch loop. Ingest is
// best-effort: when the inbox is saturated the event is dropped.
func (s *Server) inject(data []byte) {
	select {
	case s.inbox <- event{kind: eventInject, data: data}:
	default:
		log.Warn().Msg("inbox full, dropping ingested event")
	}
}

// readPump feeds inbound frames into the dispatch loop. It posts exactly one
// closed event on exit, for any flavor of connection loss.
func (s *Server) readPump(c *conn) {
	defer func() {
		c.close()
		s.inbox <- event{kind: eventClosed, conn: c}
	}()

	c.ws.SetReadLimit(s.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn_id", c.id).Msg("unexpected socket close")
			}
			return
		}
		s.inbox <- event{kind: eventFrame, conn: c, data: data}
		c.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (s *Server) writePump(c *conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("socket write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands encoded bytes to a connection's writer. A full queue means
// the client is too slow to keep: it is dropped, not waited on.
func (s *Server) enqueue(c *conn, data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		log.Warn().Str("conn_id", c.id).Msg("send buffer full, dropping connection")
		c.close()
	}
}

// sendTo encodes and enqueues one message for one connection.
func (s *Server) sendTo(c *conn, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.MessageType())).Msg("failed to encode envelope")
		return
	}
	s.enqueue(c, data)
}
