package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mseidel19/wallcast/internal/protocol"
)

// State of the proxy's current connection attempt. Transitions are one-way
// per attempt: a dead connection never resurrects itself, callers Connect
// again.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	// StateConnected means the socket is open but no role is held, either
	// because registration is still pending or because it was rejected.
	StateConnected  State = "connected"
	StateRegistered State = "registered"
)

var (
	// ErrNotRegistered fails a Send before registration; callers must not
	// queue traffic while unregistered.
	ErrNotRegistered = errors.New("session is not registered")
	// ErrRegistrationRejected wraps the relay's REGISTRATION_ERROR reason.
	// The socket stays open so the caller may retry with another role.
	ErrRegistrationRejected = errors.New("registration rejected")
	// ErrRegistrationTimeout fires when the relay never answers a
	// REGISTER_CLIENT within the configured bound.
	ErrRegistrationTimeout = errors.New("registration timed out")
	// ErrConnectionClosed reports that the transport died mid-operation.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrConnectInFlight rejects overlapping Connect calls.
	ErrConnectInFlight = errors.New("connect already in progress")
	// ErrAlreadyRegistered rejects a Connect while a role is already held.
	ErrAlreadyRegistered = errors.New("session is already registered")
)

// Handler consumes one decoded envelope on the proxy's read goroutine.
// Handlers must not block; anything slow belongs on the caller's own loop.
type Handler func(protocol.Message)

// link is one transport connection. A proxy creates a fresh link per dial;
// the send channel is never closed so enqueuers racing a teardown cannot
// panic, and the pumps exit via done.
type link struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newLink(ws *websocket.Conn, sendBuffer int) *link {
	return &link{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.ws.Close()
	})
}

// enqueue hands bytes to the write pump. It reports false once the link is
// down; a full queue drops the frame instead of stalling the caller.
func (l *link) enqueue(data []byte) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.send <- data:
		return true
	case <-l.done:
		return false
	default:
		log.Warn().Msg("session send buffer full, dropping outbound envelope")
		return true
	}
}

// regOutcome is the relay's answer to one REGISTER_CLIENT.
type regOutcome struct {
	sessionID string
	role      protocol.Role
	rejection string
}

// Proxy owns one client connection's lifecycle: connect, register, typed
// send, typed-event dispatch and disconnect. One Proxy serves one logical
// client; it never reconnects on its own.
type Proxy struct {
	cfg    Config
	dialer *websocket.Dialer
	clock  clockwork.Clock

	mu        sync.Mutex
	state     State
	role      protocol.Role
	sessionID string
	link      *link
	regWait   chan regOutcome

	handlerMu sync.RWMutex
	handlers  map[protocol.MessageType]Handler
}

// New builds a proxy for the configured relay endpoint.
func New(cfg Config) *Proxy {
	return &Proxy{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		clock:    clockwork.NewRealClock(),
		state:    StateDisconnected,
		handlers: make(map[protocol.MessageType]Handler),
	}
}

// On registers the handler for one message type, replacing any previous one.
// Incoming envelopes whose type has no handler are a silent no-op so
// role-irrelevant traffic can pass through unhandled.
func (p *Proxy) On(t protocol.MessageType, h Handler) {
	p.handlerMu.Lock()
	defer p.handlerMu.Unlock()
	p.handlers[t] = h
}

// State returns the current connection state and the registered role, if any.
func (p *Proxy) State() (State, protocol.Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.role
}

// SessionID returns the relay-assigned session token, empty until registered.
func (p *Proxy) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Connect opens the transport when none is up, claims role and blocks until
// the relay answers, the registration timeout elapses, the transport fails or
// ctx is cancelled, whichever comes first. A rejected registration leaves
// the socket open in StateConnected so the caller may retry another role on
// the same connection.
func (p *Proxy) Connect(ctx context.Context, role protocol.Role) (string, error) {
	p.mu.Lock()
	switch p.state {
	case StateConnecting:
		p.mu.Unlock()
		return "", ErrConnectInFlight
	case StateRegistered:
		p.mu.Unlock()
		return "", ErrAlreadyRegistered
	}
	if p.regWait != nil {
		p.mu.Unlock()
		return "", ErrConnectInFlight
	}
	needDial := p.state == StateDisconnected
	if needDial {
		p.state = StateConnecting
	}
	wait := make(chan regOutcome, 1)
	p.regWait = wait
	l := p.link
	p.mu.Unlock()

	if needDial {
		ws, _, err := p.dialer.DialContext(ctx, p.cfg.URL, nil)
		if err != nil {
			p.mu.Lock()
			p.state = StateDisconnected
			p.regWait = nil
			p.mu.Unlock()
			return "", fmt.Errorf("failed to dial relay at %s: %w", p.cfg.URL, err)
		}
		l = newLink(ws, p.cfg.SendBuffer)
		p.mu.Lock()
		p.link = l
		p.state = StateConnected
		p.mu.Unlock()
		go p.readLoop(l)
		go p.writeLoop(l)
		log.Info().Str("url", p.cfg.URL).Msg("session connected")
	}

	data, err := protocol.Encode(protocol.NewRegisterClient(role))
	if err != nil {
		p.clearWait(wait)
		return "", err
	}
	if !l.enqueue(data) {
		p.clearWait(wait)
		return "", ErrConnectionClosed
	}

	timer := p.clock.NewTimer(p.cfg.RegistrationTimeout)
	defer timer.Stop()

	select {
	case out := <-wait:
		if out.rejection != "" {
			log.Warn().Str("role", string(role)).Str("reason", out.rejection).Msg("registration rejected")
			return "", fmt.Errorf("%w: %s", ErrRegistrationRejected, out.rejection)
		}
		p.mu.Lock()
		p.state = StateRegistered
		p.role = out.role
		p.sessionID = out.sessionID
		p.mu.Unlock()
		log.Info().
			Str("session_id", out.sessionID).
			Str("role", string(out.role)).
			Msg("session registered")
		return out.sessionID, nil
	case <-timer.Chan():
		p.clearWait(wait)
		return "", ErrRegistrationTimeout
	case <-l.done:
		p.clearWait(wait)
		return "", ErrConnectionClosed
	case <-ctx.Done():
		p.clearWait(wait)
		return "", ctx.Err()
	}
}

// clearWait disarms the registration waiter unless the read loop already
// answered it; a reply that races the timeout still wins.
func (p *Proxy) clearWait(wait chan regOutcome) {
	p.mu.Lock()
	if p.regWait == wait {
		p.regWait = nil
	}
	p.mu.Unlock()
}

// Send encodes and enqueues one envelope, fire-and-forget. It fails fast
// while not registered and never blocks the caller's frame loop.
func (p *Proxy) Send(msg protocol.Message) error {
	p.mu.Lock()
	if p.state != StateRegistered {
		p.mu.Unlock()
		return ErrNotRegistered
	}
	l := p.link
	p.mu.Unlock()

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if !l.enqueue(data) {
		return ErrConnectionClosed
	}
	return nil
}

// Disconnect tears the connection down. Idempotent; a later Connect starts a
// fresh attempt.
func (p *Proxy) Disconnect() {
	p.mu.Lock()
	l := p.link
	p.mu.Unlock()
	if l != nil {
		l.close()
	}
}

// readLoop drains the socket and dispatches each envelope. It owns the
// transition to StateDisconnected: any flavor of connection loss ends here.
func (p *Proxy) readLoop(l *link) {
	defer func() {
		l.close()
		p.mu.Lock()
		if p.link == l {
			p.state = StateDisconnected
			p.regWait = nil
		}
		p.mu.Unlock()
		log.Info().Msg("session disconnected")
	}()

	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("unexpected socket close")
			}
			return
		}
		p.dispatch(data)
	}
}

// dispatch decodes one inbound envelope, answers a pending registration if
// one is armed and otherwise hands the message to its type handler.
func (p *Proxy) dispatch(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		// Relay traffic is trusted; a decode failure is logged, never fatal.
		log.Warn().Err(err).Msg("dropping undecodable relay envelope")
		return
	}

	switch m := msg.(type) {
	case protocol.RegistrationSuccess:
		if p.answerRegistration(regOutcome{sessionID: m.SessionID, role: m.Role}) {
			return
		}
	case protocol.RegistrationError:
		if p.answerRegistration(regOutcome{rejection: m.Reason}) {
			return
		}
	}

	p.handlerMu.RLock()
	h := p.handlers[msg.MessageType()]
	p.handlerMu.RUnlock()
	if h == nil {
		return
	}
	h(msg)
}

func (p *Proxy) answerRegistration(out regOutcome) bool {
	p.mu.Lock()
	wait := p.regWait
	p.regWait = nil
	p.mu.Unlock()
	if wait == nil {
		return false
	}
	wait <- out
	return true
}

// writeLoop drains the send queue. Write failures kill the link; the read
// loop then reports the loss.
func (p *Proxy) writeLoop(l *link) {
	defer l.close()

	for {
		select {
		case <-l.done:
			return
		case data := <-l.send:
			l.ws.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
			if err := l.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Msg("session write failed")
				return
			}
		}
	}
}
