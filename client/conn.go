// Package client implements the session state machine an embedding application
// uses to drive a live dispute conversation: the shared channel connection,
// the room join/history handshake, the ordered message log, typing presence,
// attachment uploads and the role policy gating writes.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/veridict/dispute-chat-api/models"
)

// ErrNotConnected is returned by Manager.Current before any Connect call
var ErrNotConnected = errors.New("chat channel not connected")

// ErrConnClosed is returned by requests issued on a dead connection
var ErrConnClosed = errors.New("chat channel closed")

const (
	defaultRequestTimeout    = 15 * time.Second
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = 2 * time.Second
)

// Observer receives connection lifecycle transitions. Callbacks fire on the
// connection's read goroutine; any nil callback is skipped.
type Observer struct {
	OnConnect    func()
	OnDisconnect func(reason error)
	OnError      func(err error)
}

// Manager owns the single shared channel connection for an authenticated
// session. Connect reuses a live handle; a new one is dialed only when none
// exists.
type Manager struct {
	Endpoint string
	Observer Observer

	// reconnection bounds for the underlying transport
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	mu   sync.Mutex
	conn *Conn
}

// NewManager creates a manager dialing the given websocket endpoint
// (e.g. "wss://host/ws/chat")
func NewManager(endpoint string, observer Observer) *Manager {
	return &Manager{
		Endpoint:          endpoint,
		Observer:          observer,
		ReconnectAttempts: defaultReconnectAttempts,
		ReconnectDelay:    defaultReconnectDelay,
	}
}

// Connect returns the live handle if one exists, otherwise dials a new
// connection authenticated with the channel token. Connect never blocks on
// the dial and never returns an error: dial failures surface through the
// observer and the returned handle simply never becomes live.
func (m *Manager) Connect(channelToken string) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil && !m.conn.isDead() {
		return m.conn
	}

	c := newConn(m, channelToken)
	m.conn = c
	go c.run()
	return c
}

// Current returns the existing handle or ErrNotConnected if Connect has never
// been called
func (m *Manager) Current() (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// Conn is a handle on the bidirectional chat channel. Requests are correlated
// to acks by seq; broadcast events fan out to subscribers.
type Conn struct {
	manager *Manager
	token   string

	ready chan struct{}
	dead  chan struct{}

	writeMu sync.Mutex
	ws      *websocket.Conn

	mu       sync.Mutex
	seq      int64
	pending  map[int64]chan models.Envelope
	handlers map[string]map[int64]func(json.RawMessage)
	handleID int64
	deadOnce sync.Once
}

func newConn(m *Manager, token string) *Conn {
	return &Conn{
		manager:  m,
		token:    token,
		ready:    make(chan struct{}),
		dead:     make(chan struct{}),
		pending:  make(map[int64]chan models.Envelope),
		handlers: make(map[string]map[int64]func(json.RawMessage)),
	}
}

// run dials, signals readiness and pumps inbound envelopes until the
// connection dies; it retries the dial within the manager's reconnection
// bounds.
func (c *Conn) run() {
	attempts := c.manager.ReconnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(c.manager.ReconnectDelay)
		}

		ws, _, err := websocket.DefaultDialer.Dial(c.manager.Endpoint+"?token="+c.token, nil)
		if err != nil {
			zap.S().Warnw("chat channel dial failed", "attempt", attempt+1, "error", err)
			if cb := c.manager.Observer.OnError; cb != nil {
				cb(err)
			}
			continue
		}

		c.writeMu.Lock()
		c.ws = ws
		c.writeMu.Unlock()

		select {
		case <-c.ready:
		default:
			close(c.ready)
		}
		if cb := c.manager.Observer.OnConnect; cb != nil {
			cb()
		}

		err = c.readLoop(ws)
		c.failPending(err)
		if cb := c.manager.Observer.OnDisconnect; cb != nil {
			cb(err)
		}

		select {
		case <-c.dead:
			// closed locally, do not reconnect
			return
		default:
		}
	}

	c.markDead()
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			zap.S().Debugw("ignoring malformed envelope", "error", err)
			continue
		}

		if env.Event == models.EventAck {
			c.mu.Lock()
			ch, ok := c.pending[env.Seq]
			delete(c.pending, env.Seq)
			c.mu.Unlock()
			if ok {
				ch <- env
			}
			continue
		}

		c.mu.Lock()
		subs := make([]func(json.RawMessage), 0, len(c.handlers[env.Event]))
		for _, fn := range c.handlers[env.Event] {
			subs = append(subs, fn)
		}
		c.mu.Unlock()
		for _, fn := range subs {
			fn(env.Data)
		}
	}
}

// Request sends the event and waits for its ack envelope
func (c *Conn) Request(ctx context.Context, event string, data interface{}) (json.RawMessage, error) {
	select {
	case <-c.ready:
	case <-c.dead:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	ch := make(chan models.Envelope, 1)
	c.pending[seq] = ch
	c.mu.Unlock()

	if err := c.write(event, seq, data); err != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case env := <-ch:
		if env.Event == models.EventAck && env.Data == nil {
			return nil, ErrConnClosed
		}
		return env.Data, nil
	case <-c.dead:
		return nil, ErrConnClosed
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget event (typing presence)
func (c *Conn) Notify(event string, data interface{}) error {
	select {
	case <-c.ready:
	case <-c.dead:
		return ErrConnClosed
	default:
		return ErrNotConnected
	}
	return c.write(event, 0, data)
}

// Subscribe registers a broadcast handler and returns its detach function.
// Detach is synchronous: after it returns the handler will not be invoked
// again.
func (c *Conn) Subscribe(event string, fn func(json.RawMessage)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handleID++
	id := c.handleID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int64]func(json.RawMessage))
	}
	c.handlers[event][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

// Close tears the connection down; in-flight requests fail with ErrConnClosed
func (c *Conn) Close() {
	c.markDead()
	c.writeMu.Lock()
	if c.ws != nil {
		c.ws.Close()
	}
	c.writeMu.Unlock()
}

func (c *Conn) write(event string, seq int64, data interface{}) error {
	env, err := models.NewEnvelope(event, seq, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) markDead() {
	c.deadOnce.Do(func() { close(c.dead) })
}

func (c *Conn) isDead() bool {
	select {
	case <-c.dead:
		return true
	default:
		return false
	}
}

func (c *Conn) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for seq, ch := range c.pending {
		delete(c.pending, seq)
		ch <- models.Envelope{Event: models.EventAck, Seq: seq}
	}
}
