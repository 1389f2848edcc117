// Package broker owns the single authenticated WebSocket connection to the
// platform message broker: connect, subscribe/unsubscribe, send, teardown.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jobdam/agentdesk/internal/logging"
)

// State is the transport connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config holds the parameters for dialing the broker.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// Token is the bearer credential attached to the handshake. Empty
	// means an unauthenticated attempt; the server rejects sensitive
	// subscriptions in that case.
	Token string
	// HandshakeTimeout bounds the dial. Default: 10s.
	HandshakeTimeout time.Duration
	// OnDisconnect is called once when the read loop exits (nil is
	// ignored). It runs on the read loop goroutine.
	OnDisconnect func(err error)
}

// Subscription is a live topic subscription. Unsubscribe is safe to call
// more than once.
type Subscription struct {
	conn  *Conn
	topic string
	id    string

	once sync.Once
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe removes the subscription and notifies the broker.
func (s *Subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.conn.unsubscribe(s)
	})
	return err
}

// Conn is a single connection to the broker. It is safe for concurrent
// use. Inbound frames are dispatched to subscription handlers on the read
// loop goroutine, one at a time, in delivery order per topic.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	closed bool
	subs   map[string]*Subscription         // topic -> subscription
	funcs  map[string]func(json.RawMessage) // topic -> handler

	done chan struct{}
}

// Dial opens the broker connection. The bearer credential, when present,
// is sent as an Authorization header on the handshake.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	log := logging.Transport()

	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("broker connect %s: status %d: %w", cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("broker connect %s: %w", cfg.URL, err)
	}

	c := &Conn{
		ws:     ws,
		logger: log,
		state:  StateConnected,
		subs:   make(map[string]*Subscription),
		funcs:  make(map[string]func(json.RawMessage)),
		done:   make(chan struct{}),
	}

	go c.readLoop(cfg.OnDisconnect)

	log.Info("broker connected", "url", cfg.URL, "authenticated", cfg.Token != "")
	return c, nil
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the read loop exits.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Subscribe registers a handler for a topic and notifies the broker. The
// handler runs on the read loop goroutine; it must not block.
func (c *Conn) Subscribe(topic string, handler func(body json.RawMessage)) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.state != StateConnected {
		return nil, ErrNotConnected
	}
	if _, exists := c.subs[topic]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, topic)
	}

	sub := &Subscription{
		conn:  c,
		topic: topic,
		id:    uuid.NewString(),
	}
	if err := c.writeFrame(clientFrame{
		Command:     commandSubscribe,
		ID:          sub.id,
		Destination: topic,
	}); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	c.subs[topic] = sub
	c.funcs[topic] = handler
	c.logger.Debug("subscribed", "topic", topic, "sub_id", sub.id)
	return sub, nil
}

// unsubscribe removes a subscription and notifies the broker. Best effort:
// the local handler is removed even if the frame cannot be written.
func (c *Conn) unsubscribe(sub *Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.subs[sub.topic]; !ok || current != sub {
		return nil // replaced or already removed
	}
	delete(c.subs, sub.topic)
	delete(c.funcs, sub.topic)

	if c.closed || c.state != StateConnected {
		return nil
	}
	if err := c.writeFrame(clientFrame{
		Command:     commandUnsubscribe,
		ID:          sub.id,
		Destination: sub.topic,
	}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.topic, err)
	}
	c.logger.Debug("unsubscribed", "topic", sub.topic, "sub_id", sub.id)
	return nil
}

// Send marshals payload and delivers it to an application destination.
func (c *Conn) Send(destination string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("send %s: marshal: %w", destination, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state != StateConnected {
		return ErrNotConnected
	}
	if err := c.writeFrame(clientFrame{
		Command:     commandSend,
		Destination: destination,
		Body:        body,
	}); err != nil {
		return fmt.Errorf("send %s: %w", destination, err)
	}
	return nil
}

// writeFrame writes a frame to the socket. Caller must hold c.mu.
func (c *Conn) writeFrame(f clientFrame) error {
	return c.ws.WriteJSON(f)
}

// Close unsubscribes everything and releases the connection. It is always
// invoked on console teardown so the socket never outlives the session.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	// Tell the broker about every live subscription before dropping the
	// socket. Best effort: the socket may already be gone.
	for topic, sub := range c.subs {
		_ = c.writeFrame(clientFrame{
			Command:     commandUnsubscribe,
			ID:          sub.id,
			Destination: topic,
		})
	}
	c.subs = make(map[string]*Subscription)
	c.funcs = make(map[string]func(json.RawMessage))
	c.state = StateDisconnected
	c.mu.Unlock()

	err := c.ws.Close()
	c.logger.Info("broker connection closed")
	return err
}

// readLoop reads server frames and dispatches them to topic handlers.
func (c *Conn) readLoop(onDisconnect func(error)) {
	defer close(c.done)

	for {
		var frame serverFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.state = StateDisconnected
			c.mu.Unlock()

			if !wasClosed {
				c.logger.Warn("broker connection dropped", "error", err)
				if onDisconnect != nil {
					onDisconnect(err)
				}
			} else if onDisconnect != nil {
				onDisconnect(nil)
			}
			return
		}

		c.mu.Lock()
		handler := c.funcs[frame.Destination]
		c.mu.Unlock()

		if handler == nil {
			c.logger.Debug("frame for unknown destination", "destination", frame.Destination)
			continue
		}
		handler(frame.Body)
	}
}
