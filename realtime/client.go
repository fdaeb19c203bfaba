package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"mealflow/config"
	"mealflow/internal/metrics"
	"mealflow/internal/state"
	"mealflow/logger"
)

// Frame is the wire envelope for every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of one delivered event.
type Handler func(data json.RawMessage)

type handlerRef struct {
	fn Handler
}

// Client owns exactly one underlying socket connection. It translates raw
// transport lifecycle into connection store transitions and provides a
// publish/subscribe facade with subscription replay after reconnect: the
// server holds no cross-connection memory of topic interest, so the active
// subscription set is resent on every fresh physical connection.
type Client struct {
	cfg   config.RealtimeConfig
	store *state.ConnectionStore
	log   *logger.Log

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	handlers map[string][]*handlerRef
	token    string
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
}

// NewClient creates a realtime client driving the given connection store.
func NewClient(cfg config.RealtimeConfig, store *state.ConnectionStore) *Client {
	return &Client{
		cfg:      cfg,
		store:    store,
		handlers: make(map[string][]*handlerRef),
		log:      logger.GetLogger(),
	}
}

// Store exposes the connection store for observers.
func (c *Client) Store() *state.ConnectionStore {
	return c.store
}

// IsConnected reports whether the transport is currently connected.
func (c *Client) IsConnected() bool {
	return c.store.IsConnected()
}

// Connect establishes the socket connection using the given bearer token and
// starts the reconnect loop.
func (c *Client) Connect(token string) error {
	return c.start(token)
}

// Reconnect restarts the connection after a terminal error, reusing the token
// from the previous Connect. The attempt counter starts over.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == "" {
		return fmt.Errorf("no token available, call Connect first")
	}
	c.store.ResetReconnectAttempts()
	return c.start(token)
}

func (c *Client) start(token string) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("realtime client already running")
	}
	c.running = true
	c.token = token

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	c.store.SetStatus(state.StatusConnecting)
	go c.run(ctx, done)
	return nil
}

// Disconnect immediately tears down the transport, clears all handler
// registrations, and resets the connection store. No in-flight event
// draining is attempted. It waits for the reconnect loop to exit so no
// lifecycle transition lands in the store after the reset.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.cancel = nil
	c.conn = nil
	c.done = nil
	c.handlers = make(map[string][]*handlerRef)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	c.store.Reset()
	c.log.WithComponent("realtime").Info("realtime client disconnected")
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(done)
	}()

	log := c.log.WithComponent("realtime").WithField("url", c.cfg.URL)

	b := &backoff.Backoff{
		Min:    c.cfg.Reconnect.MinDelay,
		Max:    c.cfg.Reconnect.MaxDelay,
		Factor: c.cfg.Reconnect.Factor,
		Jitter: true,
	}
	first := true

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempts := c.store.IncrementReconnectAttempts()
			c.store.SetLastError(err.Error())
			log.WithError(err).WithField("attempt", attempts).Warn("failed to connect realtime socket")

			if attempts >= c.cfg.Reconnect.MaxAttempts {
				// Terminal: no silent infinite retry loop. The caller has to
				// invoke Reconnect explicitly.
				log.Error("reconnect attempts exhausted, giving up")
				return
			}

			c.store.SetStatus(state.StatusReconnecting)
			if waitForReconnect(ctx, b.Duration()) {
				return
			}
			continue
		}

		c.setConn(conn)
		c.store.SetConnected(true)
		b.Reset()

		if first {
			first = false
			metrics.IncrementConnect()
			log.Info("realtime socket connected")
		} else {
			metrics.IncrementReconnect()
			log.Info("realtime socket reconnected")
		}

		// Replay topic interest before consuming any events so no channel
		// misses its stream after the new connection.
		c.replaySubscriptions(conn)

		pingCancel := c.startPingLoop(ctx, conn)
		err = c.readLoop(ctx, conn)
		pingCancel()

		c.setConn(nil)
		conn.Close()
		metrics.IncrementDisconnect()

		if ctx.Err() != nil {
			return
		}

		log.WithError(err).Warn("realtime connection lost")
		c.store.SetStatus(state.StatusDisconnected)
		c.store.SetStatus(state.StatusReconnecting)
		if waitForReconnect(ctx, b.Duration()) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	dialer := &websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame Frame) {
	metrics.IncrementEventReceived()
	c.store.AddEvent(frame.Event, frame.Data)
	c.log.WithComponent("realtime").WithField("event", frame.Event).Debug("event received")

	c.mu.Lock()
	refs := append([]*handlerRef(nil), c.handlers[frame.Event]...)
	c.mu.Unlock()

	for _, ref := range refs {
		ref.fn(frame.Data)
	}
}

// On registers a handler for an event name and returns a closure that removes
// it. Multiple handlers for the same event fan out in-process from a single
// dispatch path; removing the last handler drops the event's registry entry
// entirely so nothing dangles.
func (c *Client) On(event string, handler Handler) func() {
	ref := &handlerRef{fn: handler}

	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], ref)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			refs := c.handlers[event]
			for i, r := range refs {
				if r == ref {
					c.handlers[event] = append(refs[:i], refs[i+1:]...)
					break
				}
			}
			if len(c.handlers[event]) == 0 {
				delete(c.handlers, event)
			}
		})
	}
}

// Emit sends a client-to-server event. When disconnected the message is
// dropped with a warning: at-most-once semantics, callers needing delivery
// retry themselves (periodic location pings are self-healing).
func (c *Client) Emit(event string, data interface{}) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !c.store.IsConnected() {
		c.log.WithComponent("realtime").WithField("event", event).Warn("emit while disconnected, dropping message")
		metrics.IncrementEmitDropped()
		return
	}

	if err := c.writeFrame(conn, event, data); err != nil {
		c.log.WithComponent("realtime").WithError(err).WithField("event", event).Warn("failed to emit event")
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(Frame{Event: event, Data: payload})
}

// SubscribeToOrder declares interest in one order's event stream. Idempotent:
// repeated calls from multiple consumers cost one network message, and the
// declaration survives disconnects for replay.
func (c *Client) SubscribeToOrder(orderID string) {
	if !c.store.Subscribe("order:" + orderID) {
		return
	}
	c.Emit(EventOrderSubscribe, SubscribeOrderPayload{OrderID: orderID})
}

func (c *Client) UnsubscribeFromOrder(orderID string) {
	if !c.store.Unsubscribe("order:" + orderID) {
		return
	}
	c.Emit(EventOrderUnsubscribe, SubscribeOrderPayload{OrderID: orderID})
}

// SubscribeToRestaurant declares interest in one restaurant's event stream.
func (c *Client) SubscribeToRestaurant(restaurantID string) {
	if !c.store.Subscribe("restaurant:" + restaurantID) {
		return
	}
	c.Emit(EventRestaurantSubscribe, SubscribeRestaurantPayload{RestaurantID: restaurantID})
}

func (c *Client) UnsubscribeFromRestaurant(restaurantID string) {
	if !c.store.Unsubscribe("restaurant:" + restaurantID) {
		return
	}
	c.Emit(EventRestaurantUnsubscribe, SubscribeRestaurantPayload{RestaurantID: restaurantID})
}

// SendDriverLocation emits a driver position ping for an active delivery.
func (c *Client) SendDriverLocation(orderID string, latitude, longitude float64) {
	c.Emit(EventDriverLocation, DriverLocationPayload{
		OrderID:   orderID,
		Latitude:  latitude,
		Longitude: longitude,
	})
}

// NotifyRead acknowledges a notification as read.
func (c *Client) NotifyRead(notificationID string) {
	c.Emit(EventNotificationRead, NotificationReadPayload{
		NotificationID: notificationID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}

// replaySubscriptions re-emits the subscribe message for every channel in the
// active set, without touching the set itself. Runs synchronously on the new
// connection before the read loop starts.
func (c *Client) replaySubscriptions(conn *websocket.Conn) {
	channels := c.store.Subscriptions()
	if len(channels) == 0 {
		return
	}

	for _, channel := range channels {
		var event string
		var payload interface{}
		switch {
		case strings.HasPrefix(channel, "order:"):
			event = EventOrderSubscribe
			payload = SubscribeOrderPayload{OrderID: strings.TrimPrefix(channel, "order:")}
		case strings.HasPrefix(channel, "restaurant:"):
			event = EventRestaurantSubscribe
			payload = SubscribeRestaurantPayload{RestaurantID: strings.TrimPrefix(channel, "restaurant:")}
		default:
			continue
		}
		if err := c.writeFrame(conn, event, payload); err != nil {
			c.log.WithComponent("realtime").WithError(err).WithField("channel", channel).Warn("failed to replay subscription")
		}
	}

	c.log.WithComponent("realtime").WithField("channels", len(channels)).Info("replayed channel subscriptions")
}

func (c *Client) startPingLoop(ctx context.Context, conn *websocket.Conn) context.CancelFunc {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				// WriteControl bounds the ping with its own deadline and is
				// safe to call concurrently with data writes.
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					c.log.WithComponent("realtime").WithError(err).Warn("failed to send websocket ping")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
