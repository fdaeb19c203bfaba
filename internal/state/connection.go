package state

import (
	"sync"
	"time"
)

// ConnectionStatus describes the realtime connection lifecycle phase.
// Exactly one value is active at a time; IsConnected is derived from it.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusError        ConnectionStatus = "error"
)

func (s ConnectionStatus) String() string {
	return string(s)
}

// Event is one entry in the diagnostic event history. Timestamp is epoch
// milliseconds; payload timestamps on the wire are ISO-8601 and unrelated.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// maxEventHistory bounds the diagnostic trail; oldest entries are evicted.
const maxEventHistory = 50

// ConnectionStore is the single source of truth for realtime connection
// health. It holds no I/O; the realtime client drives it and the UI observes
// it. The subscription set survives disconnects so it can be replayed on the
// next physical connection.
type ConnectionStore struct {
	mu                sync.RWMutex
	status            ConnectionStatus
	connected         bool
	reconnectAttempts int
	lastError         string
	events            []Event
	subscriptions     map[string]struct{}
}

// NewConnectionStore returns a store in the disconnected initial state.
func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{
		status:        StatusDisconnected,
		subscriptions: make(map[string]struct{}),
	}
}

// SetStatus records the lifecycle phase and applies the derivation rules:
// connected implies IsConnected and clears the last error; disconnected and
// error imply not connected. Connecting and reconnecting leave the derived
// flag untouched.
func (s *ConnectionStore) SetStatus(status ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status
	switch status {
	case StatusConnected:
		s.connected = true
		s.lastError = ""
	case StatusDisconnected, StatusError:
		s.connected = false
	}
}

// SetConnected overrides the derived flag directly and keeps the status
// consistent with it. Confirmed connects clear the error and the reconnect
// attempt counter.
func (s *ConnectionStore) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = connected
	if connected {
		s.status = StatusConnected
		s.lastError = ""
		s.reconnectAttempts = 0
	} else {
		s.status = StatusDisconnected
	}
}

func (s *ConnectionStore) Status() ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *ConnectionStore) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SetLastError records a connection error message. A non-empty message forces
// the status to error; an empty message only clears the recorded error.
func (s *ConnectionStore) SetLastError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastError = msg
	if msg != "" {
		s.status = StatusError
		s.connected = false
	}
}

func (s *ConnectionStore) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// IncrementReconnectAttempts bumps the monotonic attempt counter and returns
// the new value. The counter only resets on a confirmed connect or Reset.
func (s *ConnectionStore) IncrementReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectAttempts++
	return s.reconnectAttempts
}

func (s *ConnectionStore) ResetReconnectAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectAttempts = 0
}

func (s *ConnectionStore) ReconnectAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnectAttempts
}

// AddEvent prepends an event to the history and truncates it to the bound.
func (s *ConnectionStore) AddEvent(eventType string, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	s.events = append([]Event{evt}, s.events...)
	if len(s.events) > maxEventHistory {
		s.events = s.events[:maxEventHistory]
	}
}

// Events returns a copy of the history, newest first.
func (s *ConnectionStore) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Subscribe adds a channel to the active subscription set. It reports whether
// the channel was newly added, so callers can skip duplicate emissions.
func (s *ConnectionStore) Subscribe(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[channel]; ok {
		return false
	}
	s.subscriptions[channel] = struct{}{}
	return true
}

// Unsubscribe removes a channel and reports whether it was present.
func (s *ConnectionStore) Unsubscribe(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[channel]; !ok {
		return false
	}
	delete(s.subscriptions, channel)
	return true
}

func (s *ConnectionStore) IsSubscribed(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscriptions[channel]
	return ok
}

// Subscriptions returns a copy of the active channel set.
func (s *ConnectionStore) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subscriptions))
	for ch := range s.subscriptions {
		out = append(out, ch)
	}
	return out
}

// Reset returns every field to its initial value. Used on manual disconnect
// and logout; this is the only path that drops the subscription set.
func (s *ConnectionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusDisconnected
	s.connected = false
	s.reconnectAttempts = 0
	s.lastError = ""
	s.events = nil
	s.subscriptions = make(map[string]struct{})
}
