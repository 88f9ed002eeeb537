// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"sync"

	"github.com/rs/zerolog"
)

// ConnectionState is the lifecycle state of the socket.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionNotification is delivered to subscribers on state changes.
type ConnectionNotification string

const (
	NotifyConnected           ConnectionNotification = "connected"
	NotifyDisconnected        ConnectionNotification = "disconnected"
	NotifyWaitingForReconnect ConnectionNotification = "waiting_for_reconnect"
	NotifyReconnectFailed     ConnectionNotification = "reconnect_failed"
)

// ConnectionManager tracks socket state. It is driven by socket lifecycle
// events and owns no socket itself.
type ConnectionManager struct {
	log     zerolog.Logger
	metrics *Metrics

	mu            sync.Mutex
	state         ConnectionState
	autoReconnect bool
	userClosed    bool
	everOpened    bool
	subscribers   []func(ConnectionNotification, error)
}

func NewConnectionManager(autoReconnect bool, log zerolog.Logger, metrics *Metrics) *ConnectionManager {
	cm := &ConnectionManager{
		log:           log.With().Str("component", "connection").Logger(),
		metrics:       metrics,
		state:         StateClosed,
		autoReconnect: autoReconnect,
	}
	if metrics != nil {
		metrics.setConnectionState(StateClosed)
	}
	return cm
}

// Subscribe registers fn for every notification. Callbacks run synchronously
// on the goroutine that drives the transition.
func (cm *ConnectionManager) Subscribe(fn func(ConnectionNotification, error)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.subscribers = append(cm.subscribers, fn)
}

func (cm *ConnectionManager) State() ConnectionState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// ShouldReconnect reports whether a closed socket may re-enter Connecting.
func (cm *ConnectionManager) ShouldReconnect() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.autoReconnect && !cm.userClosed
}

// UserClosed reports whether Disconnect was called.
func (cm *ConnectionManager) UserClosed() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.userClosed
}

// SocketConnecting records that the socket started a connection attempt.
// Attempts after a user-initiated disconnect are ignored.
func (cm *ConnectionManager) SocketConnecting() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.userClosed {
		return
	}
	if cm.state == StateClosed && cm.everOpened && cm.metrics != nil {
		cm.metrics.Reconnects.Inc()
	}
	cm.setState(StateConnecting)
}

// SocketOpened records a successful connection.
func (cm *ConnectionManager) SocketOpened() {
	cm.mu.Lock()
	if cm.userClosed {
		cm.mu.Unlock()
		return
	}
	cm.setState(StateOpen)
	cm.everOpened = true
	subs := cm.snapshot()
	cm.mu.Unlock()

	cm.log.Info().Msg("Connected to Slack Socket")
	notify(subs, NotifyConnected, nil)
}

// SocketClosed records that the socket closed and reports whether it will
// reconnect.
func (cm *ConnectionManager) SocketClosed(err error) bool {
	cm.mu.Lock()
	cm.setState(StateClosed)
	reconnect := cm.autoReconnect && !cm.userClosed
	subs := cm.snapshot()
	cm.mu.Unlock()

	cm.log.Info().Err(err).Msg("Disconnected from Slack Socket")
	notify(subs, NotifyDisconnected, err)
	if reconnect {
		cm.log.Info().Msg("Waiting for reconnect...")
		notify(subs, NotifyWaitingForReconnect, nil)
	}
	return reconnect
}

// ReconnectFailed records a failed connection attempt. It is not fatal; the
// socket keeps retrying with backoff while ShouldReconnect holds.
func (cm *ConnectionManager) ReconnectFailed(err error) {
	cm.mu.Lock()
	cm.setState(StateClosed)
	subs := cm.snapshot()
	cm.mu.Unlock()

	cm.log.Error().Err(err).Msg("Failed to connect to Slack Socket")
	notify(subs, NotifyReconnectFailed, err)
}

// Disconnect marks the close as user-initiated. The connection will not be
// re-established afterwards.
func (cm *ConnectionManager) Disconnect() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.userClosed = true
	if cm.state == StateOpen || cm.state == StateConnecting {
		cm.setState(StateClosing)
	}
}

func (cm *ConnectionManager) setState(state ConnectionState) {
	cm.state = state
	if cm.metrics != nil {
		cm.metrics.setConnectionState(state)
	}
}

func (cm *ConnectionManager) snapshot() []func(ConnectionNotification, error) {
	subs := make([]func(ConnectionNotification, error), len(cm.subscribers))
	copy(subs, cm.subscribers)
	return subs
}

func notify(subs []func(ConnectionNotification, error), n ConnectionNotification, err error) {
	for _, fn := range subs {
		fn(n, err)
	}
}
