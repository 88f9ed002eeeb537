// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package socketmode keeps a Slack Socket Mode websocket connected and turns
// what arrives on it into a single ordered stream of events.
package socketmode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 30 * time.Second
	DefaultReadWait   = 2 * time.Minute

	maxFrameSize = 4 << 20
	writeWait    = 10 * time.Second
)

var ErrNotConnected = errors.New("socket is not connected")

// EventType identifies what happened on the socket.
type EventType int

const (
	EventConnecting EventType = iota
	EventConnected
	EventDisconnected
	EventConnectionError
	EventFrame
)

func (t EventType) String() string {
	switch t {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectionError:
		return "connection_error"
	case EventFrame:
		return "frame"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Frame is one JSON message received from Slack.
type Frame struct {
	EnvelopeID             string          `json:"envelope_id,omitempty"`
	Type                   string          `json:"type"`
	Payload                json.RawMessage `json:"payload,omitempty"`
	RetryAttempt           int             `json:"retry_attempt,omitempty"`
	RetryReason            string          `json:"retry_reason,omitempty"`
	AcceptsResponsePayload bool            `json:"accepts_response_payload,omitempty"`
	// Reason is set on disconnect frames.
	Reason string `json:"reason,omitempty"`
}

// Event is delivered on Client.Events in the order things happened.
type Event struct {
	Type  EventType
	Frame *Frame
	Err   error
	// Attempt counts consecutive failed connection attempts.
	Attempt int
}

// URLOpener obtains a fresh websocket URL. *slack.Client implements it.
type URLOpener interface {
	StartSocketModeContext(ctx context.Context) (*slack.SocketModeConnection, string, error)
}

type Options struct {
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	ReadWait   time.Duration
	Log        zerolog.Logger
}

// Client is a single Socket Mode connection that reconnects with exponential
// backoff.
type Client struct {
	opener     URLOpener
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	readWait   time.Duration
	log        zerolog.Logger

	events chan Event

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func New(opener URLOpener, opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.MinBackoff)
	}
	if opts.ReadWait <= 0 {
		opts.ReadWait = DefaultReadWait
	}
	return &Client{
		opener:     opener,
		dialer:     opts.Dialer,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		readWait:   opts.ReadWait,
		log:        opts.Log.With().Str("component", "socketmode").Logger(),
		events:     make(chan Event, 64),
		closed:     make(chan struct{}),
	}
}

// Events is closed when Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Run connects and keeps reading until ctx is done, Close is called, or a
// connection ends while shouldReconnect reports false. Only the error of that
// last connection is returned.
func (c *Client) Run(ctx context.Context, shouldReconnect func() bool) error {
	defer close(c.events)

	attempt := 0
	for {
		if c.stopped(ctx) {
			return nil
		}
		c.emit(ctx, Event{Type: EventConnecting, Attempt: attempt})

		opened, err := c.runConnection(ctx)
		if opened {
			attempt = 0
			c.emit(ctx, Event{Type: EventDisconnected, Err: err})
		} else {
			attempt++
			c.emit(ctx, Event{Type: EventConnectionError, Err: err, Attempt: attempt})
		}

		if c.stopped(ctx) {
			return nil
		}
		if shouldReconnect != nil && !shouldReconnect() {
			return err
		}

		wait := c.backoff(max(attempt, 1))
		c.log.Debug().Dur("wait", wait).Int("attempt", attempt).Msg("Reconnecting after backoff")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-c.closed:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runConnection opens one connection and reads it until it fails. opened
// reports whether the handshake completed.
func (c *Client) runConnection(ctx context.Context) (opened bool, err error) {
	_, wsURL, err := c.opener.StartSocketModeContext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to open socket mode connection: %w", err)
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial socket: %w", err)
	}

	session := uuid.NewString()
	log := c.log.With().Str("session_id", session).Logger()

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		_ = conn.Close()
	}()

	// Close may have run between the dial and publishing conn.
	select {
	case <-c.closed:
		return true, nil
	default:
	}

	// Unblocks the read below when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	log.Debug().Msg("Socket connected")
	c.emit(ctx, Event{Type: EventConnected})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("Socket read failed")
			}
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.readWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Msg("Ignoring malformed socket frame")
			continue
		}
		c.emit(ctx, Event{Type: EventFrame, Frame: &frame})

		if frame.Type == "disconnect" {
			log.Debug().Str("reason", frame.Reason).Msg("Slack requested disconnect")
			return true, fmt.Errorf("server requested disconnect: %s", frame.Reason)
		}
	}
}

// Ack acknowledges an envelope on the current connection.
func (c *Client) Ack(envelopeID string) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(map[string]string{"envelope_id": envelopeID}); err != nil {
		return fmt.Errorf("failed to ack envelope %s: %w", envelopeID, err)
	}
	return nil
}

// Close stops Run and closes the current connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return conn.Close()
}

func (c *Client) emit(ctx context.Context, evt Event) {
	select {
	case c.events <- evt:
		return
	default:
	}
	select {
	case c.events <- evt:
	case <-ctx.Done():
	case <-c.closed:
	}
}

func (c *Client) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// backoff doubles from minBackoff up to maxBackoff and adds up to 50% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	wait := c.minBackoff
	for i := 1; i < attempt && wait < c.maxBackoff; i++ {
		wait *= 2
	}
	wait = min(wait, c.maxBackoff)
	if half := wait / 2; half > 0 {
		wait += rand.N(half)
	}
	return wait
}
