// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/aiku/slack-adapter/pkg/adapter/socketmode"
	"github.com/aiku/slack-adapter/pkg/brain"
)

// ErrNotConnected is returned by outbound calls after Disconnect.
var ErrNotConnected = errors.New("adapter is disconnected")

const sweepInterval = time.Minute

// SocketClient is the real-time connection the adapter reads from.
// *socketmode.Client implements it.
type SocketClient interface {
	Events() <-chan socketmode.Event
	Run(ctx context.Context, shouldReconnect func() bool) error
	Ack(envelopeID string) error
	Close() error
}

// Receiver gets every classified message. Receive may block; each call runs
// on its own goroutine.
type Receiver interface {
	Receive(ctx context.Context, msg Message)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, msg Message)

func (f ReceiverFunc) Receive(ctx context.Context, msg Message) {
	f(ctx, msg)
}

// Options holds the adapter's collaborators. Only Config is required; the
// rest default to the Slack clients built from its tokens, an in-memory
// brain, a disabled logger and a fresh metrics registry.
type Options struct {
	Config   *Config
	API      WebAPI
	Socket   SocketClient
	Receiver Receiver
	Brain    brain.Store
	Log      zerolog.Logger
	Metrics  *Metrics
}

// Adapter connects to Slack over Socket Mode and turns events into messages
// for a Receiver.
type Adapter struct {
	cfg      *Config
	api      WebAPI
	socket   SocketClient
	receiver Receiver
	brain    brain.Store
	log      zerolog.Logger
	metrics  *Metrics

	users         *Cache[*slack.User]
	conversations *Cache[*slack.Channel]
	classifier    *Classifier
	dedup         *Deduplicator
	conn          *ConnectionManager
	limiter       *rate.Limiter

	self     atomic.Pointer[Identity]
	dispatch sync.WaitGroup

	dmMu       sync.Mutex
	dmChannels map[string]string

	errMu    sync.Mutex
	onError  []func(error)
	syncMu   sync.Mutex
	lastSync time.Time
}

// New validates the tokens and builds an adapter. It does not connect.
func New(opts Options) (*Adapter, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("adapter: missing config")
	}
	if err := ValidateCredentials(cfg.BotToken, cfg.AppToken); err != nil {
		return nil, err
	}

	if opts.API == nil || opts.Socket == nil {
		client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
		if opts.API == nil {
			opts.API = NewSlackWebAPI(client)
		}
		if opts.Socket == nil {
			opts.Socket = socketmode.New(client, socketmode.Options{Log: opts.Log})
		}
	}
	if opts.Brain == nil {
		opts.Brain = brain.NewMemoryStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	log := opts.Log.With().Str("component", "slack_adapter").Logger()
	cacheOpts := CacheOptions{
		TTL:           cfg.CacheTTL,
		LookupTimeout: cfg.LookupTimeout,
		Log:           log,
		Metrics:       opts.Metrics,
	}
	users := newUserCache(opts.API, cacheOpts)
	conversations := newConversationCache(opts.API, cacheOpts)

	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 1
	}

	return &Adapter{
		cfg:           cfg,
		api:           opts.API,
		socket:        opts.Socket,
		receiver:      opts.Receiver,
		brain:         opts.Brain,
		log:           log,
		metrics:       opts.Metrics,
		users:         users,
		conversations: conversations,
		classifier:    NewClassifier(cfg.Alias, users, conversations, opts.Metrics, opts.Log),
		dedup:         NewDeduplicator(cfg.DedupRetention),
		conn:          NewConnectionManager(cfg.ReconnectEnabled(), opts.Log, opts.Metrics),
		limiter:       rate.NewLimiter(cfg.SendLimit(), burst),
		dmChannels:    make(map[string]string),
	}, nil
}

// SetReceiver replaces the receiver. It must be called before Run.
func (a *Adapter) SetReceiver(r Receiver) {
	a.receiver = r
}

// Self is the bot identity learned from auth.test. It is empty before Run.
func (a *Adapter) Self() Identity {
	if id := a.self.Load(); id != nil {
		return *id
	}
	return Identity{}
}

// Alias is the configured prefix the bot answers to.
func (a *Adapter) Alias() string {
	return a.cfg.Alias
}

func (a *Adapter) Metrics() *Metrics {
	return a.metrics
}

func (a *Adapter) Brain() brain.Store {
	return a.brain
}

// OnError registers fn for errors the adapter cannot handle itself, such as
// failed sends.
func (a *Adapter) OnError(fn func(error)) {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	a.onError = append(a.onError, fn)
}

// OnConnection registers fn for connection notifications.
func (a *Adapter) OnConnection(fn func(ConnectionNotification, error)) {
	a.conn.Subscribe(fn)
}

// Run authenticates, connects and handles events until ctx is done,
// Disconnect is called, or the connection closes for good. Message handlers
// that are still running are waited for before it returns.
func (a *Adapter) Run(ctx context.Context) error {
	a.log.Info().Msg("Connecting to Slack")
	id, err := verifyIdentity(ctx, a.api)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to verify Slack credentials")
		return err
	}
	a.self.Store(id)
	a.classifier.SetIdentity(*id)
	a.log.Info().
		Str("user_id", id.UserID).
		Str("bot_id", id.BotID).
		Str("team_id", id.TeamID).
		Str("name", id.Name).
		Msg("Authenticated")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var background sync.WaitGroup
	if !a.cfg.DisableUserSync {
		background.Go(func() {
			if _, err := a.SyncUsers(ctx); err != nil {
				a.log.Error().Err(err).Msg("Initial user sync failed")
			}
			a.WatchUserSync(ctx, a.cfg.UserSyncSchedule)
		})
	}
	background.Go(func() {
		a.sweepDeliveries(ctx, sweepInterval)
	})

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.socket.Run(ctx, a.conn.ShouldReconnect)
	}()

	for evt := range a.socket.Events() {
		a.handleSocketEvent(ctx, evt)
	}
	err = <-runErr

	cancel()
	background.Wait()
	a.dispatch.Wait()
	if err != nil {
		return fmt.Errorf("socket mode connection ended: %w", err)
	}
	return nil
}

// Disconnect closes the connection without reconnecting.
func (a *Adapter) Disconnect() {
	a.log.Info().Msg("Disconnecting from Slack")
	a.conn.Disconnect()
	if err := a.socket.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close socket")
	}
}

func (a *Adapter) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventConnecting:
		a.conn.SocketConnecting()
	case socketmode.EventConnected:
		a.conn.SocketOpened()
	case socketmode.EventDisconnected:
		a.conn.SocketClosed(evt.Err)
	case socketmode.EventConnectionError:
		a.conn.ReconnectFailed(evt.Err)
	case socketmode.EventFrame:
		if evt.Frame != nil {
			a.handleFrame(ctx, evt.Frame)
		}
	}
}

func (a *Adapter) handleFrame(ctx context.Context, frame *socketmode.Frame) {
	if frame.EnvelopeID != "" {
		if err := a.socket.Ack(frame.EnvelopeID); err != nil {
			a.log.Warn().Err(err).Str("envelope_id", frame.EnvelopeID).Msg("Failed to acknowledge envelope")
		}
	}

	switch frame.Type {
	case "hello":
		a.log.Debug().Msg("Received hello from Slack")
	case "disconnect":
		a.log.Info().Str("reason", frame.Reason).Msg("Slack requested a reconnect")
	case "events_api":
		a.handleDelivery(ctx, frame)
	default:
		a.log.Trace().Str("frame_type", frame.Type).Msg("Ignoring socket frame")
	}
}

func (a *Adapter) handleDelivery(ctx context.Context, frame *socketmode.Frame) {
	d, err := ParseDelivery(frame.EnvelopeID, frame.Type, frame.Payload, frame.RetryAttempt, frame.RetryReason)
	if err != nil {
		a.metrics.EventsDropped.WithLabelValues("malformed").Inc()
		a.log.Trace().Err(err).Str("envelope_id", frame.EnvelopeID).Msg("Dropping malformed delivery")
		return
	}

	eventType := "unknown"
	evt := d.RawEvent()
	if evt != nil {
		eventType = evt.Type
	}
	a.metrics.EventsReceived.WithLabelValues(eventType).Inc()

	key := d.DedupKey()
	if !a.dedup.ShouldProcess(key, d.RetryNum) {
		a.metrics.DuplicateEvents.Inc()
		a.log.Debug().
			Str("dedup_key", key).
			Int("retry_num", d.RetryNum).
			Str("retry_reason", d.RetryReason).
			Msg("Skipping redelivered event")
		return
	}

	// Lookups made while classifying can be slow; they must not hold up
	// acks or intake of later frames.
	a.dispatch.Go(func() {
		defer a.dedup.Done(key)
		defer func() {
			if r := recover(); r != nil {
				a.log.Error().
					Str("dedup_key", key).
					Str("stack", string(debug.Stack())).
					Msgf("Panic while handling event: %v", r)
			}
		}()

		a.handleUserEvent(ctx, evt)

		msg, err := a.classifier.Classify(ctx, d)
		if err != nil {
			a.emitError(err)
		}
		if msg == nil || a.receiver == nil {
			return
		}
		a.receiver.Receive(ctx, msg)
	})
}

// sweepDeliveries evicts expired dedup keys until ctx is done.
func (a *Adapter) sweepDeliveries(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.dedup.Sweep(now); n > 0 {
				a.log.Trace().Int("count", n).Msg("Evicted delivered event ids")
			}
		}
	}
}

func (a *Adapter) emitError(err error) {
	a.log.Error().Err(err).Msg("Slack adapter error")
	a.errMu.Lock()
	handlers := make([]func(error), len(a.onError))
	copy(handlers, a.onError)
	a.errMu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

// Status is a point-in-time view of the adapter for the admin API.
type Status struct {
	State             string    `json:"state"`
	UserID            string    `json:"user_id,omitempty"`
	BotID             string    `json:"bot_id,omitempty"`
	TeamID            string    `json:"team_id,omitempty"`
	Name              string    `json:"name,omitempty"`
	CachedUsers       int       `json:"cached_users"`
	CachedChannels    int       `json:"cached_conversations"`
	TrackedDeliveries int       `json:"tracked_deliveries"`
	LastUserSync      time.Time `json:"last_user_sync,omitzero"`
}

func (a *Adapter) Status() Status {
	id := a.Self()
	a.syncMu.Lock()
	lastSync := a.lastSync
	a.syncMu.Unlock()
	return Status{
		State:             a.conn.State().String(),
		UserID:            id.UserID,
		BotID:             id.BotID,
		TeamID:            id.TeamID,
		Name:              id.Name,
		CachedUsers:       a.users.Len(),
		CachedChannels:    a.conversations.Len(),
		TrackedDeliveries: a.dedup.Len(),
		LastUserSync:      lastSync,
	}
}
