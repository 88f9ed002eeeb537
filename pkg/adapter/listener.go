// Copyright 2024-2026 Aiku AI

package adapter

import (
	"context"
	"regexp"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Robot is what listeners use to answer. *Adapter implements it.
type Robot interface {
	Send(ctx context.Context, env *Envelope, parts ...string) error
	Reply(ctx context.Context, env *Envelope, parts ...string) error
	SetTopic(ctx context.Context, env *Envelope, topic string) error
	Self() Identity
	Alias() string
}

var _ Robot = (*Adapter)(nil)

// Response is handed to a listener's handler for one matching message.
type Response struct {
	Message  Message
	Match    []string
	Envelope *Envelope

	ctx   context.Context
	robot Robot
}

func (r *Response) Context() context.Context {
	return r.ctx
}

func (r *Response) Send(parts ...string) error {
	return r.robot.Send(r.ctx, r.Envelope, parts...)
}

func (r *Response) Reply(parts ...string) error {
	return r.robot.Reply(r.ctx, r.Envelope, parts...)
}

func (r *Response) Topic(topic string) error {
	return r.robot.SetTopic(r.ctx, r.Envelope, topic)
}

// Matcher decides whether a listener handles a message and what it matched.
type Matcher func(msg Message) (match []string, ok bool)

type Listener struct {
	ID      string
	matcher Matcher
	handler func(*Response)
}

type ListenerOption func(*Listener)

// WithID sets the listener id instead of generating one.
func WithID(id string) ListenerOption {
	return func(l *Listener) {
		l.ID = id
	}
}

// Dispatcher routes messages to registered listeners. It implements Receiver.
type Dispatcher struct {
	robot Robot
	log   zerolog.Logger

	mu        sync.RWMutex
	listeners []*Listener
}

var _ Receiver = (*Dispatcher)(nil)

func NewDispatcher(robot Robot, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		robot: robot,
		log:   log.With().Str("component", "dispatcher").Logger(),
	}
}

// Listen registers a handler for messages matcher accepts and returns the
// listener id.
func (d *Dispatcher) Listen(matcher Matcher, handler func(*Response), opts ...ListenerOption) string {
	l := &Listener{matcher: matcher, handler: handler}
	for _, opt := range opts {
		opt(l)
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
	return l.ID
}

// Remove unregisters the listener with id.
func (d *Dispatcher) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, l := range d.listeners {
		if l.ID == id {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Hear matches re anywhere in the text of every text message.
func (d *Dispatcher) Hear(re *regexp.Regexp, handler func(*Response), opts ...ListenerOption) string {
	return d.Listen(func(msg Message) ([]string, bool) {
		text, ok := msg.(*TextMessage)
		if !ok {
			return nil, false
		}
		match := re.FindStringSubmatch(text.Text)
		return match, match != nil
	}, handler, opts...)
}

// Respond matches re against text messages addressed to the bot, by @name,
// name or alias, with the address removed.
func (d *Dispatcher) Respond(re *regexp.Regexp, handler func(*Response), opts ...ListenerOption) string {
	return d.Listen(func(msg Message) ([]string, bool) {
		text, ok := msg.(*TextMessage)
		if !ok {
			return nil, false
		}
		rest, ok := d.addressed(text.Text)
		if !ok {
			return nil, false
		}
		match := re.FindStringSubmatch(rest)
		return match, match != nil
	}, handler, opts...)
}

// HearReaction handles reactions accepted by matcher, or all reactions when
// matcher is nil.
func (d *Dispatcher) HearReaction(matcher func(*ReactionMessage) bool, handler func(*Response), opts ...ListenerOption) string {
	return d.Listen(func(msg Message) ([]string, bool) {
		reaction, ok := msg.(*ReactionMessage)
		if !ok || (matcher != nil && !matcher(reaction)) {
			return nil, false
		}
		return []string{reaction.Reaction}, true
	}, handler, opts...)
}

// FileShared handles shared files accepted by matcher, or all of them when
// matcher is nil.
func (d *Dispatcher) FileShared(matcher func(*FileSharedMessage) bool, handler func(*Response), opts ...ListenerOption) string {
	return d.Listen(func(msg Message) ([]string, bool) {
		file, ok := msg.(*FileSharedMessage)
		if !ok || (matcher != nil && !matcher(file)) {
			return nil, false
		}
		return []string{file.FileID}, true
	}, handler, opts...)
}

func (d *Dispatcher) Enter(handler func(*Response), opts ...ListenerOption) string {
	return d.Listen(typeMatcher[*EnterMessage](), handler, opts...)
}

func (d *Dispatcher) Leave(handler func(*Response), opts ...ListenerOption) string {
	return d.Listen(typeMatcher[*LeaveMessage](), handler, opts...)
}

func (d *Dispatcher) Topic(handler func(*Response), opts ...ListenerOption) string {
	return d.Listen(func(msg Message) ([]string, bool) {
		topic, ok := msg.(*TopicMessage)
		if !ok {
			return nil, false
		}
		return []string{topic.Topic}, true
	}, handler, opts...)
}

func typeMatcher[T Message]() Matcher {
	return func(msg Message) ([]string, bool) {
		_, ok := msg.(T)
		return nil, ok
	}
}

// Receive runs every matching listener concurrently and returns when all of
// them finished. A panicking handler is logged and does not affect the others.
func (d *Dispatcher) Receive(ctx context.Context, msg Message) {
	d.mu.RLock()
	listeners := make([]*Listener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	base := msg.MessageBase()
	env := &Envelope{Room: base.Room, User: base.User, Message: msg}

	var wg sync.WaitGroup
	for _, l := range listeners {
		match, ok := d.safeMatch(l, msg)
		if !ok {
			continue
		}
		resp := &Response{Message: msg, Match: match, Envelope: env, ctx: ctx, robot: d.robot}
		wg.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error().
						Str("listener_id", l.ID).
						Str("stack", string(debug.Stack())).
						Msgf("Panic in listener: %v", r)
				}
			}()
			l.handler(resp)
		})
	}
	wg.Wait()
}

func (d *Dispatcher) safeMatch(l *Listener, msg Message) (match []string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("listener_id", l.ID).Msgf("Panic in listener matcher: %v", r)
			match, ok = nil, false
		}
	}()
	return l.matcher(msg)
}

// addressed strips a leading bot address from text: the alias, or the bot's
// name with an optional @ and an optional trailing ':' or ','.
func (d *Dispatcher) addressed(text string) (string, bool) {
	return stripAddress(text, d.robot.Alias(), d.robot.Self().Name)
}
