// Copyright 2024-2026 Aiku AI

package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
)

// Envelope addresses an outbound message. Room may be a conversation id or a
// user id; user ids are sent to the direct message with that user. When Room
// is empty the room of User is used. Message is the inbound message being
// answered, if any, and supplies the thread.
type Envelope struct {
	Room    string
	User    *User
	Message Message
}

func (e *Envelope) room() string {
	if e.Room != "" {
		return e.Room
	}
	if e.User != nil {
		return e.User.Room
	}
	return ""
}

func (e *Envelope) threadTS() string {
	if e.Message == nil {
		return ""
	}
	if base := e.Message.MessageBase(); base != nil {
		return base.ThreadTS
	}
	return ""
}

// Send posts each non-empty part as its own message, in order. Every part is
// attempted; the returned error joins the failures.
func (a *Adapter) Send(ctx context.Context, env *Envelope, parts ...string) error {
	if a.conn.UserClosed() {
		return ErrNotConnected
	}
	if env == nil {
		return errors.New("send: missing envelope")
	}
	room, err := a.resolveRoom(ctx, env.room())
	if err != nil {
		a.handleAPIError(err)
		return err
	}
	thread := env.threadTS()

	var errs []error
	for _, part := range parts {
		if part == "" {
			continue
		}
		if err := a.limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		a.log.Debug().
			Str("channel_id", room).
			Str("thread_ts", thread).
			Msg("Sending message")
		if _, err := a.api.PostMessage(ctx, room, part, thread); err != nil {
			a.metrics.MessagesSent.WithLabelValues("error").Inc()
			a.handleAPIError(err)
			errs = append(errs, fmt.Errorf("failed to post message to %s: %w", room, err))
			continue
		}
		a.metrics.MessagesSent.WithLabelValues("ok").Inc()
	}
	return errors.Join(errs...)
}

// SendAsync runs Send in the background and calls done exactly once with its
// result. done may be nil.
func (a *Adapter) SendAsync(ctx context.Context, env *Envelope, done func(error), parts ...string) {
	go func() {
		err := a.Send(ctx, env, parts...)
		if done != nil {
			done(err)
		}
	}()
}

// Reply is Send with every part addressed to the envelope's user, except in
// direct messages where the address is implied.
func (a *Adapter) Reply(ctx context.Context, env *Envelope, parts ...string) error {
	if env == nil || env.User == nil || env.User.ID == "" || a.isDirectRoom(env.room()) {
		return a.Send(ctx, env, parts...)
	}
	prefix := MentionToken(env.User.ID) + ": "
	addressed := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		addressed = append(addressed, prefix+part)
	}
	return a.Send(ctx, env, addressed...)
}

// ReplyAsync runs Reply in the background and calls done exactly once with
// its result. done may be nil.
func (a *Adapter) ReplyAsync(ctx context.Context, env *Envelope, done func(error), parts ...string) {
	go func() {
		err := a.Reply(ctx, env, parts...)
		if done != nil {
			done(err)
		}
	}()
}

// SetTopic sets the topic of the envelope's room. Direct messages have no
// topic, so it does nothing there.
func (a *Adapter) SetTopic(ctx context.Context, env *Envelope, topic string) error {
	if a.conn.UserClosed() {
		return ErrNotConnected
	}
	room := env.room()
	if room == "" || a.isDirectRoom(room) {
		return nil
	}
	if err := a.api.SetTopic(ctx, room, topic); err != nil {
		a.handleAPIError(err)
		return fmt.Errorf("failed to set topic of %s: %w", room, err)
	}
	return nil
}

func (a *Adapter) isDirectRoom(room string) bool {
	if IsUserID(room) {
		return true
	}
	if conv, ok := a.conversations.Peek(room); ok && conv != nil {
		return conv.IsIM
	}
	return IsDirectMessageID(room)
}

// resolveRoom maps a user id to the direct message conversation with that
// user, opening it on first use. Other ids are returned unchanged.
func (a *Adapter) resolveRoom(ctx context.Context, room string) (string, error) {
	if room == "" {
		return "", errors.New("send: envelope has no room")
	}
	if !IsUserID(room) {
		return room, nil
	}

	a.dmMu.Lock()
	channel, ok := a.dmChannels[room]
	a.dmMu.Unlock()
	if ok {
		return channel, nil
	}

	channel, err := a.api.OpenDM(ctx, room)
	if err != nil {
		return "", fmt.Errorf("failed to open direct message with %s: %w", room, err)
	}
	a.dmMu.Lock()
	a.dmChannels[room] = channel
	a.dmMu.Unlock()
	return channel, nil
}

// handleAPIError logs rate limits and forwards every other error to the
// OnError handlers.
func (a *Adapter) handleAPIError(err error) {
	var limited *slack.RateLimitedError
	if errors.As(err, &limited) {
		a.metrics.RateLimited.Inc()
		a.log.Error().
			Dur("retry_after", limited.RetryAfter).
			Msg("Rate limited by Slack, retrying later")
		return
	}
	a.emitError(err)
}
