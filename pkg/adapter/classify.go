// Copyright 2024-2026 Aiku AI

package adapter

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/aiku/slack-adapter/pkg/adapter/slackfmt"
)

// textSubtypes are the message subtypes delivered as TextMessage. Every other
// subtype (edits, deletions, joins, ...) is dropped.
var textSubtypes = map[string]struct{}{
	"":                 {},
	"bot_message":      {},
	"thread_broadcast": {},
	"file_share":       {},
	"me_message":       {},
}

// Classifier turns raw events into messages. Classify is safe for concurrent
// use.
type Classifier struct {
	alias         string
	self          atomic.Pointer[Identity]
	users         *Cache[*slack.User]
	conversations *Cache[*slack.Channel]
	resolver      *entityResolver
	metrics       *Metrics
	log           zerolog.Logger
}

func NewClassifier(alias string, users *Cache[*slack.User], conversations *Cache[*slack.Channel], metrics *Metrics, log zerolog.Logger) *Classifier {
	return &Classifier{
		alias:         alias,
		users:         users,
		conversations: conversations,
		resolver:      &entityResolver{users: users, conversations: conversations},
		metrics:       metrics,
		log:           log.With().Str("component", "classifier").Logger(),
	}
}

// SetIdentity sets the bot's own ids used for echo prevention and mention
// rewriting.
func (c *Classifier) SetIdentity(id Identity) {
	c.self.Store(&id)
}

func (c *Classifier) identity() Identity {
	if id := c.self.Load(); id != nil {
		return *id
	}
	return Identity{}
}

// Classify maps a delivery onto a message variant. It returns (nil, nil) when
// the event should be dropped silently and never lets a panic escape.
func (c *Classifier) Classify(ctx context.Context, d *Delivery) (msg Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().
				Str("envelope_id", d.EnvelopeID).
				Str("stack", string(debug.Stack())).
				Msgf("Panic while classifying event: %v", r)
			msg, err = nil, fmt.Errorf("panic while classifying event: %v", r)
		}
	}()

	evt := d.RawEvent()
	if evt == nil {
		c.drop("no_event", d, nil)
		return nil, nil
	}

	switch evt.Type {
	case "message":
		if evt.Subtype == "channel_topic" {
			break
		}
		if _, ok := textSubtypes[evt.Subtype]; !ok {
			c.drop("subtype", d, evt)
			return nil, nil
		}
	case "member_joined_channel", "member_left_channel",
		"reaction_added", "reaction_removed", "file_shared":
	default:
		c.drop("event_type", d, evt)
		return nil, nil
	}

	sender := evt.SenderID()
	if sender == "" {
		c.drop("no_sender", d, evt)
		return nil, nil
	}
	if c.isSelf(sender, evt.BotID) {
		c.log.Debug().
			Str("event_type", evt.Type).
			Str("user_id", sender).
			Str("channel_id", evt.RoomID()).
			Msg("Skipping own event (echo prevention)")
		c.drop("self", d, nil)
		return nil, nil
	}

	room := evt.RoomID()
	base := c.newBase(ctx, evt, sender, room)

	switch evt.Type {
	case "message":
		if evt.Subtype == "channel_topic" {
			return &TopicMessage{Base: base, Topic: evt.Topic}, nil
		}
		return c.textMessage(ctx, base, evt, room), nil
	case "member_joined_channel":
		return &EnterMessage{Base: base}, nil
	case "member_left_channel":
		return &LeaveMessage{Base: base}, nil
	case "reaction_added", "reaction_removed":
		return c.reactionMessage(ctx, base, evt), nil
	case "file_shared":
		return &FileSharedMessage{Base: base, FileID: evt.FileID}, nil
	}
	return nil, nil
}

func (c *Classifier) newBase(ctx context.Context, evt *RawEvent, sender, room string) Base {
	profile, _ := c.users.Get(ctx, sender)
	if room != "" {
		// Warms the conversation cache so DM detection and #mentions of the
		// room do not need another round trip.
		c.conversations.Get(ctx, room)
	}
	return Base{
		ID:        evt.MessageID(),
		User:      slackUserToUser(sender, profile, room),
		Room:      room,
		Timestamp: ParseTimestamp(evt.MessageID()),
		ThreadTS:  evt.ThreadTS,
		Raw:       evt,
	}
}

func (c *Classifier) textMessage(ctx context.Context, base Base, evt *RawEvent, room string) *TextMessage {
	self := c.identity()
	text := replaceLeadingSelfMention(messageText(evt), self.UserID, c.handle())
	parsed := slackfmt.Parse(ctx, text, c.resolver)

	normalized := parsed.Text
	if c.isDirect(evt, room) && !c.addressesBot(evt.Text, normalized) {
		if handle := c.handle(); handle != "" {
			normalized = handle + " " + normalized
		}
	}
	return &TextMessage{
		Base:     base,
		Text:     normalized,
		RawText:  slackfmt.DecodeEntities(evt.Text),
		Mentions: parsed.Mentions,
	}
}

func (c *Classifier) reactionMessage(ctx context.Context, base Base, evt *RawEvent) *ReactionMessage {
	msg := &ReactionMessage{
		Base:     base,
		Type:     ReactionAdded,
		Reaction: evt.Reaction,
		Item:     evt.Item,
	}
	if evt.Type == "reaction_removed" {
		msg.Type = ReactionRemoved
	}
	if itemUser := string(evt.ItemUser); itemUser != "" {
		profile, _ := c.users.Get(ctx, itemUser)
		msg.ItemUser = slackUserToUser(itemUser, profile, base.Room)
	}
	return msg
}

func (c *Classifier) isSelf(sender, botID string) bool {
	self := c.identity()
	if self.UserID != "" && sender == self.UserID {
		return true
	}
	return self.BotID != "" && botID == self.BotID
}

// isDirect prefers what Slack said about the conversation and falls back to
// the event's channel type and the id prefix.
func (c *Classifier) isDirect(evt *RawEvent, room string) bool {
	if conv, ok := c.conversations.Peek(room); ok && conv != nil {
		return conv.IsIM
	}
	return evt.ChannelType == "im" || IsDirectMessageID(room)
}

// handle is how the bot is addressed in normalized text: the alias when set,
// otherwise @name.
func (c *Classifier) handle() string {
	if c.alias != "" {
		return c.alias
	}
	if name := c.identity().Name; name != "" {
		return "@" + name
	}
	return ""
}

// addressesBot reports whether a message already names the bot: a <@SELF>
// reference anywhere, a leading alias or name, or @name as a whole word.
func (c *Classifier) addressesBot(original, normalized string) bool {
	self := c.identity()
	if self.UserID != "" &&
		(strings.Contains(original, "<@"+self.UserID+">") || strings.Contains(original, "<@"+self.UserID+"|")) {
		return true
	}
	if _, ok := stripAddress(normalized, c.alias, self.Name); ok {
		return true
	}
	return mentionsName(normalized, self.Name)
}

func (c *Classifier) drop(reason string, d *Delivery, evt *RawEvent) {
	if c.metrics != nil {
		c.metrics.EventsDropped.WithLabelValues(reason).Inc()
	}
	if evt == nil || reason == "self" {
		return
	}
	c.log.Trace().
		Str("reason", reason).
		Str("envelope_id", d.EnvelopeID).
		Str("event_type", evt.Type).
		Str("subtype", evt.Subtype).
		Msg("Dropping event")
}
