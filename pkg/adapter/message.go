// Copyright 2024-2026 Aiku AI

package adapter

import (
	"time"

	"github.com/slack-go/slack"

	"github.com/aiku/slack-adapter/pkg/adapter/slackfmt"
)

// User is the sender of a message as seen by listeners.
type User struct {
	ID       string
	Name     string
	RealName string
	// Room is the conversation the user was last seen in.
	Room string
	// Profile is the full Slack user when it could be resolved.
	Profile *slack.User
}

// Base holds the fields every message variant carries.
type Base struct {
	ID        string
	User      *User
	Room      string
	Timestamp time.Time
	ThreadTS  string
	Raw       *RawEvent
}

// Message is one of TextMessage, ReactionMessage, FileSharedMessage,
// EnterMessage, LeaveMessage or TopicMessage.
type Message interface {
	MessageBase() *Base
	sealed()
}

func (b *Base) MessageBase() *Base { return b }
func (*Base) sealed()              {}

// TextMessage is a chat message. Text is normalized for matching, RawText is
// the platform text with entities decoded.
type TextMessage struct {
	Base
	Text     string
	RawText  string
	Mentions []slackfmt.Mention
}

type ReactionType string

const (
	ReactionAdded   ReactionType = "added"
	ReactionRemoved ReactionType = "removed"
)

// ReactionMessage is an emoji reaction added to or removed from an item.
type ReactionMessage struct {
	Base
	Type     ReactionType
	Reaction string
	Item     *EventItem
	// ItemUser is the author of the reacted-to item, when known.
	ItemUser *User
}

type FileSharedMessage struct {
	Base
	FileID string
}

// EnterMessage is sent when a user joins a conversation.
type EnterMessage struct {
	Base
}

// LeaveMessage is sent when a user leaves a conversation.
type LeaveMessage struct {
	Base
}

type TopicMessage struct {
	Base
	Topic string
}

var (
	_ Message = (*TextMessage)(nil)
	_ Message = (*ReactionMessage)(nil)
	_ Message = (*FileSharedMessage)(nil)
	_ Message = (*EnterMessage)(nil)
	_ Message = (*LeaveMessage)(nil)
	_ Message = (*TopicMessage)(nil)
)
