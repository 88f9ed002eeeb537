// Copyright 2024-2026 Aiku AI

package adapter

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/aiku/slack-adapter/pkg/adapter/slackfmt"
)

func classifyJSON(t *testing.T, c *Classifier, eventJSON string) Message {
	t.Helper()
	msg, err := c.Classify(context.Background(), eventDelivery("Ev1", 0, eventJSON))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	return msg
}

func TestClassifyTextMessage(t *testing.T) {
	t.Parallel()
	c := newTestClassifier(newMockWebAPI(), "")
	msg := classifyJSON(t, c, `{"type":"message","user":"U123","channel":"C123","text":"foo &amp; <#C123>","ts":"1360782804.083113","thread_ts":"1360782400.498405"}`)

	text, ok := msg.(*TextMessage)
	if !ok {
		t.Fatalf("expected *TextMessage, got %T", msg)
	}
	if text.Text != "foo & #general" {
		t.Errorf("Text: got %q", text.Text)
	}
	if text.RawText != "foo & <#C123>" {
		t.Errorf("RawText: got %q", text.RawText)
	}
	if text.ID != "1360782804.083113" || text.ThreadTS != "1360782400.498405" {
		t.Errorf("ids: %q %q", text.ID, text.ThreadTS)
	}
	if text.Room != "C123" || text.User.ID != "U123" || text.User.Name != "name" || text.User.Room != "C123" {
		t.Errorf("sender/room: %+v room=%q", text.User, text.Room)
	}
	if text.Timestamp.Unix() != 1360782804 {
		t.Errorf("Timestamp: %v", text.Timestamp)
	}
	// The room was looked up before the text, so the mention carries info.
	if len(text.Mentions) != 1 || text.Mentions[0].Type != slackfmt.MentionConversation || text.Mentions[0].Info == nil {
		t.Errorf("Mentions: %+v", text.Mentions)
	}
}

func TestClassifyTextSubtypes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		subtype string
		kept    bool
	}{
		{"bot_message", true},
		{"thread_broadcast", true},
		{"file_share", true},
		{"me_message", true},
		{"message_changed", false},
		{"message_deleted", false},
		{"channel_join", false},
		{"channel_leave", false},
	}
	for _, tt := range tests {
		t.Run(tt.subtype, func(t *testing.T) {
			t.Parallel()
			c := newTestClassifier(newMockWebAPI(), "")
			msg := classifyJSON(t, c, `{"type":"message","subtype":"`+tt.subtype+`","user":"U123","channel":"C123","text":"hi","ts":"1.1"}`)
			if tt.kept && msg == nil {
				t.Error("expected a message")
			}
			if !tt.kept && msg != nil {
				t.Errorf("expected drop, got %T", msg)
			}
		})
	}
}

func TestClassifyAttachments(t *testing.T) {
	t.Parallel()
	c := newTestClassifier(newMockWebAPI(), "")
	msg := classifyJSON(t, c, `{"type":"message","user":"U123","channel":"C123","text":"","ts":"1.1","attachments":[{"fallback":"first"}]}`)
	if text := msg.(*TextMessage); text.Text != "\nfirst" {
		t.Errorf("Text: got %q", text.Text)
	}
	msg = classifyJSON(t, c, `{"type":"message","user":"U123","channel":"C123","text":"foo","ts":"1.1","attachments":[{"fallback":"first"},{"fallback":"second"}]}`)
	if text := msg.(*TextMessage); text.Text != "foo\nfirst\nsecond" {
		t.Errorf("Text: got %q", text.Text)
	}
}

func TestClassifyEchoPrevention(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		json string
	}{
		{"own user message", `{"type":"message","user":"UBOT","channel":"C123","text":"hi","ts":"1.1"}`},
		{"own bot message", `{"type":"message","subtype":"bot_message","user":"U999","bot_id":"BBOT","channel":"C123","text":"hi","ts":"1.1"}`},
		{"own reaction", `{"type":"reaction_added","user":"UBOT","reaction":"thumbsup","item":{"type":"message","channel":"C123","ts":"1.1"}}`},
		{"own join", `{"type":"member_joined_channel","user":"UBOT","channel":"C123"}`},
		{"own file", `{"type":"file_shared","user_id":"UBOT","channel_id":"C123","file_id":"F1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClassifier(newMockWebAPI(), "")
			if msg := classifyJSON(t, c, tt.json); msg != nil {
				t.Errorf("expected drop, got %T", msg)
			}
		})
	}
}

func TestClassifyEchoPreventionLogs(t *testing.T) {
	t.Parallel()
	var buf syncBuffer
	api := newMockWebAPI()
	opts := CacheOptions{Log: zerolog.Nop()}
	c := NewClassifier("", newUserCache(api, opts), newConversationCache(api, opts), nil, zerolog.New(&buf))
	c.SetIdentity(Identity{UserID: "UBOT", Name: "bot"})

	classifyJSON(t, c, `{"type":"message","user":"UBOT","channel":"C123","text":"hi","ts":"1.1"}`)
	if !strings.Contains(buf.String(), "echo prevention") {
		t.Errorf("expected echo prevention log, got:\n%s", buf.String())
	}
}

func TestClassifyDropsEmptySender(t *testing.T) {
	t.Parallel()
	c := newTestClassifier(newMockWebAPI(), "")
	for _, js := range []string{
		`{"type":"message","channel":"C123","text":"hi","ts":"1.1"}`,
		`{"type":"reaction_added","reaction":"x","item":{"type":"message","channel":"C123","ts":"1.1"}}`,
		`{"type":"member_joined_channel","channel":"C123"}`,
	} {
		if msg := classifyJSON(t, c, js); msg != nil {
			t.Errorf("%s: expected drop, got %T", js, msg)
		}
	}
}

func TestClassifyDropsUnknownEvents(t *testing.T) {
	t.Parallel()
	c := newTestClassifier(newMockWebAPI(), "")
	for _, js := range []string{
		`{"type":"app_mention","user":"U123","channel":"C123","text":"hi"}`,
		`{"type":"user_change","user":{"id":"U123"}}`,
		`{"type":"presence_change","user":"U123"}`,
	} {
		if msg := classifyJSON(t, c, js); msg != nil {
			t.Errorf("%s: expected drop, got %T", js, msg)
		}
	}
	msg, err := c.Classify(context.Background(), &Delivery{EnvelopeID: "env"})
	if msg != nil || err != nil {
		t.Errorf("delivery without event: %v %v", msg, err)
	}
}

func TestClassifyReactions(t *testing.T) {
	t.Parallel()
	c := newTestClassifier(newMockWebAPI(), "")
	msg := classifyJSON(t, c, `{"type":"reaction_added","user":"U123","reaction":"thumbsup","item_user":"U456","item":{"type":"message","channel":"C123","ts":"1360782804.083113"},"event_ts":"1360782804.083114"}`)
	r, ok := msg.(*ReactionMessage)
	if !ok {
		t.Fatalf("expected *ReactionMessage, got %T", msg)
	}
	if r.Type != ReactionAdded || r.Reaction != "thumbsup" {
		t.Errorf("reaction: %q %q", r.Type, r.Reaction)
	}
	if r.Room != "C123" || r.Item == nil || r.Item.TS != "1360782804.083113" {
		t.Errorf("item: room=%q item=%+v", r.Room, r.Item)
	}
	if r.ItemUser == nil || r.ItemUser.Name != "other" {
		t.Errorf("ItemUser: %+v", r.ItemUser)
	}
	if r.ID != "1360782804.083114" {
		t.Errorf("ID: %q", r.ID)
	}

	msg = classifyJSON(t, c, `{"type":"reaction_added","user":"U123","reaction":"tada","item_user":{"id":"U456","name":"other"},"item":{"type":"message","channel":"C123","ts":"1.1"},"event_ts":"1.2"}`)
	if r, ok := msg.(*ReactionMessage); !ok || r.ItemUser == nil || r.ItemUser.ID != "U456" {
		t.Errorf("object item_user: %+v", msg)
	}

	msg = classifyJSON(t, c, `{"type":"reaction_removed","user":"U123","reaction":"thumbsup","item":{"type":"message","channel":"C123","ts":"1.1"}}`)
	if r := msg.(*ReactionMessage); r.Type != ReactionRemoved || r.ItemUser != nil {
		t.Errorf("removed: %+v", r)
	}
}

func TestClassifyMembershipTopicAndFiles(t *testing.T) {
	t.Parallel()
	c := newTestClassifier(newMockWebAPI(), "")

	if _, ok := classifyJSON(t, c, `{"type":"member_joined_channel","user":"U123","channel":"C123"}`).(*EnterMessage); !ok {
		t.Error("member_joined_channel should be an EnterMessage")
	}
	if _, ok := classifyJSON(t, c, `{"type":"member_left_channel","user":"U123","channel":"C123"}`).(*LeaveMessage); !ok {
		t.Error("member_left_channel should be a LeaveMessage")
	}

	topic, ok := classifyJSON(t, c, `{"type":"message","subtype":"channel_topic","user":"U123","channel":"C123","topic":"new topic","text":"set the topic","ts":"1.1"}`).(*TopicMessage)
	if !ok || topic.Topic != "new topic" {
		t.Errorf("topic: %+v", topic)
	}

	file, ok := classifyJSON(t, c, `{"type":"file_shared","user_id":"U123","channel_id":"C123","file_id":"F1","event_ts":"1.2"}`).(*FileSharedMessage)
	if !ok || file.FileID != "F1" || file.Room != "C123" {
		t.Errorf("file: %+v", file)
	}
}

func TestClassifyReplacesLeadingSelfMention(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		alias string
		text  string
		want  string
	}{
		{"alias", "!", "<@UBOT> foo", "! foo"},
		{"name", "", "<@UBOT> foo", "@bot foo"},
		{"not leading", "", "foo <@UBOT>", "foo @bot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := newMockWebAPI()
			api.users["UBOT"] = &slack.User{ID: "UBOT", Name: "bot"}
			c := newTestClassifier(api, tt.alias)
			msg := classifyJSON(t, c, `{"type":"message","user":"U123","channel":"C123","text":"`+tt.text+`","ts":"1.1"}`)
			if got := msg.(*TextMessage).Text; got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyDirectMessagePrepend(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		alias string
		json  string
		want  string
	}{
		{
			"im by conversation info",
			"",
			`{"type":"message","user":"U123","channel":"D123","text":"foo","ts":"1.1"}`,
			"@bot foo",
		},
		{
			"im by channel type",
			"",
			`{"type":"message","user":"U123","channel":"D777","channel_type":"im","text":"foo","ts":"1.1"}`,
			"@bot foo",
		},
		{
			"alias",
			"!",
			`{"type":"message","user":"U123","channel":"D123","text":"foo","ts":"1.1"}`,
			"! foo",
		},
		{
			"already addressed by name",
			"",
			`{"type":"message","user":"U123","channel":"D123","text":"bot foo","ts":"1.1"}`,
			"bot foo",
		},
		{
			"already addressed by @name",
			"",
			`{"type":"message","user":"U123","channel":"D123","text":"hey @bot foo","ts":"1.1"}`,
			"hey @bot foo",
		},
		{
			"already addressed by alias",
			"!",
			`{"type":"message","user":"U123","channel":"D123","text":"!foo","ts":"1.1"}`,
			"!foo",
		},
		{
			"leading mention",
			"",
			`{"type":"message","user":"U123","channel":"D123","text":"<@UBOT> foo","ts":"1.1"}`,
			"@bot foo",
		},
		{
			"name as part of a longer word",
			"",
			`{"type":"message","user":"U123","channel":"D123","text":"botany facts","ts":"1.1"}`,
			"@bot botany facts",
		},
		{
			"@name as part of a longer handle",
			"",
			`{"type":"message","user":"U123","channel":"D123","text":"ask @bot-helper later","ts":"1.1"}`,
			"@bot ask @bot-helper later",
		},
		{
			"already addressed with a colon",
			"",
			`{"type":"message","user":"U123","channel":"D123","text":"Bot: foo","ts":"1.1"}`,
			"Bot: foo",
		},
		{
			"not a dm",
			"",
			`{"type":"message","user":"U123","channel":"C123","text":"foo","ts":"1.1"}`,
			"foo",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClassifier(newMockWebAPI(), tt.alias)
			msg := classifyJSON(t, c, tt.json)
			if got := msg.(*TextMessage).Text; got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyUnknownSenderFallsBackToID(t *testing.T) {
	t.Parallel()
	c := newTestClassifier(newMockWebAPI(), "")
	msg := classifyJSON(t, c, `{"type":"message","user":"U555","channel":"C123","text":"hi <@U555>","ts":"1.1"}`)
	text := msg.(*TextMessage)
	if text.User.ID != "U555" || text.User.Name != "U555" || text.User.Profile != nil {
		t.Errorf("User: %+v", text.User)
	}
	if text.Text != "hi <@U555>" {
		t.Errorf("unresolvable mention should stay as is, got %q", text.Text)
	}
}

func TestClassifyLooksUpRoomOnEveryMessage(t *testing.T) {
	t.Parallel()
	api := newMockWebAPI()
	c := newTestClassifier(api, "")
	classifyJSON(t, c, `{"type":"message","user":"U123","channel":"C123","text":"hi","ts":"1.1"}`)
	if _, ok := c.conversations.Peek("C123"); !ok {
		t.Error("room should be cached after classification")
	}
}

func TestClassifyRecoversPanics(t *testing.T) {
	t.Parallel()
	api := newMockWebAPI()
	opts := CacheOptions{Log: zerolog.Nop()}
	// Without a user cache every sender lookup dereferences nil.
	c := NewClassifier("", nil, newConversationCache(api, opts), nil, zerolog.Nop())
	c.SetIdentity(Identity{UserID: "UBOT"})

	msg, err := c.Classify(context.Background(), eventDelivery("Ev1", 0, `{"type":"message","user":"U123","channel":"C123","text":"hi","ts":"1.1"}`))
	if msg != nil {
		t.Errorf("expected no message, got %T", msg)
	}
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Errorf("expected panic error, got %v", err)
	}
}
