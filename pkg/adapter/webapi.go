// Copyright 2024-2026 Aiku AI

package adapter

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// WebAPI is the subset of the Slack Web API the adapter calls.
type WebAPI interface {
	AuthTest(ctx context.Context) (*slack.AuthTestResponse, error)
	UserInfo(ctx context.Context, userID string) (*slack.User, error)
	ConversationInfo(ctx context.Context, channelID string) (*slack.Channel, error)
	// Users lists every workspace member, following pagination.
	Users(ctx context.Context) ([]slack.User, error)
	// OpenDM returns the direct message conversation with a user.
	OpenDM(ctx context.Context, userID string) (string, error)
	// PostMessage posts text, in a thread when threadTS is set, and returns
	// the new message ts.
	PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error)
	SetTopic(ctx context.Context, channelID, topic string) error
}

// SlackWebAPI implements WebAPI with slack-go.
type SlackWebAPI struct {
	client *slack.Client
}

var _ WebAPI = (*SlackWebAPI)(nil)

func NewSlackWebAPI(client *slack.Client) *SlackWebAPI {
	return &SlackWebAPI{client: client}
}

func (s *SlackWebAPI) AuthTest(ctx context.Context) (*slack.AuthTestResponse, error) {
	return s.client.AuthTestContext(ctx)
}

func (s *SlackWebAPI) UserInfo(ctx context.Context, userID string) (*slack.User, error) {
	return s.client.GetUserInfoContext(ctx, userID)
}

func (s *SlackWebAPI) ConversationInfo(ctx context.Context, channelID string) (*slack.Channel, error) {
	return s.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
}

func (s *SlackWebAPI) Users(ctx context.Context) ([]slack.User, error) {
	return s.client.GetUsersContext(ctx)
}

func (s *SlackWebAPI) OpenDM(ctx context.Context, userID string) (string, error) {
	channel, _, _, err := s.client.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users:    []string{userID},
		ReturnIM: true,
	})
	if err != nil {
		return "", err
	}
	if channel == nil || channel.ID == "" {
		return "", fmt.Errorf("conversations.open returned no channel for %s", userID)
	}
	return channel.ID, nil
}

func (s *SlackWebAPI) PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error) {
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionAsUser(true),
		slack.MsgOptionLinkNames(true),
	}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := s.client.PostMessageContext(ctx, channelID, opts...)
	return ts, err
}

func (s *SlackWebAPI) SetTopic(ctx context.Context, channelID, topic string) error {
	_, err := s.client.SetTopicOfConversationContext(ctx, channelID, topic)
	return err
}
