// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/aiku/slack-adapter/pkg/adapter/slackfmt"
)

// entityResolver serves slackfmt lookups from the user and conversation
// caches.
type entityResolver struct {
	users         *Cache[*slack.User]
	conversations *Cache[*slack.Channel]
}

var _ slackfmt.Resolver = (*entityResolver)(nil)

func (r *entityResolver) Resolve(ctx context.Context, typ slackfmt.MentionType, id string) (slackfmt.Entity, bool) {
	switch typ {
	case slackfmt.MentionUser:
		if u, ok := r.users.Get(ctx, id); ok && u != nil {
			return userToEntity(u), true
		}
	case slackfmt.MentionConversation:
		if c, ok := r.conversations.Get(ctx, id); ok && c != nil {
			return conversationToEntity(c), true
		}
	}
	return slackfmt.Entity{}, false
}

func (r *entityResolver) Peek(typ slackfmt.MentionType, id string) (slackfmt.Entity, bool) {
	switch typ {
	case slackfmt.MentionUser:
		if u, ok := r.users.Peek(id); ok && u != nil {
			return userToEntity(u), true
		}
	case slackfmt.MentionConversation:
		if c, ok := r.conversations.Peek(id); ok && c != nil {
			return conversationToEntity(c), true
		}
	}
	return slackfmt.Entity{}, false
}

func userToEntity(u *slack.User) slackfmt.Entity {
	return slackfmt.Entity{ID: u.ID, Name: u.Name, Raw: u}
}

func conversationToEntity(c *slack.Channel) slackfmt.Entity {
	return slackfmt.Entity{ID: c.ID, Name: c.Name, Raw: c}
}

// slackUserToUser converts a Slack user to a message sender. A nil profile
// yields a user that only carries its id.
func slackUserToUser(id string, profile *slack.User, room string) *User {
	user := &User{ID: id, Name: id, Room: room}
	if profile == nil {
		return user
	}
	user.Profile = profile
	if profile.Name != "" {
		user.Name = profile.Name
	}
	user.RealName = profile.RealName
	if user.RealName == "" {
		user.RealName = profile.Profile.RealName
	}
	return user
}

func newUserCache(api WebAPI, opts CacheOptions) *Cache[*slack.User] {
	return NewCache[*slack.User]("users", api.UserInfo, opts)
}

func newConversationCache(api WebAPI, opts CacheOptions) *Cache[*slack.Channel] {
	return NewCache[*slack.Channel]("conversations", api.ConversationInfo, opts)
}
