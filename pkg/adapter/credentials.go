// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// The messages are shown to operators verbatim.
var (
	ErrInvalidBotToken = errors.New("Invalid botToken provided, please follow the upgrade instructions")
	ErrInvalidAppToken = errors.New("Invalid appToken provided, please follow the upgrade instructions")
)

const (
	botTokenPrefix = "xoxb-"
	appTokenPrefix = "xapp-"
)

// ValidateCredentials checks the shape of both tokens. It does not contact
// Slack.
func ValidateCredentials(botToken, appToken string) error {
	if !strings.HasPrefix(botToken, botTokenPrefix) {
		return ErrInvalidBotToken
	}
	if !strings.HasPrefix(appToken, appTokenPrefix) {
		return ErrInvalidAppToken
	}
	return nil
}

// Identity is who the bot token authenticates as.
type Identity struct {
	UserID string
	BotID  string
	Name   string
	TeamID string
}

// verifyIdentity calls auth.test and returns the bot's own ids, which the
// classifier needs for echo prevention.
func verifyIdentity(ctx context.Context, api WebAPI) (*Identity, error) {
	resp, err := api.AuthTest(ctx)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if resp.UserID == "" {
		return nil, errors.New("authentication failed: auth.test returned no user id")
	}
	return &Identity{
		UserID: resp.UserID,
		BotID:  resp.BotID,
		Name:   resp.User,
		TeamID: resp.TeamID,
	}, nil
}
