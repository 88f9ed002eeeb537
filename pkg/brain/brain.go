// Copyright 2024-2026 Aiku AI

// Package brain stores the users a bot knows about. The adapter only ever
// upserts into it; reading is left to bot scripts.
package brain

import (
	"context"
	"maps"
)

// User is a chat user as remembered by the bot.
type User struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	RealName     string         `json:"real_name"`
	EmailAddress string         `json:"email_address,omitempty"`
	Room         string         `json:"room,omitempty"`
	Slack        map[string]any `json:"slack,omitempty"`
	// Fields holds data other scripts attached to the user. Upserts never
	// clear it.
	Fields map[string]any `json:"fields,omitempty"`
}

// Store is a user store keyed by user id.
type Store interface {
	// Get returns nil without error when the user is unknown.
	Get(ctx context.Context, id string) (*User, error)
	// Upsert merges update into the stored user and returns the result.
	Upsert(ctx context.Context, update *User) (*User, error)
	All(ctx context.Context) ([]*User, error)
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Slack = maps.Clone(u.Slack)
	c.Fields = maps.Clone(u.Fields)
	return &c
}

// merge applies update on top of existing. Identity fields always come from
// the update; room and extra fields only when set.
func merge(existing, update *User) *User {
	if existing == nil {
		return update.clone()
	}
	out := existing.clone()
	out.ID = update.ID
	out.Name = update.Name
	out.RealName = update.RealName
	out.EmailAddress = update.EmailAddress
	if update.Slack != nil {
		out.Slack = maps.Clone(update.Slack)
	}
	if update.Room != "" {
		out.Room = update.Room
	}
	if len(update.Fields) > 0 {
		if out.Fields == nil {
			out.Fields = make(map[string]any, len(update.Fields))
		}
		maps.Copy(out.Fields, update.Fields)
	}
	return out
}
