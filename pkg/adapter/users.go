// Copyright 2024-2026 Aiku AI

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/slack-go/slack"

	"github.com/aiku/slack-adapter/pkg/brain"
)

const scheduleRetryDelay = 30 * time.Second

// SyncUsers loads every workspace member into the brain and the user cache.
// A failed or empty listing leaves the brain untouched.
func (a *Adapter) SyncUsers(ctx context.Context) (int, error) {
	members, err := a.api.Users(ctx)
	if err != nil {
		a.handleAPIError(err)
		return 0, fmt.Errorf("failed to list users: %w", err)
	}
	if members == nil {
		a.log.Debug().Msg("users.list returned no members, keeping brain as is")
		return 0, nil
	}

	synced := 0
	for i := range members {
		if err := a.storeUser(ctx, &members[i]); err != nil {
			return synced, err
		}
		synced++
	}

	a.metrics.UsersSynced.Add(float64(synced))
	a.syncMu.Lock()
	a.lastSync = time.Now()
	a.syncMu.Unlock()
	a.log.Info().Int("count", synced).Msg("Synced users into brain")
	return synced, nil
}

func (a *Adapter) storeUser(ctx context.Context, u *slack.User) error {
	if u.ID == "" {
		return nil
	}
	a.users.Set(u.ID, u)
	if _, err := a.brain.Upsert(ctx, brainUser(u)); err != nil {
		return fmt.Errorf("failed to store user %s: %w", u.ID, err)
	}
	return nil
}

// brainUser converts a Slack user to the brain's record, keeping the full
// Slack object under Slack.
func brainUser(u *slack.User) *brain.User {
	user := &brain.User{
		ID:           u.ID,
		Name:         u.Name,
		RealName:     u.RealName,
		EmailAddress: u.Profile.Email,
	}
	if raw, err := json.Marshal(u); err == nil {
		var fields map[string]any
		if json.Unmarshal(raw, &fields) == nil {
			user.Slack = fields
		}
	}
	return user
}

// WatchUserSync resyncs users on the cron schedule until ctx is done.
func (a *Adapter) WatchUserSync(ctx context.Context, schedule string) {
	if schedule == "" {
		return
	}
	a.log.Info().Str("schedule", schedule).Msg("Starting user sync loop")

	for {
		next, err := gronx.NextTickAfter(schedule, time.Now(), false)
		wait := time.Until(next)
		if err != nil {
			a.log.Error().Err(err).Str("schedule", schedule).Msg("Failed to compute next user sync")
			wait = scheduleRetryDelay
		}

		timer := time.NewTimer(max(wait, 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.log.Info().Msg("User sync loop stopped")
			return
		case <-timer.C:
		}
		if err != nil {
			continue
		}
		if _, err := a.SyncUsers(ctx); err != nil && ctx.Err() == nil {
			a.log.Error().Err(err).Msg("Scheduled user sync failed")
		}
	}
}

// handleUserEvent keeps the brain and cache current when a profile changes
// or someone joins the workspace.
func (a *Adapter) handleUserEvent(ctx context.Context, evt *RawEvent) {
	if evt == nil || (evt.Type != "user_change" && evt.Type != "team_join") {
		return
	}
	var payload struct {
		User slack.User `json:"user"`
	}
	if err := json.Unmarshal(evt.Raw, &payload); err != nil || payload.User.ID == "" {
		a.log.Trace().Err(err).Str("event_type", evt.Type).Msg("Ignoring user event without a user")
		return
	}
	if err := a.storeUser(ctx, &payload.User); err != nil {
		a.emitError(err)
		return
	}
	a.log.Debug().Str("user_id", payload.User.ID).Str("event_type", evt.Type).Msg("Updated user from event")
}
