// Copyright 2024-2026 Aiku AI

package adapter

import (
	"strconv"
	"strings"
	"time"
)

// IsDirectMessageID reports whether a conversation id is a direct message.
func IsDirectMessageID(id string) bool {
	return strings.HasPrefix(id, "D")
}

// IsUserID reports whether id names a user rather than a conversation.
// Enterprise Grid user ids start with W.
func IsUserID(id string) bool {
	return strings.HasPrefix(id, "U") || strings.HasPrefix(id, "W")
}

// MentionToken renders the markup Slack uses to mention a user.
func MentionToken(userID string) string {
	return "<@" + userID + ">"
}

// ParseTimestamp converts a Slack message ts ("1360782804.083113") to a time.
// Invalid values yield the zero time.
func ParseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	secStr, fracStr, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if fracStr != "" {
		if len(fracStr) > 9 {
			fracStr = fracStr[:9]
		}
		frac, err := strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return time.Time{}
		}
		for i := len(fracStr); i < 9; i++ {
			frac *= 10
		}
		nsec = frac
	}
	return time.Unix(sec, nsec)
}
