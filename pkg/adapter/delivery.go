// Copyright 2024-2026 Aiku AI

package adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Delivery is one inbound Socket Mode envelope carrying an Events API event.
type Delivery struct {
	EnvelopeID string        `json:"envelope_id"`
	Type       string        `json:"type"`
	Body       *DeliveryBody `json:"body,omitempty"`
	// Event is set when the envelope carries the event directly instead of
	// inside Body.
	Event       *RawEvent `json:"event,omitempty"`
	RetryNum    int       `json:"retry_num"`
	RetryReason string    `json:"retry_reason,omitempty"`
}

// DeliveryBody is the Events API callback wrapped by an envelope.
type DeliveryBody struct {
	Type      string    `json:"type"`
	EventID   string    `json:"event_id"`
	TeamID    string    `json:"team_id"`
	EventTime int64     `json:"event_time"`
	Event     *RawEvent `json:"event"`
}

// RawEvent returns the carried event, or nil.
func (d *Delivery) RawEvent() *RawEvent {
	if d.Event != nil {
		return d.Event
	}
	if d.Body != nil {
		return d.Body.Event
	}
	return nil
}

// DedupKey identifies the delivery across Slack retries. Retries reuse the
// event id but get a fresh envelope id.
func (d *Delivery) DedupKey() string {
	if d.Body != nil && d.Body.EventID != "" {
		return d.Body.EventID
	}
	return d.EnvelopeID
}

var errEmptyPayload = errors.New("envelope has no payload")

// ParseDelivery builds a Delivery from the parts of an events_api envelope.
func ParseDelivery(envelopeID, envelopeType string, payload json.RawMessage, retryNum int, retryReason string) (*Delivery, error) {
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return nil, errEmptyPayload
	}
	var body DeliveryBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope payload: %w", err)
	}
	return &Delivery{
		EnvelopeID:  envelopeID,
		Type:        envelopeType,
		Body:        &body,
		RetryNum:    retryNum,
		RetryReason: retryReason,
	}, nil
}

// FlexibleID decodes either a bare id string or an object with an "id" field.
// Slack sends users and channels both ways depending on the event type.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*f = FlexibleID(obj.ID)
	return nil
}

// EventItem is the target of a reaction.
type EventItem struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
	File    string `json:"file,omitempty"`
}

// Attachment is the part of a legacy message attachment the adapter reads.
type Attachment struct {
	Fallback string `json:"fallback"`
}

// RawEvent is an Events API event decoded leniently. Raw keeps the original
// JSON for fields not modelled here.
type RawEvent struct {
	Type        string       `json:"type"`
	Subtype     string       `json:"subtype,omitempty"`
	User        FlexibleID   `json:"user,omitempty"`
	UserID      string       `json:"user_id,omitempty"`
	Channel     FlexibleID   `json:"channel,omitempty"`
	ChannelID   string       `json:"channel_id,omitempty"`
	ChannelType string       `json:"channel_type,omitempty"`
	Text        string       `json:"text,omitempty"`
	TS          string       `json:"ts,omitempty"`
	ThreadTS    string       `json:"thread_ts,omitempty"`
	EventTS     string       `json:"event_ts,omitempty"`
	BotID       string       `json:"bot_id,omitempty"`
	Topic       string       `json:"topic,omitempty"`
	Reaction    string       `json:"reaction,omitempty"`
	Item        *EventItem   `json:"item,omitempty"`
	ItemUser    FlexibleID   `json:"item_user,omitempty"`
	FileID      string       `json:"file_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (e *RawEvent) UnmarshalJSON(data []byte) error {
	type rawEvent RawEvent
	if err := json.Unmarshal(data, (*rawEvent)(e)); err != nil {
		return err
	}
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// SenderID is the id of the user who caused the event.
func (e *RawEvent) SenderID() string {
	if e.User != "" {
		return string(e.User)
	}
	return e.UserID
}

// RoomID is the conversation the event happened in.
func (e *RawEvent) RoomID() string {
	switch {
	case e.Channel != "":
		return string(e.Channel)
	case e.ChannelID != "":
		return e.ChannelID
	case e.Item != nil:
		return e.Item.Channel
	default:
		return ""
	}
}

// MessageID is the platform id of the event: its ts, or event_ts for events
// without one.
func (e *RawEvent) MessageID() string {
	if e.TS != "" {
		return e.TS
	}
	return e.EventTS
}
