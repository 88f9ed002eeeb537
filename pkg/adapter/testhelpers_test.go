// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

var errNotFound = errors.New("not_found")

type postCall struct {
	Channel  string
	Text     string
	ThreadTS string
}

type topicCall struct {
	Channel string
	Topic   string
}

// mockWebAPI is an in-memory WebAPI that records outbound calls.
type mockWebAPI struct {
	mu sync.Mutex

	auth    *slack.AuthTestResponse
	authErr error

	users         map[string]*slack.User
	conversations map[string]*slack.Channel
	members       []slack.User
	membersErr    error
	dms           map[string]string

	postErr  error
	topicErr error

	posts         []postCall
	topics        []topicCall
	userInfoCalls int
	convInfoCalls int
	openDMCalls   int
}

var _ WebAPI = (*mockWebAPI)(nil)

func newMockWebAPI() *mockWebAPI {
	return &mockWebAPI{
		auth: &slack.AuthTestResponse{UserID: "UBOT", BotID: "BBOT", User: "bot", TeamID: "T1"},
		users: map[string]*slack.User{
			"U123": {ID: "U123", Name: "name", RealName: "Real Name"},
			"U456": {ID: "U456", Name: "other", RealName: "Other Person"},
		},
		conversations: map[string]*slack.Channel{
			"C123": newTestChannel("C123", "general", false),
			"D123": newTestChannel("D123", "", true),
		},
		dms: map[string]string{"U123": "D123"},
	}
}

func newTestChannel(id, name string, im bool) *slack.Channel {
	var ch slack.Channel
	ch.ID = id
	ch.Name = name
	ch.IsIM = im
	return &ch
}

func (m *mockWebAPI) AuthTest(_ context.Context) (*slack.AuthTestResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auth, m.authErr
}

func (m *mockWebAPI) UserInfo(_ context.Context, userID string) (*slack.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userInfoCalls++
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, errNotFound
}

func (m *mockWebAPI) ConversationInfo(_ context.Context, channelID string) (*slack.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convInfoCalls++
	if c, ok := m.conversations[channelID]; ok {
		return c, nil
	}
	return nil, errNotFound
}

func (m *mockWebAPI) Users(_ context.Context) ([]slack.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members, m.membersErr
}

func (m *mockWebAPI) OpenDM(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openDMCalls++
	if id, ok := m.dms[userID]; ok {
		return id, nil
	}
	return "", errNotFound
}

func (m *mockWebAPI) PostMessage(_ context.Context, channelID, text, threadTS string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", m.postErr
	}
	m.posts = append(m.posts, postCall{Channel: channelID, Text: text, ThreadTS: threadTS})
	return "1.000" + string(rune('0'+len(m.posts))), nil
}

func (m *mockWebAPI) SetTopic(_ context.Context, channelID, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.topicErr != nil {
		return m.topicErr
	}
	m.topics = append(m.topics, topicCall{Channel: channelID, Topic: topic})
	return nil
}

func (m *mockWebAPI) Posts() []postCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]postCall(nil), m.posts...)
}

func (m *mockWebAPI) Topics() []topicCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]topicCall(nil), m.topics...)
}

func (m *mockWebAPI) UserInfoCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userInfoCalls
}

func (m *mockWebAPI) OpenDMCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openDMCalls
}

// newTestClassifier builds a classifier over api with the bot identity set.
func newTestClassifier(api WebAPI, alias string) *Classifier {
	opts := CacheOptions{Log: zerolog.Nop(), LookupTimeout: time.Second}
	c := NewClassifier(alias, newUserCache(api, opts), newConversationCache(api, opts), nil, zerolog.Nop())
	c.SetIdentity(Identity{UserID: "UBOT", BotID: "BBOT", Name: "bot", TeamID: "T1"})
	return c
}

// eventDelivery wraps a JSON event in an events_api delivery.
func eventDelivery(eventID string, retry int, eventJSON string) *Delivery {
	payload := `{"type":"event_callback","event_id":"` + eventID + `","team_id":"T1","event":` + eventJSON + `}`
	d, err := ParseDelivery("env-"+eventID, "events_api", json.RawMessage(payload), retry, "")
	if err != nil {
		panic(err)
	}
	return d
}

// endpointCall records which Web API methods were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Form   url.Values
}

// fakeSlack is an httptest.Server simulating the Slack Web API. It records
// calls and serves canned responses.
type fakeSlack struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	Users    map[string]slack.User
	Channels map[string]map[string]any
	DMs      map[string]string
	// RateLimited makes the named methods answer 429 with Retry-After: 7.
	RateLimited map[string]bool
	// SocketURL is handed out by apps.connections.open.
	SocketURL string
}

func newFakeSlack() *fakeSlack {
	f := &fakeSlack{
		Users:       make(map[string]slack.User),
		Channels:    make(map[string]map[string]any),
		DMs:         make(map[string]string),
		RateLimited: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeSlack) Close() {
	f.Server.Close()
}

// Client returns a slack-go client pointed at the fake server.
func (f *fakeSlack) Client() *slack.Client {
	return slack.New("xoxb-test",
		slack.OptionAPIURL(f.Server.URL+"/"),
		slack.OptionAppLevelToken("xapp-test"),
	)
}

func (f *fakeSlack) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]endpointCall(nil), f.calls...)
}

func (f *fakeSlack) CallsTo(method string) []endpointCall {
	var out []endpointCall
	for _, c := range f.Calls() {
		if strings.TrimPrefix(c.Path, "/") == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSlack) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(body))
	for k, v := range r.URL.Query() {
		form[k] = v
	}
	method := strings.TrimPrefix(r.URL.Path, "/")

	f.mu.Lock()
	f.calls = append(f.calls, endpointCall{Method: r.Method, Path: r.URL.Path, Form: form})
	limited := f.RateLimited[method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if limited {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error":"ratelimited"}`))
		return
	}

	reply := func(v map[string]any) {
		v["ok"] = true
		_ = json.NewEncoder(w).Encode(v)
	}
	fail := func(code string) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": code})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch method {
	case "apps.connections.open":
		if f.SocketURL == "" {
			fail("invalid_auth")
			return
		}
		reply(map[string]any{"url": f.SocketURL})
	case "auth.test":
		reply(map[string]any{"user_id": "UBOT", "user": "bot", "team_id": "T1", "bot_id": "BBOT"})
	case "users.info":
		if u, ok := f.Users[form.Get("user")]; ok {
			reply(map[string]any{"user": u})
			return
		}
		fail("user_not_found")
	case "users.list":
		members := make([]slack.User, 0, len(f.Users))
		for _, u := range f.Users {
			members = append(members, u)
		}
		reply(map[string]any{"members": members, "response_metadata": map[string]string{"next_cursor": ""}})
	case "conversations.info":
		if ch, ok := f.Channels[form.Get("channel")]; ok {
			reply(map[string]any{"channel": ch})
			return
		}
		fail("channel_not_found")
	case "conversations.open":
		if id, ok := f.DMs[form.Get("users")]; ok {
			reply(map[string]any{"channel": map[string]any{"id": id, "is_im": true}})
			return
		}
		fail("user_not_found")
	case "chat.postMessage":
		reply(map[string]any{"channel": form.Get("channel"), "ts": "1700000000.000100"})
	case "conversations.setTopic":
		reply(map[string]any{"channel": map[string]any{"id": form.Get("channel")}})
	default:
		fail("unknown_method")
	}
}
