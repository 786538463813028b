package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mahaj/dupahar-sync/pkg/auth"
	"github.com/mahaj/dupahar-sync/pkg/backend"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/profile"
	"github.com/mahaj/dupahar-sync/pkg/realtime"
	"github.com/mahaj/dupahar-sync/pkg/snowflake"
	"github.com/mahaj/dupahar-sync/pkg/store"
	"github.com/mahaj/dupahar-sync/pkg/store/badgerstore"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server *httptest.Server
	store  *badgerstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	s, err := badgerstore.Open("", log, node)
	require.NoError(t, err)
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	router := NewRouter(issuer, &backend.Backends{Log: s, Docs: s, Profiles: profile.NewDocLookup(s)}, log)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		_ = s.Close()
	})
	return &fixture{server: server, store: s}
}

func (f *fixture) login(t *testing.T, uid string) string {
	t.Helper()
	resp, err := http.Post(f.server.URL+"/login", "application/json", strings.NewReader(`{"user_id":"`+uid+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Token
}

func (f *fixture) get(t *testing.T, token, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestLogin_RejectsMalformedUserIDs(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	for _, body := range []string{`{}`, `{"user_id":""}`, `{"user_id":"a_b"}`, `not json`} {
		resp, err := http.Post(f.server.URL+"/login", "application/json", strings.NewReader(body))
		req.NoError(err)
		_ = resp.Body.Close()
		req.Equal(http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestHistory_ReturnsRangeForParticipantsOnly(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	messages := realtime.NewMessages(f.store)
	for _, ts := range []int64{100, 200, 300, 400} {
		_, err := messages.Append(ctx, "A1_A2", model.Message{SenderID: "A1", Text: "m", CreatedAt: ts})
		req.NoError(err)
	}
	token := f.login(t, "A1")

	var all []model.Message
	req.Equal(http.StatusOK, f.get(t, token, "/history?conversation_id=A1_A2", &all))
	req.Len(all, 4)

	var window []model.Message
	req.Equal(http.StatusOK, f.get(t, token, "/history?conversation_id=A1_A2&from=200&to=300", &window))
	req.Len(window, 2)
	req.Equal(int64(200), window[0].CreatedAt)
	req.Equal(int64(300), window[1].CreatedAt)

	var latest []model.Message
	req.Equal(http.StatusOK, f.get(t, token, "/history?conversation_id=A1_A2&limit=1", &latest))
	req.Len(latest, 1)
	req.Equal(int64(400), latest[0].CreatedAt)

	req.Equal(http.StatusForbidden, f.get(t, f.login(t, "A3"), "/history?conversation_id=A1_A2", nil))
	req.Equal(http.StatusBadRequest, f.get(t, token, "/history?conversation_id=A1", nil))
	req.Equal(http.StatusBadRequest, f.get(t, token, "/history?conversation_id=A1_A2&from=x", nil))
	req.Equal(http.StatusUnauthorized, f.get(t, "", "/history?conversation_id=A1_A2", nil))
}

func TestConversations_SortedWithProfileNames(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	req.NoError(f.store.BatchWrite(ctx, []store.Write{
		{Path: store.UserChatPath("A1", "A2"), Fields: store.Fields{"chatId": "A1_A2", "updatedAt": 100}},
		{Path: store.UserChatPath("A1", "A3"), Fields: store.Fields{"chatId": "A1_A3", "updatedAt": 200}},
		{Path: store.UserPath("A2"), Fields: store.Fields{"displayName": "Bob"}},
	}))

	var items []model.ConversationItem
	req.Equal(http.StatusOK, f.get(t, f.login(t, "A1"), "/conversations", &items))
	req.Len(items, 2)
	req.Equal("A1_A3", items[0].ChatID)
	req.Equal("@A3", items[0].Name)
	req.Equal("A1_A2", items[1].ChatID)
	req.Equal("Bob", items[1].Name)
}

func TestPresence_DefaultsToOffline(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	token := f.login(t, "A1")

	var unknown model.Presence
	req.Equal(http.StatusOK, f.get(t, token, "/presence?user_id=A2", &unknown))
	req.Equal(model.Offline, unknown.State)

	var hooks store.DisconnectQueue
	req.NoError(realtime.NewPresence(f.store).Connect(context.Background(), "A2", &hooks))
	var online model.Presence
	req.Equal(http.StatusOK, f.get(t, token, "/presence?user_id=A2", &online))
	req.Equal(model.Online, online.State)
	req.Positive(online.LastChanged)

	req.Equal(http.StatusBadRequest, f.get(t, token, "/presence", nil))
}

func TestProfile_NotFound(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	token := f.login(t, "A1")
	req.NoError(f.store.Write(context.Background(), store.Write{Path: store.UserPath("A2"), Fields: store.Fields{"username": "bob"}}))

	var p model.Profile
	req.Equal(http.StatusOK, f.get(t, token, "/profile?user_id=A2", &p))
	req.Equal("bob", p.Username)
	req.Equal("A2", p.UID)
	req.Equal(http.StatusNotFound, f.get(t, token, "/profile?user_id=A9", nil))
}
