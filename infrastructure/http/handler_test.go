package http

import (
	"bufio"
	"context"
	"encoding/json"
	"ephemeral-chat/auth"
	"ephemeral-chat/domain"
	"ephemeral-chat/domain/event"
	"ephemeral-chat/errors"
	"ephemeral-chat/mocks"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestServer(t *testing.T) (*mocks.MockIRoomService, *httptest.Server) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockIRoomService(ctrl)
	server := httptest.NewServer(NewRouter(NewHandler(svc, slog.Default(), 20*time.Millisecond), slog.Default()))
	t.Cleanup(server.Close)
	return svc, server
}

func do(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandler_CreateRoom(t *testing.T) {
	req := require.New(t)
	svc, server := newTestServer(t)
	svc.EXPECT().CreateRoom(gomock.Any()).Return(domain.RoomID("r1"), 600, nil)

	resp := do(t, http.MethodPost, server.URL+"/api/rooms", "", "")

	req.Equal(http.StatusCreated, resp.StatusCode)
	req.Equal(RoomResponse{RoomID: "r1", TTL: 600}, decode[RoomResponse](t, resp))
}

func TestHandler_JoinRoom_Sets_Cookie(t *testing.T) {
	req := require.New(t)
	svc, server := newTestServer(t)
	svc.EXPECT().JoinRoom(gomock.Any(), domain.RoomID("r1"), domain.Token("")).Return(domain.Token("t1"), nil)
	svc.EXPECT().RemainingTTL(gomock.Any(), domain.RoomID("r1")).Return(590, nil)

	resp := do(t, http.MethodPost, server.URL+"/api/rooms/r1/join", "", "")

	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(JoinResponse{RoomID: "r1", TTL: 590, Token: "t1"}, decode[JoinResponse](t, resp))
	cookies := resp.Cookies()
	req.Len(cookies, 1)
	req.Equal(auth.CookieName, cookies[0].Name)
	req.Equal("t1", cookies[0].Value)
}

func TestHandler_JoinRoom_Rejoin_Passes_Existing_Token(t *testing.T) {
	req := require.New(t)
	svc, server := newTestServer(t)
	svc.EXPECT().JoinRoom(gomock.Any(), domain.RoomID("r1"), domain.Token("t1")).Return(domain.Token("t1"), nil)
	svc.EXPECT().RemainingTTL(gomock.Any(), domain.RoomID("r1")).Return(10, nil)

	resp := do(t, http.MethodPost, server.URL+"/api/rooms/r1/join", "t1", "")

	req.Equal(http.StatusOK, resp.StatusCode)
}

func TestHandler_Error_Mapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", errors.ErrRoomNotFound, http.StatusNotFound, "room_not_found"},
		{"full", errors.ErrRoomFull, http.StatusConflict, "room_full"},
		{"store down", errors.ErrTransientStore, http.StatusServiceUnavailable, "store_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			svc, server := newTestServer(t)
			svc.EXPECT().JoinRoom(gomock.Any(), domain.RoomID("r1"), gomock.Any()).Return(domain.Token(""), tt.err)

			resp := do(t, http.MethodPost, server.URL+"/api/rooms/r1/join", "", "")

			req.Equal(tt.status, resp.StatusCode)
			req.Equal(tt.code, decode[ErrorResponse](t, resp).Error)
		})
	}
}

func TestHandler_GetRoom_And_TTL(t *testing.T) {
	req := require.New(t)
	svc, server := newTestServer(t)
	created := time.UnixMilli(1_700_000_000_000).UTC()
	svc.EXPECT().RoomInfo(gomock.Any(), domain.RoomID("r1")).Return(domain.RoomInfo{
		ID: "r1", CreatedAt: created, Members: 1, MaxMembers: 2, TTLSeconds: 42,
	}, nil)
	svc.EXPECT().RemainingTTL(gomock.Any(), domain.RoomID("gone")).Return(0, nil)

	info := do(t, http.MethodGet, server.URL+"/api/rooms/r1", "", "")
	req.Equal(http.StatusOK, info.StatusCode)
	req.Equal(RoomInfoResponse{RoomID: "r1", CreatedAt: created.UnixMilli(), Members: 1, MaxMembers: 2, TTL: 42},
		decode[RoomInfoResponse](t, info))

	ttl := do(t, http.MethodGet, server.URL+"/api/rooms/gone/ttl", "", "")
	req.Equal(http.StatusOK, ttl.StatusCode)
	req.Equal(TTLResponse{TTL: 0}, decode[TTLResponse](t, ttl))
}

func TestHandler_PostMessage(t *testing.T) {
	req := require.New(t)
	svc, server := newTestServer(t)
	message := domain.Message{ID: "m1", RoomID: "r1", Sender: "fox", Text: "hi",
		Timestamp: time.UnixMilli(1000).UTC(), AuthorToken: "t1"}
	svc.EXPECT().PostMessage(gomock.Any(), domain.RoomID("r1"), domain.Token("t1"), "fox", "hi").Return(message, nil)

	resp := do(t, http.MethodPost, server.URL+"/api/rooms/r1/messages", "t1", `{"sender":"fox","text":"hi"}`)

	req.Equal(http.StatusCreated, resp.StatusCode)
	req.Equal(event.ToPayload(message), decode[event.MessagePayload](t, resp))
}

func TestHandler_PostMessage_Invalid(t *testing.T) {
	req := require.New(t)
	svc, server := newTestServer(t)
	svc.EXPECT().PostMessage(gomock.Any(), gomock.Any(), gomock.Any(), "", "hi").
		Return(domain.Message{}, errors.ErrValidation)

	badJSON := do(t, http.MethodPost, server.URL+"/api/rooms/r1/messages", "t1", `{`)
	req.Equal(http.StatusBadRequest, badJSON.StatusCode)

	invalid := do(t, http.MethodPost, server.URL+"/api/rooms/r1/messages", "t1", `{"text":"hi"}`)
	req.Equal(http.StatusBadRequest, invalid.StatusCode)
	req.Equal("validation_error", decode[ErrorResponse](t, invalid).Error)
}

func TestHandler_GetMessages(t *testing.T) {
	req := require.New(t)
	svc, server := newTestServer(t)
	svc.EXPECT().FetchMessages(gomock.Any(), domain.RoomID("r1"), domain.Token("t1")).Return([]domain.Message{
		{ID: "m1", RoomID: "r1", Sender: "fox", Text: "mine", AuthorToken: "t1"},
		{ID: "m2", RoomID: "r1", Sender: "owl", Text: "theirs"},
	}, nil)
	svc.EXPECT().FetchMessages(gomock.Any(), domain.RoomID("r1"), domain.Token("")).Return(nil, errors.ErrUnauthorized)

	resp := do(t, http.MethodGet, server.URL+"/api/rooms/r1/messages", "t1", "")
	req.Equal(http.StatusOK, resp.StatusCode)
	body := decode[MessagesResponse](t, resp)
	req.Len(body.Messages, 2)
	req.Equal("t1", body.Messages[0].Token)
	req.Empty(body.Messages[1].Token)

	anonymous := do(t, http.MethodGet, server.URL+"/api/rooms/r1/messages", "", "")
	req.Equal(http.StatusUnauthorized, anonymous.StatusCode)
}

func TestHandler_GetMessages_Empty_Room_Is_An_Array(t *testing.T) {
	req := require.New(t)
	svc, server := newTestServer(t)
	svc.EXPECT().FetchMessages(gomock.Any(), domain.RoomID("r1"), domain.Token("t1")).Return([]domain.Message{}, nil)

	resp := do(t, http.MethodGet, server.URL+"/api/rooms/r1/messages", "t1", "")

	req.Equal(http.StatusOK, resp.StatusCode)
	var raw map[string]json.RawMessage
	req.NoError(json.NewDecoder(resp.Body).Decode(&raw))
	req.JSONEq(`[]`, string(raw["messages"]))
}

func TestHandler_DestroyRoom(t *testing.T) {
	req := require.New(t)
	svc, server := newTestServer(t)
	svc.EXPECT().DestroyRoom(gomock.Any(), domain.RoomID("r1"), domain.Token("t1")).Return(nil)

	resp := do(t, http.MethodDelete, server.URL+"/api/rooms/r1", "t1", "")

	req.Equal(http.StatusNoContent, resp.StatusCode)
}

type fakeFeed struct {
	events chan event.DomainEvent
	closed chan struct{}
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan event.DomainEvent, 4), closed: make(chan struct{})}
}

func (f *fakeFeed) Events() <-chan event.DomainEvent { return f.events }
func (f *fakeFeed) Close()                           { close(f.closed) }

func TestHandler_Events_Stream_Ends_After_Destroy(t *testing.T) {
	req := require.New(t)
	svc, server := newTestServer(t)
	feed := newFakeFeed()
	feed.events <- event.MessagePosted{Message: domain.Message{ID: "m1", RoomID: "r1", Sender: "fox", Text: "hi"}}
	feed.events <- event.RoomDestroyed{Room: "r1"}
	svc.EXPECT().Subscribe(gomock.Any(), domain.RoomID("r1"), domain.Token("t1")).Return(feed, nil)

	resp := do(t, http.MethodGet, server.URL+"/api/rooms/r1/events", "t1", "")
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal("text/event-stream", resp.Header.Get("Content-Type"))

	// Then both events are framed and the server closes the stream
	var names []string
	var data []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
		if payload, ok := strings.CutPrefix(line, "data: "); ok {
			data = append(data, payload)
		}
	}
	req.Equal([]string{"message-posted", "room-destroyed"}, names)
	e, _, err := event.Unmarshal([]byte(data[0]))
	req.NoError(err)
	req.Equal("hi", e.(event.MessagePosted).Message.Text)

	select {
	case <-feed.closed:
	case <-time.After(time.Second):
		req.Fail("feed should be closed once the stream ends")
	}
}

func TestHandler_Events_KeepAlive_And_Client_Disconnect(t *testing.T) {
	req := require.New(t)
	svc, server := newTestServer(t)
	feed := newFakeFeed()
	svc.EXPECT().Subscribe(gomock.Any(), domain.RoomID("r1"), domain.Token("t1")).Return(feed, nil)

	ctx, cancel := context.WithCancel(context.Background())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/rooms/r1/events", nil)
	req.NoError(err)
	httpReq.Header.Set("Authorization", "Bearer t1")
	resp, err := http.DefaultClient.Do(httpReq)
	req.NoError(err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	sawKeepAlive := false
	for i := 0; i < 10 && !sawKeepAlive; i++ {
		line, err := reader.ReadString('\n')
		req.NoError(err)
		sawKeepAlive = strings.HasPrefix(line, ": keepalive")
	}
	req.True(sawKeepAlive)

	cancel()
	select {
	case <-feed.closed:
	case <-time.After(time.Second):
		req.Fail("feed should be closed after the client left")
	}
}

func TestHandler_Events_Unauthorized(t *testing.T) {
	req := require.New(t)
	svc, server := newTestServer(t)
	svc.EXPECT().Subscribe(gomock.Any(), domain.RoomID("r1"), domain.Token("")).Return(nil, errors.ErrUnauthorized)

	resp := do(t, http.MethodGet, server.URL+"/api/rooms/r1/events", "", "")

	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_Health(t *testing.T) {
	req := require.New(t)
	_, server := newTestServer(t)

	resp := do(t, http.MethodGet, server.URL+"/healthz", "", "")

	req.Equal(http.StatusOK, resp.StatusCode)
}
