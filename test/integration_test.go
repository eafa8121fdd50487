package test

import (
	"context"
	"encoding/json"
	"ephemeral-chat/auth"
	"ephemeral-chat/domain"
	"ephemeral-chat/domain/event"
	"ephemeral-chat/errors"
	httpx "ephemeral-chat/infrastructure/http"
	"ephemeral-chat/infrastructure/storage"
	"ephemeral-chat/repositories"
	"ephemeral-chat/runtime"
	"ephemeral-chat/runtime/workers"
	"ephemeral-chat/services"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const maxMembers = 2

type stack struct {
	orchestrator *runtime.Orchestrator
	rooms        *repositories.RoomRepository
	messages     *repositories.MessageRepository
}

func newStack(t *testing.T, roomTTL time.Duration) stack {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store := storage.NewBadgerStore(db, log)
	rooms := repositories.NewRoomRepository(store, log, roomTTL)
	messages := repositories.NewMessageRepository(store, log)
	issuer := auth.NewTokenIssuer(rooms, auth.NewTokenCodec([]byte("integration-secret-0123")), log, maxMembers)
	orchestrator := runtime.NewOrchestrator(
		log, workers.NewSupervisor(log, 100*time.Millisecond), runtime.NewRegistry(log),
		rooms, messages, issuer,
		domain.MessageLimits{MaxSenderLength: 100, MaxTextLength: 1000},
		maxMembers, 16,
	)
	return stack{orchestrator: orchestrator, rooms: rooms, messages: messages}
}

func nextEvent(t *testing.T, events <-chan event.DomainEvent) event.DomainEvent {
	t.Helper()
	select {
	case e, ok := <-events:
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func Test_Scenario_Admission_Chat_Destroy(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	s := newStack(t, 10*time.Minute)
	o := s.orchestrator

	// Given a new room
	roomID, ttl, err := o.CreateRoom(ctx)
	req.NoError(err)
	req.InDelta(600, ttl, 1)

	// When three participants try to join
	t1, err := o.JoinRoom(ctx, roomID, "")
	req.NoError(err)
	t2, err := o.JoinRoom(ctx, roomID, "")
	req.NoError(err)
	_, err = o.JoinRoom(ctx, roomID, "")

	// Then the third one is turned away
	req.ErrorIs(err, errors.ErrRoomFull)
	info, err := o.RoomInfo(ctx, roomID)
	req.NoError(err)
	req.Equal(2, info.Members)

	// And T1 hears about the message T2 posts, without T2's token
	sub, err := o.Subscribe(ctx, roomID, t1)
	req.NoError(err)
	defer sub.Close()

	posted, err := o.PostMessage(ctx, roomID, t2, "owl", "hello")
	req.NoError(err)
	e := nextEvent(t, sub.Events())
	req.Equal(event.MessagePostedName, e.Name())
	req.Equal(posted.ID, e.(event.MessagePosted).Message.ID)
	req.Empty(e.(event.MessagePosted).Message.AuthorToken)

	// And the history shows T2 its own token only
	own, err := o.FetchMessages(ctx, roomID, t2)
	req.NoError(err)
	req.Equal(t2, own[0].AuthorToken)
	other, err := o.FetchMessages(ctx, roomID, t1)
	req.NoError(err)
	req.Empty(other[0].AuthorToken)

	// When T1 destroys the room
	req.NoError(o.DestroyRoom(ctx, roomID, t1))

	// Then the subscriber is told and every token is void
	req.Equal(event.RoomDestroyedName, nextEvent(t, sub.Events()).Name())
	_, err = o.PostMessage(ctx, roomID, t2, "owl", "still there?")
	req.ErrorIs(err, errors.ErrUnauthorized)
	_, err = o.FetchMessages(ctx, roomID, t1)
	req.ErrorIs(err, errors.ErrUnauthorized)
	_, err = o.JoinRoom(ctx, roomID, "")
	req.ErrorIs(err, errors.ErrRoomNotFound)
	left, err := o.RemainingTTL(ctx, roomID)
	req.NoError(err)
	req.Zero(left)
}

func Test_Scenario_Room_Expires_Silently(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	s := newStack(t, time.Second)
	o := s.orchestrator

	roomID, _, err := o.CreateRoom(ctx)
	req.NoError(err)
	token, err := o.JoinRoom(ctx, roomID, "")
	req.NoError(err)
	_, err = o.PostMessage(ctx, roomID, token, "fox", "soon gone")
	req.NoError(err)

	sub, err := o.Subscribe(ctx, roomID, token)
	req.NoError(err)
	defer sub.Close()

	// Badger expiry has a one second granularity
	req.Eventually(func() bool {
		_, err := s.rooms.GetRoom(ctx, roomID)
		return errors.Is(err, errors.ErrRoomNotFound)
	}, 4*time.Second, 100*time.Millisecond)

	left, err := o.RemainingTTL(ctx, roomID)
	req.NoError(err)
	req.Zero(left)
	req.Eventually(func() bool {
		history, err := s.messages.List(ctx, roomID)
		return err == nil && len(history) == 0
	}, 2*time.Second, 100*time.Millisecond)

	// No room-destroyed event is emitted on expiry
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event %s", e.Name())
	case <-time.After(200 * time.Millisecond):
	}
}

func Test_Scenario_Oversized_Message_Is_Not_Stored(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	o := newStack(t, 10*time.Minute).orchestrator

	roomID, _, err := o.CreateRoom(ctx)
	req.NoError(err)
	token, err := o.JoinRoom(ctx, roomID, "")
	req.NoError(err)
	sub, err := o.Subscribe(ctx, roomID, token)
	req.NoError(err)
	defer sub.Close()

	_, err = o.PostMessage(ctx, roomID, token, "fox", strings.Repeat("a", 1001))
	req.ErrorIs(err, errors.ErrValidation)

	history, err := o.FetchMessages(ctx, roomID, token)
	req.NoError(err)
	req.Empty(history)
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event %s", e.Name())
	case <-time.After(200 * time.Millisecond):
	}

	// Exactly at the limit is accepted
	_, err = o.PostMessage(ctx, roomID, token, "fox", strings.Repeat("a", 1000))
	req.NoError(err)
}

func Test_Scenario_HTTP_Round_Trip(t *testing.T) {
	req := require.New(t)
	o := newStack(t, 10*time.Minute).orchestrator
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	srv := httptest.NewServer(httpx.NewRouter(httpx.NewHandler(services.NewRoomService(o), log, time.Second), log))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", nil)
	req.NoError(err)
	req.Equal(http.StatusCreated, resp.StatusCode)
	var room httpx.RoomResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&room))
	_ = resp.Body.Close()

	resp, err = http.Post(srv.URL+"/api/rooms/"+room.RoomID+"/join", "application/json", nil)
	req.NoError(err)
	req.Equal(http.StatusOK, resp.StatusCode)
	var joined httpx.JoinResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&joined))
	_ = resp.Body.Close()
	cookies := resp.Cookies()
	req.Len(cookies, 1)
	req.Equal(auth.CookieName, cookies[0].Name)
	req.Equal(joined.Token, cookies[0].Value)

	body := strings.NewReader(`{"sender":"fox","text":"hi"}`)
	post, err := http.NewRequest(http.MethodPost, srv.URL+"/api/rooms/"+room.RoomID+"/messages", body)
	req.NoError(err)
	post.AddCookie(cookies[0])
	resp, err = http.DefaultClient.Do(post)
	req.NoError(err)
	req.Equal(http.StatusCreated, resp.StatusCode)
	var message event.MessagePayload
	req.NoError(json.NewDecoder(resp.Body).Decode(&message))
	_ = resp.Body.Close()
	req.Equal(joined.Token, message.Token)

	// Without credentials the history stays closed
	resp, err = http.Get(srv.URL + "/api/rooms/" + room.RoomID + "/messages")
	req.NoError(err)
	_ = resp.Body.Close()
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}
