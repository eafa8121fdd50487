package runtime

import (
	"context"
	"ephemeral-chat/domain"
	"ephemeral-chat/domain/event"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
	err    error
}

func (s *recordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) received() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.DomainEvent(nil), s.events...)
}

func messagePosted(roomID domain.RoomID, text string) event.DomainEvent {
	return event.MessagePosted{Message: domain.Message{RoomID: roomID, Text: text}}
}

func TestRegistry_Subscribe_One_Room_One_Participant(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	sink := &recordingSink{}

	// Given no room is followed
	req.Empty(registry.rooms)

	// When a participant subscribes a room
	registry.Subscribe("r1", sink)

	// Then
	req.Len(registry.rooms, 1)
	req.Len(registry.GetSinksForRoom("r1"), 1)
	req.Contains(registry.GetSinksForRoom("r1"), sink)
	req.Equal(1, registry.Stats().Subscribers)
}

func TestRegistry_Subscribe_One_Room_Multiple_Participants(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	sink1, sink2 := &recordingSink{}, &recordingSink{}

	registry.Subscribe("r1", sink1)
	registry.Subscribe("r1", sink2)
	registry.Subscribe("r2", &recordingSink{})

	req.Len(registry.GetSinksForRoom("r1"), 2)
	req.Contains(registry.GetSinksForRoom("r1"), sink1)
	req.Equal(2, registry.Stats().Rooms)
	req.Equal(3, registry.Stats().Subscribers)
}

func TestRegistry_UnSubscribe_Last_Participant_Removes_Room(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())

	// Given a participant subscribes a room
	unsubscribe := registry.Subscribe("r1", &recordingSink{})

	// When it leaves, twice
	unsubscribe()
	unsubscribe()

	// Then the room doesn't exist anymore
	req.Empty(registry.rooms)
	req.Nil(registry.GetSinksForRoom("r1"))
}

func TestRegistry_UnSubscribe_One_Of_Multiple_Participants(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	sink1, sink2 := &recordingSink{}, &recordingSink{}

	unsubscribe := registry.Subscribe("r1", sink1)
	registry.Subscribe("r1", sink2)
	unsubscribe()

	req.Len(registry.GetSinksForRoom("r1"), 1)
	req.Contains(registry.GetSinksForRoom("r1"), sink2)
}

func TestRegistry_Publish_Only_Reaches_Room_Subscribers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := NewRegistry(slog.Default())
	inRoom, elsewhere := &recordingSink{}, &recordingSink{}
	registry.Subscribe("r1", inRoom)
	registry.Subscribe("r2", elsewhere)

	req.NoError(registry.Publish(ctx, "r1", messagePosted("r1", "hello")))
	req.NoError(registry.Publish(ctx, "nobody", messagePosted("nobody", "lost")))

	req.Len(inRoom.received(), 1)
	req.Empty(elsewhere.received())
}

func TestRegistry_Publish_No_Replay_For_Late_Subscribers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := NewRegistry(slog.Default())
	early := &recordingSink{}
	registry.Subscribe("r1", early)

	req.NoError(registry.Publish(ctx, "r1", messagePosted("r1", "first")))
	late := &recordingSink{}
	registry.Subscribe("r1", late)
	req.NoError(registry.Publish(ctx, "r1", messagePosted("r1", "second")))

	req.Len(early.received(), 2)
	req.Len(late.received(), 1)
}

func TestRegistry_Publish_Failing_Sink_Does_Not_Block_Others(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	broken := &recordingSink{err: fmt.Errorf("closed pipe")}
	healthy := &recordingSink{}
	registry.Subscribe("r1", broken)
	registry.Subscribe("r1", healthy)

	req.NoError(registry.Publish(context.Background(), "r1", messagePosted("r1", "x")))

	req.Len(healthy.received(), 1)
}

func TestRegistry_Publish_Same_Order_For_Every_Subscriber(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := NewRegistry(slog.Default())
	sink1, sink2 := &recordingSink{}, &recordingSink{}
	registry.Subscribe("r1", sink1)
	registry.Subscribe("r1", sink2)

	// When several goroutines publish at once
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = registry.Publish(ctx, "r1", messagePosted("r1", fmt.Sprint(i)))
		}(i)
	}
	wg.Wait()

	// Then both subscribers observed one and the same sequence
	req.Len(sink1.received(), 50)
	req.Equal(sink1.received(), sink2.received())
}

func TestRegistry_Destroy_Event_Reaches_Subscribers(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default())
	sink := &recordingSink{}
	registry.Subscribe("r1", sink)

	destroyed := event.RoomDestroyed{Room: "r1", At: time.Now()}
	req.NoError(registry.Publish(context.Background(), "r1", destroyed))

	req.Equal([]event.DomainEvent{destroyed}, sink.received())
}
