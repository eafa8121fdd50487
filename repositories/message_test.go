package repositories

import (
	"context"
	"ephemeral-chat/contract"
	"ephemeral-chat/domain"
	"ephemeral-chat/errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Append_And_List_Keep_Insertion_Order(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms, messages, clock := newMemoryRepositories(time.Minute)
	id, err := rooms.CreateRoom(ctx)
	req.NoError(err)

	at := clock.Now()
	posted := []domain.Message{
		domain.NewMessage(id, "t1", "Alice", "first", at),
		domain.NewMessage(id, "t2", "Bob", "second", at.Add(time.Second)),
		domain.NewMessage(id, "t1", "Alice", "third", at.Add(2*time.Second)),
	}
	for _, m := range posted {
		req.NoError(messages.Append(ctx, id, m))
	}

	history, err := messages.List(ctx, id)
	req.NoError(err)
	req.Equal(posted, history)
}

func Test_List_Empty_Room_Is_Not_An_Error(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms, messages, _ := newMemoryRepositories(time.Minute)
	id, err := rooms.CreateRoom(ctx)
	req.NoError(err)

	history, err := messages.List(ctx, id)
	req.NoError(err)
	req.NotNil(history)
	req.Empty(history)
}

func Test_Append_To_Expired_Room_Fails(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms, messages, clock := newMemoryRepositories(time.Second)
	id, err := rooms.CreateRoom(ctx)
	req.NoError(err)

	clock.Advance(2 * time.Second)

	err = messages.Append(ctx, id, domain.NewMessage(id, "t1", "fox", "late", clock.Now()))
	req.ErrorIs(err, errors.ErrRoomNotFound)
	history, err := messages.List(ctx, id)
	req.NoError(err)
	req.Empty(history)
}

func Test_SyncTTL_Copies_Room_Lifetime(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms, messages, clock := newMemoryRepositories(10 * time.Second)
	id, err := rooms.CreateRoom(ctx)
	req.NoError(err)

	clock.Advance(3 * time.Second)
	req.NoError(messages.Append(ctx, id, domain.NewMessage(id, "t1", "fox", "hi", clock.Now())))
	req.NoError(messages.SyncTTL(ctx, id))

	roomTTL, err := rooms.store.TTL(ctx, MetaKey(id))
	req.NoError(err)
	listTTL, err := rooms.store.TTL(ctx, MessagesKey(id))
	req.NoError(err)
	req.Equal(roomTTL, listTTL)

	// Messages vanish together with the room
	clock.Advance(8 * time.Second)
	history, err := messages.List(ctx, id)
	req.NoError(err)
	req.Empty(history)
}

func Test_SyncTTL_Without_Messages_Is_A_Noop(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms, messages, _ := newMemoryRepositories(10 * time.Second)
	id, err := rooms.CreateRoom(ctx)
	req.NoError(err)

	req.NoError(messages.SyncTTL(ctx, id))

	exists, err := rooms.store.Exists(ctx, MessagesKey(id))
	req.NoError(err)
	req.False(exists)
}

func Test_SyncTTL_Gone_Room_Drops_Messages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms, messages, _ := newMemoryRepositories(10 * time.Second)
	id, err := rooms.CreateRoom(ctx)
	req.NoError(err)
	_, err = rooms.store.ListAppend(ctx, MessagesKey(id), []byte("orphan"))
	req.NoError(err)

	// Given the room key disappearing while the list has no deadline
	req.NoError(rooms.store.Delete(ctx, MetaKey(id)))
	ttl, err := rooms.store.TTL(ctx, MessagesKey(id))
	req.NoError(err)
	req.Equal(contract.NoExpiry, ttl)

	req.NoError(messages.SyncTTL(ctx, id))

	exists, err := rooms.store.Exists(ctx, MessagesKey(id))
	req.NoError(err)
	req.False(exists)
}

func Test_Append_Gives_Messages_The_Room_Deadline(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms, messages, clock := newMemoryRepositories(10 * time.Second)
	id, err := rooms.CreateRoom(ctx)
	req.NoError(err)
	clock.Advance(4 * time.Second)

	// When appending without any SyncTTL afterwards
	req.NoError(messages.Append(ctx, id, domain.NewMessage(id, "t1", "fox", "hi", clock.Now())))

	// Then the list already carries the room deadline
	listTTL, err := rooms.store.TTL(ctx, MessagesKey(id))
	req.NoError(err)
	req.Equal(6*time.Second, listTTL)

	clock.Advance(6 * time.Second)
	exists, err := rooms.store.Exists(ctx, MessagesKey(id))
	req.NoError(err)
	req.False(exists)
}

func Test_Append_To_Deleted_Room_Writes_Nothing(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rooms, messages, clock := newMemoryRepositories(time.Minute)
	id, err := rooms.CreateRoom(ctx)
	req.NoError(err)
	req.NoError(rooms.DeleteRoom(ctx, id))

	err = messages.Append(ctx, id, domain.NewMessage(id, "t1", "fox", "hi", clock.Now()))
	req.ErrorIs(err, errors.ErrRoomNotFound)
	exists, err := rooms.store.Exists(ctx, MessagesKey(id))
	req.NoError(err)
	req.False(exists)
}
