package repositories

import (
	"context"
	"ephemeral-chat/contract"
	"ephemeral-chat/domain"
	"ephemeral-chat/errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var _ contract.IRoomRepository = (*RoomRepository)(nil)

type RoomRepository struct {
	store   contract.Store
	log     *slog.Logger
	roomTTL time.Duration
	now     func() time.Time
}

func NewRoomRepository(store contract.Store, log *slog.Logger, roomTTL time.Duration) *RoomRepository {
	return &RoomRepository{store: store, log: log, roomTTL: roomTTL, now: time.Now}
}

// CreateRoom allocates a fresh id with an empty membership and arms the room TTL.
// If the TTL cannot be set the hash is removed again, a room never lives
// without a deadline.
func (r *RoomRepository) CreateRoom(ctx context.Context) (domain.RoomID, error) {
	room := domain.NewRoom(domain.RoomID(uuid.NewString()), r.now().UTC())
	fields, err := encodeRoom(room)
	if err != nil {
		return "", err
	}
	key := MetaKey(room.ID)
	if err := r.store.HashSet(ctx, key, fields); err != nil {
		return "", err
	}
	if err := r.store.Expire(ctx, key, r.roomTTL); err != nil {
		if delErr := r.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			r.log.Warn("Unable to clean up room without TTL", "room", room.ID, "error", delErr)
		}
		return "", err
	}
	r.log.Debug("Room created", "room", room.ID, "ttl", r.roomTTL)
	return room.ID, nil
}

func (r *RoomRepository) GetRoom(ctx context.Context, roomID domain.RoomID) (domain.Room, error) {
	if roomID == "" {
		return domain.Room{}, errors.ErrRoomNotFound
	}
	fields, err := r.store.HashGetAll(ctx, MetaKey(roomID))
	if errors.Is(err, errors.ErrKeyNotFound) {
		return domain.Room{}, errors.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, err
	}
	return decodeRoom(roomID, fields)
}

// RemainingTTL returns whole seconds left, 0 once the room is gone.
func (r *RoomRepository) RemainingTTL(ctx context.Context, roomID domain.RoomID) (int, error) {
	if roomID == "" {
		return 0, nil
	}
	ttl, err := r.store.TTL(ctx, MetaKey(roomID))
	if errors.Is(err, errors.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return toSeconds(ttl), nil
}

// AddMember appends token to the membership in a single atomic update.
// Rejoining with a known token leaves the room untouched.
func (r *RoomRepository) AddMember(ctx context.Context, roomID domain.RoomID, token domain.Token, maxMembers int) error {
	if roomID == "" {
		return errors.ErrRoomNotFound
	}
	err := r.store.HashUpdate(ctx, MetaKey(roomID), func(fields map[string][]byte) (map[string][]byte, error) {
		room, err := decodeRoom(roomID, fields)
		if err != nil {
			return nil, err
		}
		admitted, changed, err := room.Admit(token, maxMembers)
		if err != nil || !changed {
			return fields, err
		}
		return encodeRoom(admitted)
	})
	if errors.Is(err, errors.ErrKeyNotFound) {
		return errors.ErrRoomNotFound
	}
	return err
}

// DeleteRoom purges every room-scoped key. Deleting a missing room is a no-op.
func (r *RoomRepository) DeleteRoom(ctx context.Context, roomID domain.RoomID) error {
	if roomID == "" {
		return nil
	}
	return r.store.Delete(ctx, RoomKeys(roomID)...)
}

func encodeRoom(room domain.Room) (map[string][]byte, error) {
	connected, err := cbor.Marshal(lo.Map(room.ConnectedTokens, func(t domain.Token, _ int) string {
		return string(t)
	}))
	if err != nil {
		return nil, fmt.Errorf("encode members of %s: %w", room.ID, err)
	}
	createdAt, err := cbor.Marshal(room.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("encode creation time of %s: %w", room.ID, err)
	}
	return map[string][]byte{fieldConnected: connected, fieldCreatedAt: createdAt}, nil
}

func decodeRoom(roomID domain.RoomID, fields map[string][]byte) (domain.Room, error) {
	var tokens []string
	if raw, ok := fields[fieldConnected]; ok {
		if err := cbor.Unmarshal(raw, &tokens); err != nil {
			return domain.Room{}, fmt.Errorf("%w: members of %s: %v", errors.ErrInvalidPayload, roomID, err)
		}
	}
	var createdAt int64
	if raw, ok := fields[fieldCreatedAt]; ok {
		if err := cbor.Unmarshal(raw, &createdAt); err != nil {
			return domain.Room{}, fmt.Errorf("%w: creation time of %s: %v", errors.ErrInvalidPayload, roomID, err)
		}
	}
	room := domain.NewRoom(roomID, time.UnixMilli(createdAt).UTC())
	room.ConnectedTokens = lo.Map(tokens, func(t string, _ int) domain.Token {
		return domain.Token(t)
	})
	return room, nil
}

// toSeconds rounds to the nearest second, never below zero.
func toSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	return int((ttl + 500*time.Millisecond) / time.Second)
}
