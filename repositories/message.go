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
)

var _ contract.IMessageRepository = (*MessageRepository)(nil)

// storedMessage is the CBOR layout of one list element.
type storedMessage struct {
	ID          string `cbor:"id"`
	Sender      string `cbor:"sender"`
	Text        string `cbor:"text"`
	Timestamp   int64  `cbor:"ts"`
	AuthorToken string `cbor:"token"`
}

type MessageRepository struct {
	store contract.Store
	log   *slog.Logger
}

func NewMessageRepository(store contract.Store, log *slog.Logger) *MessageRepository {
	return &MessageRepository{store: store, log: log}
}

// Append adds message at the tail of the room history.
// The room may have expired since the caller validated its token, so the
// append is tied to the room key: it fails when the room is gone and the
// list takes the room deadline in the same write.
func (m *MessageRepository) Append(ctx context.Context, roomID domain.RoomID, message domain.Message) error {
	data, err := cbor.Marshal(storedMessage{
		ID:          message.ID,
		Sender:      message.Sender,
		Text:        message.Text,
		Timestamp:   message.Timestamp.UnixMilli(),
		AuthorToken: string(message.AuthorToken),
	})
	if err != nil {
		return fmt.Errorf("encode message %s: %w", message.ID, err)
	}
	n, err := m.store.ListAppendTied(ctx, MetaKey(roomID), MessagesKey(roomID), data)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return errors.ErrRoomNotFound
	}
	if err != nil {
		return err
	}
	m.log.Debug("Message appended", "room", roomID, "count", n)
	return nil
}

// List returns the history in insertion order with author tokens intact.
func (m *MessageRepository) List(ctx context.Context, roomID domain.RoomID) ([]domain.Message, error) {
	values, err := m.store.ListRange(ctx, MessagesKey(roomID), 0, -1)
	if err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(values))
	for _, v := range values {
		var sm storedMessage
		if err := cbor.Unmarshal(v, &sm); err != nil {
			return nil, fmt.Errorf("%w: message in %s: %v", errors.ErrInvalidPayload, roomID, err)
		}
		messages = append(messages, domain.Message{
			ID:          sm.ID,
			RoomID:      roomID,
			Sender:      sm.Sender,
			Text:        sm.Text,
			Timestamp:   time.UnixMilli(sm.Timestamp).UTC(),
			AuthorToken: domain.Token(sm.AuthorToken),
		})
	}
	return messages, nil
}

// SyncTTL copies the deadline of the room onto its auxiliary keys.
// A room that is already gone takes its auxiliary keys with it.
func (m *MessageRepository) SyncTTL(ctx context.Context, roomID domain.RoomID) error {
	for _, key := range auxKeys(roomID) {
		err := m.store.ExpireWith(ctx, key, MetaKey(roomID))
		if err != nil && !errors.Is(err, errors.ErrKeyNotFound) {
			return err
		}
	}
	return nil
}
