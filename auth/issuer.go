package auth

import (
	"context"
	"ephemeral-chat/contract"
	"ephemeral-chat/domain"
	"ephemeral-chat/errors"
	"log/slog"
)

var _ contract.ITokenIssuer = (*TokenIssuer)(nil)

// TokenIssuer admits anonymous participants into rooms and gates every
// message operation on their membership.
type TokenIssuer struct {
	rooms      contract.IRoomRepository
	codec      TokenCodec
	log        *slog.Logger
	maxMembers int
}

func NewTokenIssuer(rooms contract.IRoomRepository, codec TokenCodec, log *slog.Logger, maxMembers int) *TokenIssuer {
	return &TokenIssuer{rooms: rooms, codec: codec, log: log, maxMembers: maxMembers}
}

// Admit returns existing unchanged when it already belongs to the room.
// Otherwise a new token is minted and added under the capacity check,
// which the repository performs atomically.
func (i *TokenIssuer) Admit(ctx context.Context, roomID domain.RoomID, existing domain.Token) (domain.Token, error) {
	room, err := i.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return "", err
	}
	if room.HasMember(existing) {
		return existing, nil
	}
	if room.IsFull(i.maxMembers) {
		return "", errors.ErrRoomFull
	}
	token, err := i.codec.Mint(roomID)
	if err != nil {
		return "", err
	}
	if err := i.rooms.AddMember(ctx, roomID, token, i.maxMembers); err != nil {
		i.log.Debug("Admission refused", "room", roomID, "error", err)
		return "", err
	}
	i.log.Debug("Participant admitted", "room", roomID)
	return token, nil
}

// Validate returns the room membership when token belongs to roomID.
// Any failure, including a vanished room, reads as ErrUnauthorized.
func (i *TokenIssuer) Validate(ctx context.Context, roomID domain.RoomID, token domain.Token) ([]domain.Token, error) {
	if roomID == "" || token == "" {
		return nil, errors.ErrUnauthorized
	}
	minted, err := i.codec.Parse(token)
	if err != nil {
		return nil, err
	}
	if minted != roomID {
		return nil, errors.ErrUnauthorized
	}
	room, err := i.rooms.GetRoom(ctx, roomID)
	switch {
	case errors.Is(err, errors.ErrRoomNotFound):
		return nil, errors.ErrUnauthorized
	case err != nil:
		return nil, err
	}
	if !room.HasMember(token) {
		return nil, errors.ErrUnauthorized
	}
	return room.ConnectedTokens, nil
}
