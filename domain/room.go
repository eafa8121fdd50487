// Package domain contains core concepts of the ephemeral chat system.
// Rooms, tokens and messages are plain values; storage and transport
// concerns live elsewhere.
package domain

import (
	"ephemeral-chat/errors"
	"time"

	"github.com/samber/lo"
)

type RoomID string

// Token is the opaque credential binding one participant to one room.
type Token string

type Room struct {
	ID              RoomID
	ConnectedTokens []Token
	CreatedAt       time.Time
}

func NewRoom(id RoomID, createdAt time.Time) Room {
	return Room{ID: id, ConnectedTokens: []Token{}, CreatedAt: createdAt}
}

func (r Room) HasMember(token Token) bool {
	return token != "" && lo.Contains(r.ConnectedTokens, token)
}

func (r Room) IsFull(maxMembers int) bool {
	return len(r.ConnectedTokens) >= maxMembers
}

// Admit returns the room with token added to its membership.
// Re-admitting a member is a no-op (changed is false). A room already at
// maxMembers rejects newcomers with ErrRoomFull and is returned untouched.
func (r Room) Admit(token Token, maxMembers int) (room Room, changed bool, err error) {
	if r.HasMember(token) {
		return r, false, nil
	}
	if r.IsFull(maxMembers) {
		return r, false, errors.ErrRoomFull
	}
	tokens := make([]Token, 0, len(r.ConnectedTokens)+1)
	tokens = append(tokens, r.ConnectedTokens...)
	r.ConnectedTokens = append(tokens, token)
	return r, true, nil
}

// RoomInfo is the read model returned to clients rendering a room header.
type RoomInfo struct {
	ID         RoomID
	CreatedAt  time.Time
	Members    int
	MaxMembers int
	TTLSeconds int
}
