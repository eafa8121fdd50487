package event

import (
	"ephemeral-chat/domain"
	"time"
)

type Name string

const (
	MessagePostedName Name = "message-posted"
	RoomDestroyedName Name = "room-destroyed"
)

// DomainEvent is transient: it only lives while being delivered to the
// subscribers currently attached to its room.
type DomainEvent interface {
	RoomID() domain.RoomID
	Name() Name
}

type MessagePosted struct {
	Message domain.Message
}

func (m MessagePosted) RoomID() domain.RoomID { return m.Message.RoomID }
func (m MessagePosted) Name() Name            { return MessagePostedName }

type RoomDestroyed struct {
	Room domain.RoomID
	At   time.Time
}

func (r RoomDestroyed) RoomID() domain.RoomID { return r.Room }
func (r RoomDestroyed) Name() Name            { return RoomDestroyedName }

// RedactFor returns the event as one subscriber is allowed to see it.
func RedactFor(e DomainEvent, viewer domain.Token) DomainEvent {
	if posted, ok := e.(MessagePosted); ok {
		return MessagePosted{Message: posted.Message.RedactFor(viewer)}
	}
	return e
}
