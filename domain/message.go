package domain

import (
	"ephemeral-chat/errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var validate = validator.New()

// Message is immutable once appended to a room.
// AuthorToken is kept for ownership attribution and must only ever be
// shown back to its owner, see Redact.
type Message struct {
	ID          string
	RoomID      RoomID
	Sender      string
	Text        string
	Timestamp   time.Time
	AuthorToken Token
}

func NewMessage(roomID RoomID, author Token, sender, text string, at time.Time) Message {
	return Message{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		Sender:      sender,
		Text:        text,
		Timestamp:   at,
		AuthorToken: author,
	}
}

// MessageLimits holds the configurable length bounds, counted in runes.
type MessageLimits struct {
	MaxSenderLength int
	MaxTextLength   int
}

func (l MessageLimits) Validate(sender, text string) error {
	if err := validate.Var(sender, fmt.Sprintf("required,max=%d", l.MaxSenderLength)); err != nil {
		return fmt.Errorf("%w: sender must be 1-%d characters", errors.ErrValidation, l.MaxSenderLength)
	}
	if err := validate.Var(text, fmt.Sprintf("required,max=%d", l.MaxTextLength)); err != nil {
		return fmt.Errorf("%w: text must be 1-%d characters", errors.ErrValidation, l.MaxTextLength)
	}
	return nil
}

// RedactFor strips the author token unless viewer wrote the message.
func (m Message) RedactFor(viewer Token) Message {
	if viewer == "" || m.AuthorToken != viewer {
		m.AuthorToken = ""
	}
	return m
}

// Redact projects a room history for one viewer. It has no side effects
// and never mutates the input slice.
func Redact(messages []Message, viewer Token) []Message {
	return lo.Map(messages, func(m Message, _ int) Message {
		return m.RedactFor(viewer)
	})
}
