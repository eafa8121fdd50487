package event

import (
	"encoding/json"
	"ephemeral-chat/domain"
	"ephemeral-chat/errors"
	"fmt"
	"time"
)

// MessagePayload is the wire shape of a message, shared by the HTTP API,
// the SSE stream and the cross-instance relay.
type MessagePayload struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Token     string `json:"token,omitempty"`
}

type Envelope struct {
	Type    Name            `json:"type"`
	RoomID  string          `json:"roomId"`
	At      int64           `json:"at,omitempty"`
	Origin  string          `json:"origin,omitempty"`
	Message *MessagePayload `json:"message,omitempty"`
}

func ToPayload(m domain.Message) MessagePayload {
	return MessagePayload{
		ID:        m.ID,
		RoomID:    string(m.RoomID),
		Sender:    m.Sender,
		Text:      m.Text,
		Timestamp: m.Timestamp.UnixMilli(),
		Token:     string(m.AuthorToken),
	}
}

func FromPayload(p MessagePayload) domain.Message {
	return domain.Message{
		ID:          p.ID,
		RoomID:      domain.RoomID(p.RoomID),
		Sender:      p.Sender,
		Text:        p.Text,
		Timestamp:   time.UnixMilli(p.Timestamp).UTC(),
		AuthorToken: domain.Token(p.Token),
	}
}

func ToEnvelope(e DomainEvent, origin string) (Envelope, error) {
	env := Envelope{Type: e.Name(), RoomID: string(e.RoomID()), Origin: origin}
	switch evt := e.(type) {
	case MessagePosted:
		payload := ToPayload(evt.Message)
		env.Message = &payload
	case RoomDestroyed:
		if !evt.At.IsZero() {
			env.At = evt.At.UnixMilli()
		}
	default:
		return Envelope{}, fmt.Errorf("%w: unsupported event %T", errors.ErrInvalidPayload, e)
	}
	return env, nil
}

func FromEnvelope(env Envelope) (DomainEvent, error) {
	switch env.Type {
	case MessagePostedName:
		if env.Message == nil {
			return nil, fmt.Errorf("%w: %s without message", errors.ErrInvalidPayload, env.Type)
		}
		return MessagePosted{Message: FromPayload(*env.Message)}, nil
	case RoomDestroyedName:
		destroyed := RoomDestroyed{Room: domain.RoomID(env.RoomID)}
		if env.At != 0 {
			destroyed.At = time.UnixMilli(env.At).UTC()
		}
		return destroyed, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", errors.ErrInvalidPayload, env.Type)
	}
}

func Marshal(e DomainEvent, origin string) ([]byte, error) {
	env, err := ToEnvelope(e, origin)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func Unmarshal(data []byte) (DomainEvent, string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	e, err := FromEnvelope(env)
	return e, env.Origin, err
}
