package http

import "ephemeral-chat/domain/event"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type RoomResponse struct {
	RoomID string `json:"roomId"`
	TTL    int    `json:"ttl"`
}

// JoinResponse echoes the token for clients that prefer a bearer header
// over the cookie.
type JoinResponse struct {
	RoomID string `json:"roomId"`
	TTL    int    `json:"ttl"`
	Token  string `json:"token"`
}

type RoomInfoResponse struct {
	RoomID     string `json:"roomId"`
	CreatedAt  int64  `json:"createdAt"`
	Members    int    `json:"members"`
	MaxMembers int    `json:"maxMembers"`
	TTL        int    `json:"ttl"`
}

type TTLResponse struct {
	TTL int `json:"ttl"`
}

type PostMessageRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type MessagesResponse struct {
	Messages []event.MessagePayload `json:"messages"`
}
