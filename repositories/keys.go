package repositories

import "ephemeral-chat/domain"

const (
	metaPrefix     = "meta:"
	messagesPrefix = "messages:"

	fieldConnected = "connected"
	fieldCreatedAt = "createdAt"
)

// MetaKey holds the room hash: membership and creation time.
// Its TTL is the authoritative lifetime of the room.
func MetaKey(roomID domain.RoomID) string {
	return metaPrefix + string(roomID)
}

// MessagesKey holds the ordered message list of a room.
func MessagesKey(roomID domain.RoomID) string {
	return messagesPrefix + string(roomID)
}

// RoomKeys lists every key scoped to a room, metadata first.
func RoomKeys(roomID domain.RoomID) []string {
	return append([]string{MetaKey(roomID)}, auxKeys(roomID)...)
}

// auxKeys are the room-scoped keys whose TTL follows the metadata key.
func auxKeys(roomID domain.RoomID) []string {
	return []string{MessagesKey(roomID)}
}
