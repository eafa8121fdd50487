//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"ephemeral-chat/domain"
	"ephemeral-chat/domain/event"
	"reflect"
	"time"
)

// NoExpiry is returned by Store.TTL for a key that exists without a deadline.
const NoExpiry time.Duration = -1

// Store is the key-value adapter every room-scoped component writes through.
// Absent and expired keys are indistinguishable: both report ErrKeyNotFound
// (or false / empty for Exists and ListRange).
type Store interface {
	HashGet(ctx context.Context, key, field string) ([]byte, error)
	HashGetAll(ctx context.Context, key string) (map[string][]byte, error)
	// HashSet creates the hash when missing and keeps the current TTL otherwise.
	HashSet(ctx context.Context, key string, fields map[string][]byte) error
	// HashUpdate runs fn against the current fields and writes its result in one
	// atomic step. The key must exist. An error returned by fn aborts the write.
	HashUpdate(ctx context.Context, key string, fn func(fields map[string][]byte) (map[string][]byte, error)) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// ExpireWith copies the deadline of owner onto key. key is deleted when
	// owner no longer exists; a missing key reports ErrKeyNotFound.
	ExpireWith(ctx context.Context, key, owner string) error
	// ListAppend returns the list length after the append.
	ListAppend(ctx context.Context, key string, values ...[]byte) (int, error)
	// ListAppendTied appends to key only while owner exists and gives key the
	// deadline of owner in the same atomic step. A missing owner reports
	// ErrKeyNotFound and writes nothing.
	ListAppendTied(ctx context.Context, owner, key string, values ...[]byte) (int, error)
	// ListRange follows inclusive start/stop indexes, negative ones counting from the tail.
	ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error)
}

// Sweeper is implemented by stores that only reap expired keys on access.
type Sweeper interface {
	PurgeExpired(ctx context.Context) (int, error)
}

type IRoomRepository interface {
	CreateRoom(ctx context.Context) (domain.RoomID, error)
	GetRoom(ctx context.Context, roomID domain.RoomID) (domain.Room, error)
	RemainingTTL(ctx context.Context, roomID domain.RoomID) (int, error)
	AddMember(ctx context.Context, roomID domain.RoomID, token domain.Token, maxMembers int) error
	DeleteRoom(ctx context.Context, roomID domain.RoomID) error
}

type IMessageRepository interface {
	Append(ctx context.Context, roomID domain.RoomID, message domain.Message) error
	List(ctx context.Context, roomID domain.RoomID) ([]domain.Message, error)
	SyncTTL(ctx context.Context, roomID domain.RoomID) error
}

type ITokenIssuer interface {
	Admit(ctx context.Context, roomID domain.RoomID, existing domain.Token) (domain.Token, error)
	Validate(ctx context.Context, roomID domain.RoomID, token domain.Token) ([]domain.Token, error)
}

// EventSink receives the events of the room it is attached to.
// Consume must not block the publisher.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

type EventPublisher interface {
	Publish(ctx context.Context, roomID domain.RoomID, e event.DomainEvent) error
}

type IRegistry interface {
	EventPublisher
	Subscribe(roomID domain.RoomID, sink EventSink) (unsubscribe func())
	GetSinksForRoom(roomID domain.RoomID) []EventSink
	Stats() RegistryStats
}

type RegistryStats struct {
	Rooms       int
	Subscribers int
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
