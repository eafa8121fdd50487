package runtime

import (
	"context"
	"ephemeral-chat/contract"
	"ephemeral-chat/domain"
	"ephemeral-chat/domain/event"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var _ contract.IRegistry = (*Registry)(nil)

// roomSinks holds the subscribers of one room.
// mu serializes publishes so every sink sees the same event order.
type roomSinks struct {
	mu    sync.Mutex
	sinks map[string]contract.EventSink
}

// Registry is the in-process event channel: it routes room events to the
// sinks currently attached to that room. Nothing is buffered for absent
// subscribers.
type Registry struct {
	mu    sync.RWMutex
	log   *slog.Logger
	rooms map[domain.RoomID]*roomSinks
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{log: log, rooms: make(map[domain.RoomID]*roomSinks)}
}

// Subscribe attaches sink to roomID. The returned func detaches it and may
// be called any number of times.
func (r *Registry) Subscribe(roomID domain.RoomID, sink contract.EventSink) func() {
	id := uuid.NewString()

	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = &roomSinks{sinks: make(map[string]contract.EventSink)}
		r.rooms[roomID] = room
	}
	room.sinks[id] = sink
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(roomID, id) })
	}
}

// unsubscribe removes the subscription and drops the room entry once empty
// to prevent memory leaks over time.
func (r *Registry) unsubscribe(roomID domain.RoomID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(room.sinks, id)
	if len(room.sinks) == 0 {
		delete(r.rooms, roomID)
	}
}

// GetSinksForRoom returns a snapshot of the sinks attached to roomID,
// nil when there are none.
func (r *Registry) GetSinksForRoom(roomID domain.RoomID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	activeSinks := make([]contract.EventSink, 0, len(room.sinks))
	for _, sink := range room.sinks {
		activeSinks = append(activeSinks, sink)
	}
	return activeSinks
}

// Publish hands e to every sink attached to roomID. A failing sink is
// logged and skipped; it never prevents delivery to the others.
func (r *Registry) Publish(ctx context.Context, roomID domain.RoomID, e event.DomainEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	for id, sink := range room.sinks {
		if err := sink.Consume(ctx, e); err != nil {
			r.log.Warn("Sink rejected event", "room", roomID, "subscription", id, "event", e.Name(), "error", err)
		}
	}
	return nil
}

func (r *Registry) Stats() contract.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := contract.RegistryStats{Rooms: len(r.rooms)}
	for _, room := range r.rooms {
		stats.Subscribers += len(room.sinks)
	}
	return stats
}
