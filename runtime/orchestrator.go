// Package runtime ties the room lifecycle together: it sequences the
// registry, token issuer, message store and event channel for each
// operation, and owns the supervised background workers.
package runtime

import (
	"context"
	"ephemeral-chat/contract"
	"ephemeral-chat/domain"
	"ephemeral-chat/domain/event"
	"ephemeral-chat/sink"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Orchestrator struct {
	mu         sync.Mutex
	log        *slog.Logger
	supervisor contract.ISupervisor
	registry   contract.IRegistry
	publisher  contract.EventPublisher
	rooms      contract.IRoomRepository
	messages   contract.IMessageRepository
	issuer     contract.ITokenIssuer
	limits     domain.MessageLimits
	maxMembers int
	bufferSize int
	dropped    atomic.Int64
	now        func() time.Time
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor, registry contract.IRegistry,
	rooms contract.IRoomRepository, messages contract.IMessageRepository, issuer contract.ITokenIssuer,
	limits domain.MessageLimits, maxMembers, bufferSize int) *Orchestrator {
	return &Orchestrator{
		log:        log,
		supervisor: supervisor,
		registry:   registry,
		publisher:  registry,
		rooms:      rooms,
		messages:   messages,
		issuer:     issuer,
		limits:     limits,
		maxMembers: maxMembers,
		bufferSize: bufferSize,
		now:        time.Now,
	}
}

// UsePublisher routes published events through p instead of the local
// registry, e.g. a relay that also forwards them to other instances.
func (o *Orchestrator) UsePublisher(p contract.EventPublisher) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.publisher = p
}

func (o *Orchestrator) getPublisher() contract.EventPublisher {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.publisher
}

// CreateRoom returns the new room id and its lifetime in seconds.
func (o *Orchestrator) CreateRoom(ctx context.Context) (domain.RoomID, int, error) {
	roomID, err := o.rooms.CreateRoom(ctx)
	if err != nil {
		return "", 0, err
	}
	ttl, err := o.rooms.RemainingTTL(ctx, roomID)
	if err != nil {
		return "", 0, err
	}
	o.log.Info("Room created", "room_id", roomID, "ttl", ttl)
	return roomID, ttl, nil
}

// JoinRoom admits the caller, handing back existing when it is already a member.
func (o *Orchestrator) JoinRoom(ctx context.Context, roomID domain.RoomID, existing domain.Token) (domain.Token, error) {
	return o.issuer.Admit(ctx, roomID, existing)
}

func (o *Orchestrator) RemainingTTL(ctx context.Context, roomID domain.RoomID) (int, error) {
	return o.rooms.RemainingTTL(ctx, roomID)
}

func (o *Orchestrator) RoomInfo(ctx context.Context, roomID domain.RoomID) (domain.RoomInfo, error) {
	room, err := o.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.RoomInfo{}, err
	}
	ttl, err := o.rooms.RemainingTTL(ctx, roomID)
	if err != nil {
		return domain.RoomInfo{}, err
	}
	return domain.RoomInfo{
		ID:         room.ID,
		CreatedAt:  room.CreatedAt,
		Members:    len(room.ConnectedTokens),
		MaxMembers: o.maxMembers,
		TTLSeconds: ttl,
	}, nil
}

// PostMessage checks lengths before touching the store, then validates the
// token, appends, publishes and finally realigns the message TTL on the room.
// Once the message is stored the remaining steps run detached from ctx, so a
// client hanging up cannot leave the history without its deadline. A failed
// SyncTTL is logged only: the message is already stored and delivered.
func (o *Orchestrator) PostMessage(ctx context.Context, roomID domain.RoomID, token domain.Token,
	sender, text string) (domain.Message, error) {
	if err := o.limits.Validate(sender, text); err != nil {
		return domain.Message{}, err
	}
	if _, err := o.issuer.Validate(ctx, roomID, token); err != nil {
		return domain.Message{}, err
	}
	message := domain.NewMessage(roomID, token, sender, text, o.now().UTC())
	if err := o.messages.Append(ctx, roomID, message); err != nil {
		return domain.Message{}, err
	}
	detached := context.WithoutCancel(ctx)
	if err := o.getPublisher().Publish(detached, roomID, event.MessagePosted{Message: message}); err != nil {
		o.log.Warn("Unable to publish message", "room_id", roomID, "error", err)
	}
	if err := o.messages.SyncTTL(detached, roomID); err != nil {
		o.log.Warn("Unable to sync message TTL", "room_id", roomID, "error", err)
	}
	return message, nil
}

// DestroyRoom lets subscribers know before the state disappears: the
// room-destroyed event is always published before any key is deleted.
func (o *Orchestrator) DestroyRoom(ctx context.Context, roomID domain.RoomID, token domain.Token) error {
	if _, err := o.issuer.Validate(ctx, roomID, token); err != nil {
		return err
	}
	destroyed := event.RoomDestroyed{Room: roomID, At: o.now().UTC()}
	if err := o.getPublisher().Publish(ctx, roomID, destroyed); err != nil {
		o.log.Warn("Unable to publish room destruction", "room_id", roomID, "error", err)
	}
	if err := o.rooms.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	o.log.Info("Room destroyed", "room_id", roomID)
	return nil
}

// FetchMessages returns the history as the caller may see it: author
// tokens of other participants are stripped.
func (o *Orchestrator) FetchMessages(ctx context.Context, roomID domain.RoomID, token domain.Token) ([]domain.Message, error) {
	if _, err := o.issuer.Validate(ctx, roomID, token); err != nil {
		return nil, err
	}
	messages, err := o.messages.List(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return domain.Redact(messages, token), nil
}

// Subscription is a live feed of one room's events for one participant.
type Subscription struct {
	events <-chan event.DomainEvent
	close  func()
}

// Events yields redacted events in publish order and is closed by Close,
// or when the subscribing context ends.
func (s *Subscription) Events() <-chan event.DomainEvent { return s.events }

func (s *Subscription) Close() { s.close() }

// Subscribe attaches the caller to the room event channel.
func (o *Orchestrator) Subscribe(ctx context.Context, roomID domain.RoomID, token domain.Token) (*Subscription, error) {
	if _, err := o.issuer.Validate(ctx, roomID, token); err != nil {
		return nil, err
	}
	stream := sink.NewStreamSink(o.bufferSize)
	unsubscribe := o.registry.Subscribe(roomID, redactingSink{viewer: token, next: stream})

	var once sync.Once
	done := make(chan struct{})
	closeFn := func() {
		once.Do(func() {
			close(done)
			unsubscribe()
			stream.Close()
			if n := stream.Dropped(); n > 0 {
				o.dropped.Add(n)
				o.log.Warn("Subscriber lagged, events dropped", "room_id", roomID, "dropped", n)
			}
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			closeFn()
		case <-done:
		}
	}()
	return &Subscription{events: stream.Events(), close: closeFn}, nil
}

// DroppedEvents counts events lost by closed subscriptions that lagged behind.
func (o *Orchestrator) DroppedEvents() int64 {
	return o.dropped.Load()
}

// AddWorkers registers background workers run by Start.
func (o *Orchestrator) AddWorkers(workers ...contract.Worker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.supervisor.Add(workers...)
}

// Start runs the supervised workers and blocks until they stop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.log.Info("Starting orchestrator and all supervised workers")
	o.supervisor.Run(ctx)
}

// Stop initiates a graceful shutdown of the supervised workers.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}

// redactingSink projects every event for one viewer before buffering it.
type redactingSink struct {
	viewer domain.Token
	next   contract.EventSink
}

func (r redactingSink) Consume(ctx context.Context, e event.DomainEvent) error {
	return r.next.Consume(ctx, event.RedactFor(e, r.viewer))
}
