// Package relay shares room events between server instances over NATS,
// so subscribers attached to one instance hear about posts and destroys
// handled by another.
package relay

import (
	"context"
	"ephemeral-chat/contract"
	"ephemeral-chat/domain"
	"ephemeral-chat/domain/event"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

var _ contract.EventPublisher = (*Relay)(nil)

// Conn is the part of *nats.Conn the relay relies on.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Dial connects to NATS and keeps reconnecting forever once connected.
func Dial(url, name string, log *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", url, err)
	}
	log.Info("Connected to NATS", "url", nc.ConnectedUrl())
	return nc, nil
}

// Relay publishes locally first, then forwards the event on
// "{prefix}.{roomID}". Its Run loop does the reverse for events coming
// from other instances, skipping the ones it sent itself.
// Author tokens are bearer credentials and never leave the instance: a
// relayed message reaches every remote subscriber as someone else's.
type Relay struct {
	conn   Conn
	local  contract.EventPublisher
	log    *slog.Logger
	prefix string
	origin string
}

func NewRelay(conn Conn, local contract.EventPublisher, log *slog.Logger, prefix string) *Relay {
	return &Relay{conn: conn, local: local, log: log, prefix: prefix, origin: uuid.NewString()}
}

func (r *Relay) subject(roomID domain.RoomID) string {
	return r.prefix + "." + string(roomID)
}

func (r *Relay) Publish(ctx context.Context, roomID domain.RoomID, e event.DomainEvent) error {
	if err := r.local.Publish(ctx, roomID, e); err != nil {
		return err
	}
	data, err := event.Marshal(event.RedactFor(e, ""), r.origin)
	if err != nil {
		return err
	}
	if err := r.conn.Publish(r.subject(roomID), data); err != nil {
		return fmt.Errorf("relay %s for room %s: %w", e.Name(), roomID, err)
	}
	return nil
}

// Run subscribes to every room subject until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.conn.Subscribe(r.prefix+".*", r.handle)
	if err != nil {
		return fmt.Errorf("subscribe to %s.*: %w", r.prefix, err)
	}
	r.log.Info("Relay listening", "subject", r.prefix+".*", "origin", r.origin)
	<-ctx.Done()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			r.log.Debug("Relay unsubscribe failed", "error", err)
		}
	}
	return nil
}

func (r *Relay) handle(msg *nats.Msg) {
	e, origin, err := event.Unmarshal(msg.Data)
	if err != nil {
		r.log.Warn("Invalid relayed event", "subject", msg.Subject, "error", err)
		return
	}
	if origin == r.origin {
		return
	}
	roomID := domain.RoomID(strings.TrimPrefix(msg.Subject, r.prefix+"."))
	if roomID != e.RoomID() {
		r.log.Warn("Relayed event does not match its subject", "subject", msg.Subject, "room_id", e.RoomID())
		return
	}
	if err := r.local.Publish(context.Background(), roomID, e); err != nil {
		r.log.Warn("Unable to deliver relayed event", "room_id", roomID, "error", err)
	}
}
