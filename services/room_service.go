//go:generate go run go.uber.org/mock/mockgen -source=room_service.go -destination=../mocks/mock_room_service.go -package=mocks
package services

import (
	"context"
	"ephemeral-chat/domain"
	"ephemeral-chat/domain/event"
	"ephemeral-chat/runtime"
)

// Feed is a live, already redacted stream of one room's events.
type Feed interface {
	Events() <-chan event.DomainEvent
	Close()
}

type IRoomService interface {
	CreateRoom(ctx context.Context) (domain.RoomID, int, error)
	JoinRoom(ctx context.Context, roomID domain.RoomID, existing domain.Token) (domain.Token, error)
	RoomInfo(ctx context.Context, roomID domain.RoomID) (domain.RoomInfo, error)
	RemainingTTL(ctx context.Context, roomID domain.RoomID) (int, error)
	PostMessage(ctx context.Context, roomID domain.RoomID, token domain.Token, sender, text string) (domain.Message, error)
	FetchMessages(ctx context.Context, roomID domain.RoomID, token domain.Token) ([]domain.Message, error)
	DestroyRoom(ctx context.Context, roomID domain.RoomID, token domain.Token) error
	Subscribe(ctx context.Context, roomID domain.RoomID, token domain.Token) (Feed, error)
}

type RoomService struct {
	orchestrator *runtime.Orchestrator
}

func NewRoomService(o *runtime.Orchestrator) *RoomService {
	return &RoomService{orchestrator: o}
}

func (s *RoomService) CreateRoom(ctx context.Context) (domain.RoomID, int, error) {
	return s.orchestrator.CreateRoom(ctx)
}

func (s *RoomService) JoinRoom(ctx context.Context, roomID domain.RoomID, existing domain.Token) (domain.Token, error) {
	return s.orchestrator.JoinRoom(ctx, roomID, existing)
}

func (s *RoomService) RoomInfo(ctx context.Context, roomID domain.RoomID) (domain.RoomInfo, error) {
	return s.orchestrator.RoomInfo(ctx, roomID)
}

func (s *RoomService) RemainingTTL(ctx context.Context, roomID domain.RoomID) (int, error) {
	return s.orchestrator.RemainingTTL(ctx, roomID)
}

func (s *RoomService) PostMessage(ctx context.Context, roomID domain.RoomID, token domain.Token,
	sender, text string) (domain.Message, error) {
	return s.orchestrator.PostMessage(ctx, roomID, token, sender, text)
}

func (s *RoomService) FetchMessages(ctx context.Context, roomID domain.RoomID, token domain.Token) ([]domain.Message, error) {
	return s.orchestrator.FetchMessages(ctx, roomID, token)
}

func (s *RoomService) DestroyRoom(ctx context.Context, roomID domain.RoomID, token domain.Token) error {
	return s.orchestrator.DestroyRoom(ctx, roomID, token)
}

func (s *RoomService) Subscribe(ctx context.Context, roomID domain.RoomID, token domain.Token) (Feed, error) {
	sub, err := s.orchestrator.Subscribe(ctx, roomID, token)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
