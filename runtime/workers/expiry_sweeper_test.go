package workers

import (
	"context"
	"ephemeral-chat/infrastructure/storage"
	"ephemeral-chat/mocks"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestExpirySweeper_Purges_Unread_Keys(t *testing.T) {
	req := require.New(t)
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := storage.NewMemoryStore(storage.WithClock(clock))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Given expiring keys nobody reads again
	for i := range 3 {
		key := fmt.Sprintf("meta:%d", i)
		req.NoError(store.HashSet(ctx, key, map[string][]byte{"a": nil}))
		req.NoError(store.Expire(ctx, key, time.Second))
	}
	req.Equal(3, store.Len())

	done := make(chan error, 1)
	go func() { done <- NewExpirySweeper(slog.Default(), store, 5*time.Millisecond).Run(ctx) }()

	// When their deadline passes
	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	// Then the sweeper drops them
	req.Eventually(func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	req.NoError(<-done)
}

func TestExpirySweeper_Returns_Store_Errors(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	sweeper := mocks.NewMockSweeper(ctrl)
	boom := fmt.Errorf("disk gone")
	sweeper.EXPECT().PurgeExpired(gomock.Any()).Return(0, boom)

	err := NewExpirySweeper(slog.Default(), sweeper, time.Millisecond).Run(context.Background())

	req.ErrorIs(err, boom)
}

func TestExpirySweeper_Stops_With_Context(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	sweeper := mocks.NewMockSweeper(ctrl)
	sweeper.EXPECT().PurgeExpired(gomock.Any()).Return(0, nil).AnyTimes()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req.NoError(NewExpirySweeper(slog.Default(), sweeper, 5*time.Millisecond).Run(ctx))
}
