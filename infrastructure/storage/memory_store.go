package storage

import (
	"context"
	"ephemeral-chat/contract"
	"ephemeral-chat/errors"
	"fmt"
	"sync"
	"time"
)

var (
	_ contract.Store   = (*MemoryStore)(nil)
	_ contract.Sweeper = (*MemoryStore)(nil)
)

type memoryEntry struct {
	kind      kind
	hash      map[string][]byte
	list      [][]byte
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is a single-process Store used by tests and local runs.
// Expired entries are reaped on access and by PurgeExpired; a long-running
// process must run the sweeper worker, keys that are never read again
// would stay in the map otherwise.
type MemoryStore struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries map[string]*memoryEntry
}

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, letting tests move time forward.
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.clock = clock }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{clock: time.Now, entries: make(map[string]*memoryEntry)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live returns the entry for key unless it is missing or expired.
// Callers must hold s.mu.
func (s *MemoryStore) live(key string) (*memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !s.clock().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) liveOfKind(key string, k kind) (*memoryEntry, error) {
	e, ok := s.live(key)
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	if e.kind != k {
		return nil, fmt.Errorf("%w: %s is a %s", errors.ErrWrongKind, key, e.kind)
	}
	return e, nil
}

func (s *MemoryStore) HashGet(ctx context.Context, key, field string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.liveOfKind(key, kindHash)
	if err != nil {
		return nil, err
	}
	v, ok := e.hash[field]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) HashGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.liveOfKind(key, kindHash)
	if err != nil {
		return nil, err
	}
	return cloneFields(e.hash), nil
}

func (s *MemoryStore) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.liveOfKind(key, kindHash)
	switch {
	case errors.Is(err, errors.ErrKeyNotFound):
		s.entries[key] = &memoryEntry{kind: kindHash, hash: cloneFields(fields)}
		return nil
	case err != nil:
		return err
	}
	e.hash = mergeFields(e.hash, fields)
	return nil
}

func (s *MemoryStore) HashUpdate(ctx context.Context, key string,
	fn func(fields map[string][]byte) (map[string][]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.liveOfKind(key, kindHash)
	if err != nil {
		return err
	}
	updated, err := fn(cloneFields(e.hash))
	if err != nil {
		return err
	}
	e.hash = cloneFields(updated)
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key)
	return ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return 0, errors.ErrKeyNotFound
	}
	if e.expiresAt.IsZero() {
		return contract.NoExpiry, nil
	}
	return e.expiresAt.Sub(s.clock()), nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return errors.ErrKeyNotFound
	}
	if ttl <= 0 {
		delete(s.entries, key)
		return nil
	}
	e.expiresAt = s.clock().Add(ttl)
	return nil
}

func (s *MemoryStore) ListAppend(ctx context.Context, key string, values ...[]byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.liveOfKind(key, kindList)
	switch {
	case errors.Is(err, errors.ErrKeyNotFound):
		e = &memoryEntry{kind: kindList}
		s.entries[key] = e
	case err != nil:
		return 0, err
	}
	e.list = append(e.list, cloneValues(values)...)
	return len(e.list), nil
}

func (s *MemoryStore) ExpireWith(ctx context.Context, key, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.live(owner)
	if !ok {
		delete(s.entries, key)
		return nil
	}
	e, ok := s.live(key)
	if !ok {
		return errors.ErrKeyNotFound
	}
	e.expiresAt = o.expiresAt
	return nil
}

func (s *MemoryStore) ListAppendTied(ctx context.Context, owner, key string, values ...[]byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.live(owner)
	if !ok {
		return 0, errors.ErrKeyNotFound
	}
	e, err := s.liveOfKind(key, kindList)
	switch {
	case errors.Is(err, errors.ErrKeyNotFound):
		e = &memoryEntry{kind: kindList}
		s.entries[key] = e
	case err != nil:
		return 0, err
	}
	e.list = append(e.list, cloneValues(values)...)
	e.expiresAt = o.expiresAt
	return len(e.list), nil
}

// PurgeExpired drops every expired entry and reports how many went.
func (s *MemoryStore) PurgeExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for key := range s.entries {
		if _, ok := s.live(key); !ok {
			purged++
		}
	}
	return purged, nil
}

// Len counts the entries held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.liveOfKind(key, kindList)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return [][]byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	from, to, ok := rangeBounds(len(e.list), start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	return cloneValues(e.list[from:to]), nil
}
