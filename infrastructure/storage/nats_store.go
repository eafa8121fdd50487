package storage

import (
	"context"
	"ephemeral-chat/contract"
	"ephemeral-chat/errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var _ contract.Store = (*NatsStore)(nil)

var errRevisionConflict = fmt.Errorf("revision conflict")

// kvEntry is the value stored under every bucket key. Deadline is in unix
// milliseconds, 0 meaning none.
type kvEntry struct {
	Rec      record `cbor:"rec"`
	Deadline int64  `cbor:"deadline,omitempty"`
}

func (e kvEntry) expired(now time.Time) bool {
	return e.Deadline != 0 && now.UnixMilli() >= e.Deadline
}

// kvBucket is the part of a JetStream key-value bucket the store relies on.
// A put with revision 0 creates the key; any other revision must match the
// current one or errRevisionConflict is returned.
type kvBucket interface {
	get(ctx context.Context, key string) ([]byte, uint64, error)
	put(ctx context.Context, key string, value []byte, revision uint64) error
	purge(ctx context.Context, key string) error
}

type jetstreamBucket struct {
	kv jetstream.KeyValue
}

func (b jetstreamBucket) get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := b.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, errors.ErrKeyNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

func (b jetstreamBucket) put(ctx context.Context, key string, value []byte, revision uint64) error {
	var err error
	if revision == 0 {
		_, err = b.kv.Create(ctx, key, value)
	} else {
		_, err = b.kv.Update(ctx, key, value, revision)
	}
	if err != nil && (errors.Is(err, jetstream.ErrKeyExists) || strings.Contains(err.Error(), "wrong last sequence")) {
		return errRevisionConflict
	}
	return err
}

func (b jetstreamBucket) purge(ctx context.Context, key string) error {
	err := b.kv.Purge(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// NatsStore implements contract.Store on a JetStream key-value bucket, so
// every instance bound to the same bucket sees the same rooms.
// Each key holds one CBOR kvEntry carrying its logical deadline; the bucket
// max age purges what nobody touches again, so it must be at least the
// longest TTL handed to Expire. Writes are compare-and-set on the key
// revision and replayed from a fresh read when another writer got there
// first.
type NatsStore struct {
	bucket     kvBucket
	log        *slog.Logger
	now        func() time.Time
	maxRetries int
}

type NatsOption func(*NatsStore)

// WithNatsClock replaces time.Now for deadline checks.
func WithNatsClock(now func() time.Time) NatsOption {
	return func(s *NatsStore) { s.now = now }
}

// OpenNatsStore binds to bucket, creating it on first use.
func OpenNatsStore(ctx context.Context, nc *nats.Conn, bucket string, maxAge time.Duration,
	log *slog.Logger, opts ...NatsOption) (*NatsStore, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		TTL:     maxAge,
		Storage: jetstream.FileStorage,
	})
	if errors.Is(err, jetstream.ErrBucketExists) {
		log.Warn("KV bucket exists with another configuration, binding as is", "bucket", bucket)
		kv, err = js.KeyValue(ctx, bucket)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket %s: %w", bucket, err)
	}
	log.Info("Bound to KV bucket", "bucket", bucket, "max_age", maxAge)
	return NewNatsStore(kv, log, opts...), nil
}

func NewNatsStore(kv jetstream.KeyValue, log *slog.Logger, opts ...NatsOption) *NatsStore {
	return newNatsStore(jetstreamBucket{kv: kv}, log, opts...)
}

func newNatsStore(bucket kvBucket, log *slog.Logger, opts ...NatsOption) *NatsStore {
	s := &NatsStore{bucket: bucket, log: log, now: time.Now, maxRetries: defaultConflictRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// bucketKey maps a store key onto the bucket alphabet, where ':' is not
// allowed and '.' separates tokens.
func bucketKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

// read returns the live entry under key with its revision. An expired entry
// reports ErrKeyNotFound but keeps its revision so it can be overwritten.
func (s *NatsStore) read(ctx context.Context, key string) (kvEntry, uint64, error) {
	value, rev, err := s.bucket.get(ctx, bucketKey(key))
	if errors.Is(err, errors.ErrKeyNotFound) {
		return kvEntry{}, 0, errors.ErrKeyNotFound
	}
	if err != nil {
		return kvEntry{}, 0, transient("get", key, err)
	}
	var e kvEntry
	if err := cbor.Unmarshal(value, &e); err != nil {
		return kvEntry{}, rev, transient("decode", key, err)
	}
	if e.expired(s.now()) {
		return kvEntry{}, rev, errors.ErrKeyNotFound
	}
	return e, rev, nil
}

func (s *NatsStore) readKind(ctx context.Context, key string, k kind) (kvEntry, uint64, error) {
	e, rev, err := s.read(ctx, key)
	if err != nil {
		return e, rev, err
	}
	if e.Rec.Kind != k {
		return e, rev, fmt.Errorf("%w: %s is a %s", errors.ErrWrongKind, key, e.Rec.Kind)
	}
	return e, rev, nil
}

func (s *NatsStore) write(ctx context.Context, key string, e kvEntry, rev uint64) error {
	data, err := cbor.Marshal(e)
	if err != nil {
		return transient("encode", key, err)
	}
	err = s.bucket.put(ctx, bucketKey(key), data, rev)
	if err != nil && !errors.Is(err, errRevisionConflict) {
		return transient("put", key, err)
	}
	return err
}

func (s *NatsStore) purge(ctx context.Context, key string) error {
	if err := s.bucket.purge(ctx, bucketKey(key)); err != nil {
		return transient("purge", key, err)
	}
	return nil
}

// mutate runs fn until its write lands on the revision it read.
func (s *NatsStore) mutate(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if !errors.Is(err, errRevisionConflict) {
			return err
		}
		if attempt >= s.maxRetries {
			return transient("update", "", err)
		}
		s.log.Debug("KV revision conflict, replaying", "attempt", attempt)
	}
}

func (s *NatsStore) HashGet(ctx context.Context, key, field string) ([]byte, error) {
	e, _, err := s.readKind(ctx, key, kindHash)
	if err != nil {
		return nil, err
	}
	v, ok := e.Rec.Hash[field]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	return v, nil
}

func (s *NatsStore) HashGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	e, _, err := s.readKind(ctx, key, kindHash)
	if err != nil {
		return nil, err
	}
	return cloneFields(e.Rec.Hash), nil
}

func (s *NatsStore) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	return s.mutate(ctx, func() error {
		e, rev, err := s.readKind(ctx, key, kindHash)
		if errors.Is(err, errors.ErrKeyNotFound) {
			e, err = kvEntry{Rec: record{Kind: kindHash}}, nil
		}
		if err != nil {
			return err
		}
		e.Rec.Hash = mergeFields(e.Rec.Hash, fields)
		return s.write(ctx, key, e, rev)
	})
}

func (s *NatsStore) HashUpdate(ctx context.Context, key string,
	fn func(fields map[string][]byte) (map[string][]byte, error)) error {
	return s.mutate(ctx, func() error {
		e, rev, err := s.readKind(ctx, key, kindHash)
		if err != nil {
			return err
		}
		updated, err := fn(cloneFields(e.Rec.Hash))
		if err != nil {
			return err
		}
		e.Rec.Hash = cloneFields(updated)
		return s.write(ctx, key, e, rev)
	})
}

func (s *NatsStore) Exists(ctx context.Context, key string) (bool, error) {
	_, _, err := s.read(ctx, key)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *NatsStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.purge(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *NatsStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	e, _, err := s.read(ctx, key)
	if err != nil {
		return 0, err
	}
	if e.Deadline == 0 {
		return contract.NoExpiry, nil
	}
	return time.UnixMilli(e.Deadline).Sub(s.now()), nil
}

func (s *NatsStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.mutate(ctx, func() error {
		e, rev, err := s.read(ctx, key)
		if err != nil {
			return err
		}
		if ttl <= 0 {
			return s.purge(ctx, key)
		}
		e.Deadline = deadlineMillis(s.now().Add(ttl))
		return s.write(ctx, key, e, rev)
	})
}

// deadlineMillis rounds up so a key never expires before its ttl.
func deadlineMillis(at time.Time) int64 {
	ms := at.UnixMilli()
	if at.Nanosecond()%int(time.Millisecond) > 0 {
		ms++
	}
	return ms
}

func (s *NatsStore) ExpireWith(ctx context.Context, key, owner string) error {
	return s.mutate(ctx, func() error {
		o, _, err := s.read(ctx, owner)
		if errors.Is(err, errors.ErrKeyNotFound) {
			return s.purge(ctx, key)
		}
		if err != nil {
			return err
		}
		e, rev, err := s.read(ctx, key)
		if err != nil {
			return err
		}
		e.Deadline = o.Deadline
		return s.write(ctx, key, e, rev)
	})
}

func (s *NatsStore) ListAppend(ctx context.Context, key string, values ...[]byte) (int, error) {
	length := 0
	err := s.mutate(ctx, func() error {
		e, rev, err := s.readKind(ctx, key, kindList)
		if errors.Is(err, errors.ErrKeyNotFound) {
			e, err = kvEntry{Rec: record{Kind: kindList}}, nil
		}
		if err != nil {
			return err
		}
		e.Rec.List = append(e.Rec.List, cloneValues(values)...)
		length = len(e.Rec.List)
		return s.write(ctx, key, e, rev)
	})
	return length, err
}

// ListAppendTied writes the list with the deadline owner had when read. The
// bucket has no multi-key transaction, so owner is read again after the
// write and the list is purged if owner vanished in between.
func (s *NatsStore) ListAppendTied(ctx context.Context, owner, key string, values ...[]byte) (int, error) {
	length := 0
	err := s.mutate(ctx, func() error {
		o, _, err := s.read(ctx, owner)
		if err != nil {
			return err
		}
		e, rev, err := s.readKind(ctx, key, kindList)
		if errors.Is(err, errors.ErrKeyNotFound) {
			e, err = kvEntry{Rec: record{Kind: kindList}}, nil
		}
		if err != nil {
			return err
		}
		e.Rec.List = append(e.Rec.List, cloneValues(values)...)
		e.Deadline = o.Deadline
		length = len(e.Rec.List)
		return s.write(ctx, key, e, rev)
	})
	if err != nil {
		return 0, err
	}
	if _, _, err := s.read(ctx, owner); errors.Is(err, errors.ErrKeyNotFound) {
		s.log.Debug("Owner vanished during append, dropping list", "owner", owner, "key", key)
		if err := s.purge(ctx, key); err != nil {
			return 0, err
		}
		return 0, errors.ErrKeyNotFound
	}
	return length, nil
}

func (s *NatsStore) ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	e, _, err := s.readKind(ctx, key, kindList)
	if errors.Is(err, errors.ErrKeyNotFound) {
		return [][]byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	from, to, ok := rangeBounds(len(e.Rec.List), start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	return cloneValues(e.Rec.List[from:to]), nil
}
