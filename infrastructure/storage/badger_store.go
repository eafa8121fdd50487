package storage

import (
	"context"
	"ephemeral-chat/contract"
	"ephemeral-chat/errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

var _ contract.Store = (*BadgerStore)(nil)

const defaultConflictRetries = 16

// record is the value stored under every Badger key.
// Badger has no native hash or list type, so the whole structure is
// encoded as one CBOR document and rewritten on every mutation. Room
// state is tiny and short-lived, which keeps this cheap.
type record struct {
	Kind kind              `cbor:"kind"`
	Hash map[string][]byte `cbor:"hash,omitempty"`
	List [][]byte          `cbor:"list,omitempty"`
}

// BadgerStore implements contract.Store on top of BadgerDB.
// TTLs map onto Badger's per-entry ExpiresAt (second granularity).
// Mutations run in serializable transactions; a commit rejected with
// badger.ErrConflict never landed, so it is replayed from a fresh read.
type BadgerStore struct {
	db         *badger.DB
	log        *slog.Logger
	maxRetries int
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log, maxRetries: defaultConflictRetries}
}

func transient(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", errors.ErrTransientStore, op, key, err)
}

// load reads and decodes key inside txn.
func load(txn *badger.Txn, key string) (record, uint64, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record{}, 0, errors.ErrKeyNotFound
	}
	if err != nil {
		return record{}, 0, transient("get", key, err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return record{}, 0, transient("read", key, err)
	}
	var rec record
	if err := cbor.Unmarshal(val, &rec); err != nil {
		return record{}, 0, transient("decode", key, err)
	}
	return rec, item.ExpiresAt(), nil
}

func loadKind(txn *badger.Txn, key string, k kind) (record, uint64, error) {
	rec, expiresAt, err := load(txn, key)
	if err != nil {
		return rec, expiresAt, err
	}
	if rec.Kind != k {
		return rec, expiresAt, fmt.Errorf("%w: %s is a %s", errors.ErrWrongKind, key, rec.Kind)
	}
	return rec, expiresAt, nil
}

// save writes rec with an absolute unix-second deadline, 0 meaning none.
func save(txn *badger.Txn, key string, rec record, expiresAt uint64) error {
	data, err := cbor.Marshal(rec)
	if err != nil {
		return transient("encode", key, err)
	}
	entry := badger.NewEntry([]byte(key), data)
	entry.ExpiresAt = expiresAt
	if err := txn.SetEntry(entry); err != nil {
		return transient("set", key, err)
	}
	return nil
}

func (s *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// update runs fn in a read-write transaction, replaying it on conflicts.
// Errors returned by fn are passed through untouched; commit failures are
// reported as transient.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var fnErr error
		commitErr := func() error {
			txn := s.db.NewTransaction(true)
			defer txn.Discard()
			if fnErr = fn(txn); fnErr != nil {
				return nil
			}
			return txn.Commit()
		}()
		switch {
		case fnErr != nil:
			return fnErr
		case commitErr == nil:
			return nil
		case !errors.Is(commitErr, badger.ErrConflict):
			return transient("commit", "", commitErr)
		case attempt >= s.maxRetries:
			return transient("commit", "", commitErr)
		}
		s.log.Debug("Badger transaction conflict, replaying", "attempt", attempt)
	}
}

func (s *BadgerStore) HashGet(ctx context.Context, key, field string) ([]byte, error) {
	var value []byte
	err := s.view(ctx, func(txn *badger.Txn) error {
		rec, _, err := loadKind(txn, key, kindHash)
		if err != nil {
			return err
		}
		v, ok := rec.Hash[field]
		if !ok {
			return errors.ErrKeyNotFound
		}
		value = v
		return nil
	})
	return value, err
}

func (s *BadgerStore) HashGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	var fields map[string][]byte
	err := s.view(ctx, func(txn *badger.Txn) error {
		rec, _, err := loadKind(txn, key, kindHash)
		if err != nil {
			return err
		}
		fields = cloneFields(rec.Hash)
		return nil
	})
	return fields, err
}

func (s *BadgerStore) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, expiresAt, err := loadKind(txn, key, kindHash)
		if errors.Is(err, errors.ErrKeyNotFound) {
			rec, expiresAt, err = record{Kind: kindHash}, 0, nil
		}
		if err != nil {
			return err
		}
		rec.Hash = mergeFields(rec.Hash, fields)
		return save(txn, key, rec, expiresAt)
	})
}

func (s *BadgerStore) HashUpdate(ctx context.Context, key string,
	fn func(fields map[string][]byte) (map[string][]byte, error)) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, expiresAt, err := loadKind(txn, key, kindHash)
		if err != nil {
			return err
		}
		updated, err := fn(cloneFields(rec.Hash))
		if err != nil {
			return err
		}
		rec.Hash = cloneFields(updated)
		return save(txn, key, rec, expiresAt)
	})
}

func (s *BadgerStore) Exists(ctx context.Context, key string) (bool, error) {
	found := false
	err := s.view(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		case err != nil:
			return transient("exists", key, err)
		}
		found = true
		return nil
	})
	return found, err
}

func (s *BadgerStore) Delete(ctx context.Context, keys ...string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return transient("delete", key, err)
			}
		}
		return nil
	})
}

func (s *BadgerStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := s.view(ctx, func(txn *badger.Txn) error {
		_, expiresAt, err := load(txn, key)
		if err != nil {
			return err
		}
		if expiresAt == 0 {
			ttl = contract.NoExpiry
			return nil
		}
		ttl = time.Until(time.Unix(int64(expiresAt), 0))
		if ttl <= 0 {
			return errors.ErrKeyNotFound
		}
		return nil
	})
	return ttl, err
}

func (s *BadgerStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, _, err := load(txn, key)
		if err != nil {
			return err
		}
		if ttl <= 0 {
			if err := txn.Delete([]byte(key)); err != nil {
				return transient("delete", key, err)
			}
			return nil
		}
		return save(txn, key, rec, deadline(time.Now().Add(ttl)))
	})
}

// deadline rounds up to Badger's whole seconds so a key never expires
// before the ttl it was given.
func deadline(at time.Time) uint64 {
	secs := at.Unix()
	if at.Nanosecond() > 0 {
		secs++
	}
	return uint64(secs)
}

func (s *BadgerStore) ExpireWith(ctx context.Context, key, owner string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		_, ownerExpiresAt, err := load(txn, owner)
		if errors.Is(err, errors.ErrKeyNotFound) {
			if err := txn.Delete([]byte(key)); err != nil {
				return transient("delete", key, err)
			}
			return nil
		}
		if err != nil {
			return err
		}
		rec, _, err := load(txn, key)
		if err != nil {
			return err
		}
		return save(txn, key, rec, ownerExpiresAt)
	})
}

func (s *BadgerStore) ListAppend(ctx context.Context, key string, values ...[]byte) (int, error) {
	length := 0
	err := s.update(ctx, func(txn *badger.Txn) error {
		rec, expiresAt, err := loadKind(txn, key, kindList)
		if errors.Is(err, errors.ErrKeyNotFound) {
			rec, expiresAt, err = record{Kind: kindList}, 0, nil
		}
		if err != nil {
			return err
		}
		rec.List = append(rec.List, cloneValues(values)...)
		length = len(rec.List)
		return save(txn, key, rec, expiresAt)
	})
	return length, err
}

// ListAppendTied reads owner inside the write transaction, so a concurrent
// delete of owner turns into a conflict and the append is replayed against
// the new state.
func (s *BadgerStore) ListAppendTied(ctx context.Context, owner, key string, values ...[]byte) (int, error) {
	length := 0
	err := s.update(ctx, func(txn *badger.Txn) error {
		_, ownerExpiresAt, err := load(txn, owner)
		if err != nil {
			return err
		}
		rec, _, err := loadKind(txn, key, kindList)
		if errors.Is(err, errors.ErrKeyNotFound) {
			rec, err = record{Kind: kindList}, nil
		}
		if err != nil {
			return err
		}
		rec.List = append(rec.List, cloneValues(values)...)
		length = len(rec.List)
		return save(txn, key, rec, ownerExpiresAt)
	})
	return length, err
}

func (s *BadgerStore) ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	values := [][]byte{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		rec, _, err := loadKind(txn, key, kindList)
		if errors.Is(err, errors.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		from, to, ok := rangeBounds(len(rec.List), start, stop)
		if ok {
			values = cloneValues(rec.List[from:to])
		}
		return nil
	})
	return values, err
}

// EntryInfo summarises one stored key for inspection tooling.
type EntryInfo struct {
	Key       string
	Kind      string
	Size      int
	ExpiresAt time.Time
}

// Inspect lists the live keys starting with prefix.
func Inspect(db *badger.DB, prefix string) ([]EntryInfo, error) {
	var infos []EntryInfo
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			info := EntryInfo{Key: string(item.KeyCopy(nil)), Kind: "unknown"}
			if exp := item.ExpiresAt(); exp != 0 {
				info.ExpiresAt = time.Unix(int64(exp), 0)
			}
			err := item.Value(func(val []byte) error {
				var rec record
				if err := cbor.Unmarshal(val, &rec); err != nil {
					return nil
				}
				info.Kind = rec.Kind.String()
				info.Size = len(rec.Hash) + len(rec.List)
				return nil
			})
			if err != nil {
				return err
			}
			infos = append(infos, info)
		}
		return nil
	})
	return infos, err
}
