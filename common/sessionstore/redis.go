package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	redisWrapper "github.com/lyzr/convertd/common/redis"
)

const (
	sessionKeyPrefix = "session:"
	expiryIndexKey   = "sessions:by_expiry"
	processingSetKey = "sessions:processing"
	queuedListKey    = "sessions:queued"

	// casMaxRetries bounds WATCH retries before reporting a conflict
	casMaxRetries = 5
)

// RedisStore persists sessions as TTL'd JSON records. Two secondary
// indexes back the reaper and watchdog: a sorted set scored by expires_at
// and a sorted set of processing sessions scored by last heartbeat. The
// queued-session list is durable, so queue depth survives restarts.
type RedisStore struct {
	client *redisWrapper.Client
	log    redisWrapper.Logger

	// reapGrace pads the record key TTL past expires_at so the reaper can
	// delete blobs before the record vanishes; the key TTL is only a
	// backstop against a dead reaper.
	reapGrace time.Duration
}

// NewRedisStore creates a Redis-backed session store
func NewRedisStore(client *redisWrapper.Client, reapGrace time.Duration, log redisWrapper.Logger) *RedisStore {
	if reapGrace <= 0 {
		reapGrace = time.Hour
	}
	return &RedisStore{
		client:    client,
		log:       log,
		reapGrace: reapGrace,
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisStore) recordTTL(sess *Session) time.Duration {
	ttl := time.Until(sess.ExpiresAt) + s.reapGrace
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

// Create persists a new session record and indexes it for expiry
func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	if err := sess.checkInvariants(); err != nil {
		return err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.ID, err)
	}

	wasSet, err := s.client.SetNX(ctx, sessionKey(sess.ID), string(data), s.recordTTL(sess))
	if err != nil {
		return err
	}
	if !wasSet {
		return fmt.Errorf("session %s already exists", sess.ID)
	}

	if err := s.client.AddToSortedSet(ctx, expiryIndexKey, sess.ID, float64(sess.ExpiresAt.Unix())); err != nil {
		return err
	}

	s.log.Debug("session created", "session_id", sess.ID, "expires_at", sess.ExpiresAt)
	return nil
}

// Get returns the current record, or ErrNotFound
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, found, err := s.client.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &sess, nil
}

// CompareAndTransition performs an optimistic WATCH transaction on the
// session key. A concurrent writer aborts the transaction and we retry;
// a state mismatch is reported as ErrConflict without side effects.
func (s *RedisStore) CompareAndTransition(ctx context.Context, id string, expected, next State, mut Mutator) (*Session, error) {
	key := sessionKey(id)
	rdb := s.client.GetUnderlying()

	var out *Session

	txn := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err == goredis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get session %s: %w", id, err)
		}

		var sess Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return fmt.Errorf("unmarshal session %s: %w", id, err)
		}

		if sess.State != expected {
			return ErrConflict
		}

		sess.State = next
		sess.UpdatedAt = time.Now().UTC()
		if mut != nil {
			mut(&sess)
		}

		if err := sess.checkInvariants(); err != nil {
			return err
		}

		data, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("marshal session %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.recordTTL(&sess))
			pipe.ZAdd(ctx, expiryIndexKey, goredis.Z{
				Score:  float64(sess.ExpiresAt.Unix()),
				Member: sess.ID,
			})
			if sess.State == StateProcessing {
				pipe.ZAdd(ctx, processingSetKey, goredis.Z{
					Score:  float64(sess.UpdatedAt.Unix()),
					Member: sess.ID,
				})
			} else {
				pipe.ZRem(ctx, processingSetKey, sess.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		out = &sess
		return nil
	}

	for i := 0; i < casMaxRetries; i++ {
		err := rdb.Watch(ctx, txn, key)
		if errors.Is(err, goredis.TxFailedErr) {
			// Lost the optimistic lock to a concurrent writer; re-read
			continue
		}
		if err != nil {
			return nil, err
		}
		s.log.Debug("session transition",
			"session_id", id, "from", expected, "to", out.State)
		return out, nil
	}

	return nil, ErrConflict
}

// Enqueue appends the id to the durable queued list
func (s *RedisStore) Enqueue(ctx context.Context, id string) error {
	return s.client.PushToList(ctx, queuedListKey, id)
}

// NextQueued pops the oldest queued id, blocking up to wait
func (s *RedisStore) NextQueued(ctx context.Context, wait time.Duration) (string, error) {
	result, err := s.client.BlockingPopList(ctx, wait, queuedListKey)
	if err != nil {
		return "", err
	}
	if len(result) < 2 {
		return "", nil
	}
	return result[1], nil
}

// ListExpired returns ids whose expires_at has passed
func (s *RedisStore) ListExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return s.client.RangeSortedSetByScore(ctx, expiryIndexKey, float64(now.Unix()), limit)
}

// ListStuck returns processing ids whose heartbeat is at or before cutoff
func (s *RedisStore) ListStuck(ctx context.Context, cutoff time.Time, limit int64) ([]string, error) {
	return s.client.RangeSortedSetByScore(ctx, processingSetKey, float64(cutoff.Unix()), limit)
}

// Delete removes the record and all index entries
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Delete(ctx, sessionKey(id)); err != nil {
		return err
	}
	if err := s.client.RemoveFromSortedSet(ctx, expiryIndexKey, id); err != nil {
		return err
	}
	return s.client.RemoveFromSortedSet(ctx, processingSetKey, id)
}
