package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter implements Adapter using Redis for persistence.
// Records are stored as JSON envelopes under "<prefix>:<identity>" with
// the version number embedded in the envelope.
//
// Compare-and-save uses an optimistic WATCH/MULTI transaction: the key is
// watched, the stored version compared, and the write aborted if any other
// client touched the key in between. An aborted transaction is reported as
// ErrVersionConflict, which the ledger retries.
//
// Idle-record expiry is delegated to per-key TTLs refreshed on every
// write, so Cleanup is a no-op for this backend.
type RedisAdapter struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// redisEnvelope is the stored wire format: version plus record.
type redisEnvelope struct {
	Version int64   `json:"version"`
	Record  *Record `json:"record"`
}

// RedisAdapterOption configures a RedisAdapter.
type RedisAdapterOption func(*RedisAdapter)

// WithRedisPrefix sets the key prefix. Default "exifquarter:quota".
func WithRedisPrefix(prefix string) RedisAdapterOption {
	return func(a *RedisAdapter) {
		a.prefix = strings.Trim(prefix, ":")
	}
}

// WithRedisTTL sets the idle expiry applied to every record key on write.
// Records untouched for this long disappear on their own. Default 48h,
// twice the default reset window.
func WithRedisTTL(d time.Duration) RedisAdapterOption {
	return func(a *RedisAdapter) { a.ttl = d }
}

// NewRedisAdapter creates a Redis adapter on top of an existing client.
func NewRedisAdapter(rdb *redis.Client, opts ...RedisAdapterOption) *RedisAdapter {
	a := &RedisAdapter{
		rdb:    rdb,
		prefix: "exifquarter:quota",
		ttl:    48 * time.Hour,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *RedisAdapter) key(identity string) string {
	return a.prefix + ":" + identity
}

// Load retrieves the record and its current version.
func (a *RedisAdapter) Load(ctx context.Context, identity string) (*Record, int64, error) {
	if identity == "" {
		return nil, 0, fmt.Errorf("identity cannot be empty")
	}

	val, err := a.rdb.Get(ctx, a.key(identity)).Result()
	if err == redis.Nil {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: load: %v", ErrUnavailable, err)
	}

	var env redisEnvelope
	if err := json.Unmarshal([]byte(val), &env); err != nil || env.Record == nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Record, env.Version, nil
}

// Save persists the record unconditionally, bumping its version.
// The version bump reads the current envelope inside a watched
// transaction; a handful of attempts absorbs concurrent writers.
func (a *RedisAdapter) Save(ctx context.Context, identity string, rec *Record) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	key := a.key(identity)
	for attempt := 0; attempt < 5; attempt++ {
		err := a.rdb.Watch(ctx, func(tx *redis.Tx) error {
			version := int64(0)
			val, err := tx.Get(ctx, key).Result()
			if err != nil && err != redis.Nil {
				return err
			}
			if err == nil {
				var env redisEnvelope
				if jsonErr := json.Unmarshal([]byte(val), &env); jsonErr == nil {
					version = env.Version
				}
			}

			data, err := json.Marshal(redisEnvelope{Version: version + 1, Record: rec})
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, a.ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: save: %v", ErrUnavailable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: save: too many contended writes", ErrUnavailable)
}

// CompareAndSave persists the record only if the stored version still
// equals expectedVersion.
func (a *RedisAdapter) CompareAndSave(ctx context.Context, identity string, expectedVersion int64, rec *Record) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	key := a.key(identity)
	err := a.rdb.Watch(ctx, func(tx *redis.Tx) error {
		version := int64(0)
		val, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var env redisEnvelope
			if jsonErr := json.Unmarshal([]byte(val), &env); jsonErr == nil {
				version = env.Version
			}
		}

		if version != expectedVersion {
			return ErrVersionConflict
		}

		data, err := json.Marshal(redisEnvelope{Version: version + 1, Record: rec})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, a.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, ErrVersionConflict) || err == redis.TxFailedErr {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("%w: compare-and-save: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes the record. No-op if it does not exist.
func (a *RedisAdapter) Delete(ctx context.Context, identity string) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if err := a.rdb.Del(ctx, a.key(identity)).Err(); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	return nil
}

// Cleanup is a no-op: idle records expire through per-key TTLs.
func (a *RedisAdapter) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}

// Ping probes Redis connectivity.
func (a *RedisAdapter) Ping(ctx context.Context) error {
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying client connection.
func (a *RedisAdapter) Close() error {
	return a.rdb.Close()
}
