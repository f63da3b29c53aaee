// SPDX-License-Identifier: MIT

package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisInstancePrefix = "enginemgr:inst:"
	redisInstanceSet    = "enginemgr:instances"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// RedisStore lets several manager replicas share one instance store.
// Writes use WATCH/MULTI so a concurrent writer forces a retry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings the server.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// HealthCheck checks if Redis is available.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func redisKey(id string) string {
	return redisInstancePrefix + id
}

func getRedisInstance(ctx context.Context, c redis.Cmdable, key string) (*Instance, error) {
	val, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	var inst Instance
	if err := json.Unmarshal(val, &inst); err != nil {
		return nil, fmt.Errorf("decode instance: %w", err)
	}
	return &inst, nil
}

func (s *RedisStore) Create(ctx context.Context, inst *Instance) error {
	key := redisKey(inst.ID)
	cp := inst.Clone()
	cp.Version = 1
	buf, err := json.Marshal(cp)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		cur, err := getRedisInstance(ctx, tx, key)
		switch {
		case errors.Is(err, ErrInstanceNotFound):
		case err != nil:
			return err
		case !cur.Status.IsTerminal():
			return ErrInstanceExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, 0)
			pipe.SAdd(ctx, redisInstanceSet, inst.ID)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	inst.Version = 1
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Instance, error) {
	return getRedisInstance(ctx, s.client, redisKey(id))
}

func (s *RedisStore) Update(ctx context.Context, id string, fn func(*Instance) error) (*Instance, error) {
	key := redisKey(id)
	var out *Instance

	txf := func(tx *redis.Tx) error {
		cur, err := getRedisInstance(ctx, tx, key)
		if err != nil {
			return err
		}
		prev := cur.Version
		if err := fn(cur); err != nil {
			return err
		}
		cur.ID = id
		cur.Version = prev + 1
		buf, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, 0)
			return nil
		})
		if err == nil {
			out = cur
		}
		return err
	}

	var err error
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) List(ctx context.Context, q Query) ([]*Instance, error) {
	ids, err := s.client.SMembers(ctx, redisInstanceSet).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var out []*Instance
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}
		var inst Instance
		if err := json.Unmarshal([]byte(str), &inst); err != nil {
			return nil, fmt.Errorf("decode instance: %w", err)
		}
		if q.Matches(&inst) {
			out = append(out, &inst)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKey(id))
		pipe.SRem(ctx, redisInstanceSet, id)
		return nil
	})
	return err
}

var _ Store = (*RedisStore)(nil)
