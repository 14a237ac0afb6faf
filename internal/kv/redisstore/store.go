// Package redisstore backs the kv slots with Redis so several processes can
// share one flat store and one set of leases.
package redisstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AriceNn/MonEra-sub000/internal/kv"
)

const scanBatch = 100

var errChanged = errors.New("value changed")

// Store is a kv.Store over a Redis client.
type Store struct {
	client *redis.Client
}

// Open connects to the Redis server at rawURL and pings it. A bare
// host:port is accepted as well as a redis:// URL.
func Open(ctx context.Context, rawURL string) (*Store, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "redis://" + rawURL
	}
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redisstore.Open: parse url: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisstore.Open: ping: %w", err)
	}
	return &Store{client: client}, nil
}

// New wraps an existing client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Get implements the kv.Store interface.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore.Get: %s: %w", key, err)
	}
	return value, nil
}

// Set implements the kv.Store interface.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redisstore.Set: %s: %w", key, err)
	}
	return nil
}

// Delete implements the kv.Store interface.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redisstore.Delete: %s: %w", key, err)
	}
	return nil
}

// SetNX implements the kv.Store interface.
func (s *Store) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore.SetNX: %s: %w", key, err)
	}
	return ok, nil
}

// CompareAndDelete implements the kv.Store interface with WATCH so that a
// write landing between the read and the delete aborts the delete.
func (s *Store) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errChanged
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(current, old) {
			return errChanged
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errChanged), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("redisstore.CompareAndDelete: %s: %w", key, err)
	}
}

// Keys implements the kv.Store interface using SCAN.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
		seen   = make(map[string]bool)
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore.Keys: scan: %w", err)
		}
		// SCAN may return a key more than once.
		for _, key := range batch {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements the kv.Store interface.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ kv.Store = (*Store)(nil)
