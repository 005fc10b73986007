package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

// RedisStore keeps each record under "<prefix>:<set>:<id>" as snappy
// compressed JSON.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	scanCount int64
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if logger != nil {
		logger.Info("redis store initialized", "addr", cfg.Addr, "db", cfg.DB, "prefix", cfg.Prefix)
	}
	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "riskwatch"
	}
	return &RedisStore{client: client, prefix: prefix, scanCount: 500}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(set, id string) string {
	return s.prefix + ":" + set + ":" + id
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Scan walks the set with SCAN and fetches each page with one MGET.
func (s *RedisStore) Scan(ctx context.Context, set string) ([]Entry, error) {
	setPrefix := s.key(set, "")
	var (
		out    []Entry
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, setPrefix+"*", s.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s failed: %w", set, err)
		}
		if len(keys) > 0 {
			vals, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("redis mget %s failed: %w", set, err)
			}
			for i, v := range vals {
				rec, ok, err := decodeRedisValue(v)
				if err != nil {
					rec, ok = corruptRecord(set, err), true
				}
				if !ok {
					// deleted between SCAN and MGET
					continue
				}
				out = append(out, Entry{ID: strings.TrimPrefix(keys[i], setPrefix), Record: rec})
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	// SCAN may return a key more than once
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	deduped := out[:0]
	for i, e := range out {
		if i > 0 && out[i-1].ID == e.ID {
			continue
		}
		deduped = append(deduped, e)
	}
	return deduped, nil
}

func (s *RedisStore) BatchGet(ctx context.Context, set string, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(set, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget %s failed: %w", set, err)
	}
	for i, v := range vals {
		rec, ok, err := decodeRedisValue(v)
		if err != nil {
			rec, ok = corruptRecord(set, err), true
		}
		if !ok {
			out[ids[i]] = nil
			continue
		}
		out[ids[i]] = rec
	}
	return out, nil
}

// BatchPut writes every entry in one pipeline.
func (s *RedisStore) BatchPut(ctx context.Context, set string, entries []Entry) (BatchResult, error) {
	var result BatchResult
	if len(entries) == 0 {
		return result, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StatusCmd, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		data, err := encodeCompressed(e.Record)
		if err != nil {
			result.Failed = append(result.Failed, e.ID)
			continue
		}
		cmds[e.ID] = pipe.Set(ctx, s.key(set, e.ID), data, 0)
		order = append(order, e.ID)
	}
	if len(order) == 0 {
		return result, nil
	}

	_, execErr := pipe.Exec(ctx)
	for _, id := range order {
		if err := cmds[id].Err(); err != nil {
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Succeeded++
	}
	if execErr != nil && result.Succeeded == 0 {
		return result, fmt.Errorf("redis pipeline %s failed: %w", set, execErr)
	}
	return result, nil
}

func (s *RedisStore) Get(ctx context.Context, set, id string) (Record, error) {
	data, err := s.client.Get(ctx, s.key(set, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return decodeCompressed(data)
}

func (s *RedisStore) Put(ctx context.Context, set, id string, rec Record) error {
	data, err := encodeCompressed(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(set, id), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Truncate(ctx context.Context, set string) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.key(set, "")+"*", s.scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s failed: %w", set, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis delete failed: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// decodeRedisValue turns one MGET slot into a record. ok is false for
// missing keys.
func decodeRedisValue(v any) (Record, bool, error) {
	switch t := v.(type) {
	case nil:
		return nil, false, nil
	case string:
		rec, err := decodeCompressed([]byte(t))
		if err != nil {
			return nil, false, err
		}
		return rec, true, nil
	default:
		return nil, false, fmt.Errorf("kvstore: unexpected redis value type %T", v)
	}
}
