// Package redis keeps work records in Redis so several processes, such as
// the daemon and the MCP server, can share a learner's progress.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/academyhq/academy/internal/domain"
)

// Config holds the connection settings for the Redis store
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // default: academy
}

// WorkRecordStore keeps one string key per assignment and a sorted set
// of assignment ids ordered by last update
type WorkRecordStore struct {
	rdb       goredis.UniversalClient
	prefix    string
	learnerID string
}

// Dial connects to Redis and verifies the connection
func Dial(ctx context.Context, cfg Config) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewWorkRecordStore creates a store scoped to learnerID
func NewWorkRecordStore(rdb goredis.UniversalClient, prefix, learnerID string) *WorkRecordStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "academy"
	}
	return &WorkRecordStore{rdb: rdb, prefix: prefix, learnerID: learnerID}
}

func (s *WorkRecordStore) recordKey(assignmentID string) string {
	return fmt.Sprintf("%s:%s:record:%s", s.prefix, s.learnerID, assignmentID)
}

func (s *WorkRecordStore) indexKey() string {
	return fmt.Sprintf("%s:%s:records", s.prefix, s.learnerID)
}

// Get returns the serialized record for an assignment
func (s *WorkRecordStore) Get(ctx context.Context, assignmentID string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.recordKey(assignmentID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Put stores the record and bumps it in the index
func (s *WorkRecordStore) Put(ctx context.Context, assignmentID string, data []byte) error {
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, s.recordKey(assignmentID), data, 0)
		p.ZAdd(ctx, s.indexKey(), goredis.Z{
			Score:  float64(time.Now().UnixMilli()),
			Member: assignmentID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// Delete removes the record and its index entry
func (s *WorkRecordStore) Delete(ctx context.Context, assignmentID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, s.recordKey(assignmentID))
		p.ZRem(ctx, s.indexKey(), assignmentID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// List returns assignment ids, most recently updated first
func (s *WorkRecordStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	return ids, nil
}
