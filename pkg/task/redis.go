// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "stratus"

// maxTxRetries bounds optimistic transaction retries when a watched key
// changes underneath GetOrCreate.
const maxTxRetries = 8

// RedisStore implements Store on Redis.
//
// Layout:
//
//	<prefix>:task:<id>          JSON encoded task
//	<prefix>:context:<ctx>:open id of the context's open task
//	<prefix>:terminal           sorted set of terminal task ids scored by update time
//
// Updates run inside WATCH/MULTI so a concurrent writer aborts the transaction.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	// Client is the Redis client. Required.
	Client *redis.Client
	// Prefix namespaces keys. Defaults to DefaultRedisPrefix.
	Prefix string
}

// NewRedisStore creates a Redis-backed Store.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: opts.Client, prefix: prefix}, nil
}

func (s *RedisStore) taskKey(id string) string {
	return fmt.Sprintf("%s:task:%s", s.prefix, id)
}

func (s *RedisStore) openKey(contextID string) string {
	return fmt.Sprintf("%s:context:%s:open", s.prefix, contextID)
}

func (s *RedisStore) terminalKey() string {
	return s.prefix + ":terminal"
}

// GetOrCreate returns the open task for the context or creates one.
func (s *RedisStore) GetOrCreate(ctx context.Context, contextID string, msg Message, opts ...CreateOption) (*Task, bool, error) {
	o := applyCreateOptions(opts)

	var (
		result  *Task
		created bool
	)

	keys := []string{s.openKey(contextID)}
	if o.taskID != "" {
		keys = append(keys, s.taskKey(o.taskID))
	}

	txf := func(tx *redis.Tx) error {
		result, created = nil, false

		openID, err := tx.Get(ctx, s.openKey(contextID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if openID != "" {
			existing, err := s.load(ctx, tx, openID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if existing != nil && existing.Status.State.IsOpen() {
				result = existing
				return nil
			}
		}

		if o.taskID != "" {
			n, err := tx.Exists(ctx, s.taskKey(o.taskID)).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrConflict
			}
		}

		t := New(o.taskID, contextID, msg)
		t.Version = 1
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.taskKey(t.ID), data, 0)
			pipe.Set(ctx, s.openKey(contextID), t.ID, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result, created = t, true
		return nil
	}

	if err := s.watch(ctx, txf, keys...); err != nil {
		return nil, false, err
	}
	return result.Clone(), created, nil
}

// Get retrieves a task by ID.
func (s *RedisStore) Get(ctx context.Context, taskID string) (*Task, error) {
	return s.load(ctx, s.rdb, taskID)
}

// Update saves task changes with a version check.
func (s *RedisStore) Update(ctx context.Context, task *Task, opts ...UpdateOption) error {
	o := applyUpdateOptions(opts)
	var newVersion int64

	txf := func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		if !o.overwrite && current.Version != task.Version {
			return ErrConflict
		}

		stored := task.Clone()
		stored.Version = current.Version + 1
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}

		openID, err := tx.Get(ctx, s.openKey(stored.ContextID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.taskKey(stored.ID), data, 0)
			if stored.Status.State.IsTerminal() {
				if openID == stored.ID {
					pipe.Del(ctx, s.openKey(stored.ContextID))
				}
				pipe.ZAdd(ctx, s.terminalKey(), redis.Z{
					Score:  float64(stored.UpdatedAt.UnixMilli()),
					Member: stored.ID,
				})
			} else {
				pipe.Set(ctx, s.openKey(stored.ContextID), stored.ID, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		newVersion = stored.Version
		return nil
	}

	// A concurrent write to the task key aborts the transaction; that is a
	// version conflict unless the caller asked to overwrite.
	err := s.rdb.Watch(ctx, txf, s.taskKey(task.ID), s.openKey(task.ContextID))
	if errors.Is(err, redis.TxFailedErr) {
		if !o.overwrite {
			return ErrConflict
		}
		err = s.watch(ctx, txf, s.taskKey(task.ID), s.openKey(task.ContextID))
	}
	if err != nil {
		return err
	}
	task.Version = newVersion
	return nil
}

// Sweep deletes terminal tasks last updated before the cutoff.
func (s *RedisStore) Sweep(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.terminalKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list terminal tasks: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
		members[i] = id
	}

	var deleted *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.terminalKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sweep tasks: %w", err)
	}
	return int(deleted.Val()), nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) load(ctx context.Context, c getter, taskID string) (*Task, error) {
	data, err := c.Get(ctx, s.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &t, nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// watch runs txf under WATCH, retrying when another client touched a watched key.
func (s *RedisStore) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ErrConflict
}

var _ Store = (*RedisStore)(nil)
