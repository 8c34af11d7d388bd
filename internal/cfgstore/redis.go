// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package cfgstore persists module and subgraph configuration issued by
// register-cfg/set-cfg commands, keyed so a retried command (the client
// resending a register-cfg after a dropped ack) is idempotent.
package cfgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RegisterCfgKey identifies one module's configuration blob within a
// container instance.
type RegisterCfgKey struct {
	ContainerID uint32
	ModuleID    uint32
	ParamID     uint32
}

// Registry is the backend-agnostic surface the container's config-opcode
// handlers dispatch into; both RedisRegistry and PostgresRegistry satisfy
// it.
type Registry interface {
	RegisterCfg(ctx context.Context, key RegisterCfgKey, commitID string, payload []byte) error
	DeregisterCfg(ctx context.Context, key RegisterCfgKey) error
	GetCfg(ctx context.Context, key RegisterCfgKey) ([]byte, error)
	SetCfg(ctx context.Context, key RegisterCfgKey, payload []byte) error
}

func (k RegisterCfgKey) redisHashKey() string {
	return fmt.Sprintf("gc:cfg:%d:%d", k.ContainerID, k.ModuleID)
}

func (k RegisterCfgKey) redisField() string {
	return fmt.Sprintf("%d", k.ParamID)
}

func (k RegisterCfgKey) redisMarkerKey(commitID string) string {
	return fmt.Sprintf("gc:cfgmark:%d:%d:%d:%s", k.ContainerID, k.ModuleID, k.ParamID, commitID)
}

// registerCfgScript is the idempotent register-cfg apply: SETNX the
// commit marker, and only on first-ever application write the payload
// into the per-container config hash. A retried register-cfg for a
// commit ID that already landed is a no-op, matching the at-least-once
// redelivery semantics of the command queue.
const registerCfgScript = `
local hashKey = KEYS[1]
local field = KEYS[2]
local markerKey = KEYS[3]
local payload = ARGV[1]
local ttlSeconds = tonumber(ARGV[2])
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  redis.call('HSET', hashKey, field, payload)
  if ttlSeconds and ttlSeconds > 0 then
    redis.call('EXPIRE', markerKey, ttlSeconds)
  end
  return 1
else
  return 0
end
`

// RedisRegistry is the Redis-backed config registry.
type RedisRegistry struct {
	client    redis.Cmdable
	markerTTL time.Duration
}

// NewRedisRegistry returns a registry with the given client and commit
// marker TTL; markerTTL bounds marker growth, comfortably larger than any
// client's retry window.
func NewRedisRegistry(client redis.Cmdable, markerTTL time.Duration) *RedisRegistry {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisRegistry{client: client, markerTTL: markerTTL}
}

// RegisterCfg idempotently applies a register-cfg command identified by
// commitID: only the first delivery of a given commitID writes the
// payload.
func (r *RedisRegistry) RegisterCfg(ctx context.Context, key RegisterCfgKey, commitID string, payload []byte) error {
	keys := []string{key.redisHashKey(), key.redisField(), key.redisMarkerKey(commitID)}
	args := []interface{}{payload, int(r.markerTTL.Seconds())}
	_, err := r.client.Eval(ctx, registerCfgScript, keys, args...).Result()
	if err != nil {
		return fmt.Errorf("cfgstore: redis register-cfg %+v: %w", key, err)
	}
	return nil
}

// DeregisterCfg removes a module's parameter entry.
func (r *RedisRegistry) DeregisterCfg(ctx context.Context, key RegisterCfgKey) error {
	if err := r.client.HDel(ctx, key.redisHashKey(), key.redisField()).Err(); err != nil {
		return fmt.Errorf("cfgstore: redis deregister-cfg %+v: %w", key, err)
	}
	return nil
}

// GetCfg fetches the currently registered payload, or nil if none.
func (r *RedisRegistry) GetCfg(ctx context.Context, key RegisterCfgKey) ([]byte, error) {
	v, err := r.client.HGet(ctx, key.redisHashKey(), key.redisField()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cfgstore: redis get-cfg %+v: %w", key, err)
	}
	return v, nil
}

// SetCfg overwrites a module's parameter entry unconditionally, bypassing
// the idempotency marker — used for client-driven runtime set-cfg, which
// is expected to apply every time, not just once.
func (r *RedisRegistry) SetCfg(ctx context.Context, key RegisterCfgKey, payload []byte) error {
	if err := r.client.HSet(ctx, key.redisHashKey(), key.redisField(), payload).Err(); err != nil {
		return fmt.Errorf("cfgstore: redis set-cfg %+v: %w", key, err)
	}
	return nil
}
