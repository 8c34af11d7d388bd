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

package cfgstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS module_cfg (
//   container_id BIGINT NOT NULL,
//   module_id    BIGINT NOT NULL,
//   param_id     BIGINT NOT NULL,
//   payload      BYTEA NOT NULL,
//   PRIMARY KEY (container_id, module_id, param_id)
// );
//
// CREATE TABLE IF NOT EXISTS applied_cfg_commits (
//   commit_id TEXT PRIMARY KEY,
//   container_id BIGINT NOT NULL,
//   module_id BIGINT NOT NULL,
//   param_id BIGINT NOT NULL,
//   ts TIMESTAMPTZ NOT NULL DEFAULT now()
// );

// PostgresRegistry is a durable catalog of module/subgraph configuration,
// an optional second tier behind RedisRegistry for deployments that want
// config to survive a full Redis flush.
type PostgresRegistry struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db, defaultTimeout: 10 * time.Second}
}

func (p *PostgresRegistry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok || p.defaultTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.defaultTimeout)
}

// RegisterCfg applies a register-cfg command idempotently: insert the
// commit marker first (ON CONFLICT DO NOTHING), then update the config
// row only if that insert actually happened. A retried commitID is a
// no-op since the marker insert affects zero rows the second time.
func (p *PostgresRegistry) RegisterCfg(ctx context.Context, key RegisterCfgKey, commitID string, payload []byte) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("cfgstore: postgres begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO applied_cfg_commits(commit_id, container_id, module_id, param_id)
		 VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`,
		commitID, key.ContainerID, key.ModuleID, key.ParamID)
	if err != nil {
		return fmt.Errorf("cfgstore: postgres insert marker: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO module_cfg(container_id, module_id, param_id, payload)
			 VALUES ($1,$2,$3,$4)
			 ON CONFLICT (container_id, module_id, param_id) DO UPDATE SET payload = EXCLUDED.payload`,
			key.ContainerID, key.ModuleID, key.ParamID, payload); err != nil {
			return fmt.Errorf("cfgstore: postgres upsert cfg: %w", err)
		}
	}
	return tx.Commit()
}

// DeregisterCfg removes a module's parameter row.
func (p *PostgresRegistry) DeregisterCfg(ctx context.Context, key RegisterCfgKey) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM module_cfg WHERE container_id=$1 AND module_id=$2 AND param_id=$3`,
		key.ContainerID, key.ModuleID, key.ParamID)
	if err != nil {
		return fmt.Errorf("cfgstore: postgres deregister-cfg %+v: %w", key, err)
	}
	return nil
}

// GetCfg fetches the currently stored payload, or nil if none is registered.
func (p *PostgresRegistry) GetCfg(ctx context.Context, key RegisterCfgKey) ([]byte, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM module_cfg WHERE container_id=$1 AND module_id=$2 AND param_id=$3`,
		key.ContainerID, key.ModuleID, key.ParamID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cfgstore: postgres get-cfg %+v: %w", key, err)
	}
	return payload, nil
}

// SetCfg overwrites a module's parameter row unconditionally, bypassing the
// commit-marker idempotency gate — mirrors RedisRegistry.SetCfg for
// client-driven runtime set-cfg, which is expected to apply every time.
func (p *PostgresRegistry) SetCfg(ctx context.Context, key RegisterCfgKey, payload []byte) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO module_cfg(container_id, module_id, param_id, payload)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (container_id, module_id, param_id) DO UPDATE SET payload = EXCLUDED.payload`,
		key.ContainerID, key.ModuleID, key.ParamID, payload)
	if err != nil {
		return fmt.Errorf("cfgstore: postgres set-cfg %+v: %w", key, err)
	}
	return nil
}
