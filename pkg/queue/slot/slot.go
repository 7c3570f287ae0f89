// Copyright 2025 UMH Systems GmbH
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

// Package slot provides single-key durable storage backends for the local queue.
// A slot holds one opaque value that is replaced as a whole on every write.
package slot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-redis/redis/v8"

	"github.com/united-manufacturing-hub/qualitylog/pkg/config"
)

var (
	// ErrNotFound is returned by Get when the key has never been written or was deleted.
	ErrNotFound = errors.New("slot: key not found")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("slot: backend closed")
)

// Slot is a key/value store used with a handful of fixed keys.
type Slot interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open creates the backend selected in cfg.
func Open(cfg config.Queue) (Slot, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return NewSQLite(filepath.Join(cfg.Path, "queue.db"))
	case config.BackendLevelDB:
		return NewLevelDB(filepath.Join(cfg.Path, "leveldb"))
	case config.BackendBadger:
		return NewBadger(filepath.Join(cfg.Path, "badger"))
	case config.BackendRedis:
		return NewRedis(&redis.Options{
			Addr:     cfg.RedisURI,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case config.BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
