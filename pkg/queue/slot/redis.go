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

package slot

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "qualitylog:"

// Redis stores slots as plain string keys without expiry.
type Redis struct {
	client *redis.Client
}

func NewRedis(opts *redis.Options) (*Redis, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to reach redis at %s: %w", opts.Addr, err)
	}

	return &Redis{client: client}, nil
}

func mapRedisErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}

	return err
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapRedisErr(err)
	}

	return value, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	return mapRedisErr(r.client.Set(ctx, redisKeyPrefix+key, value, 0).Err())
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return mapRedisErr(r.client.Del(ctx, redisKeyPrefix+key).Err())
}

func (r *Redis) Close() error {
	err := r.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}

	return err
}
