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

package notice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/beeker1121/goque"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
)

// Feed keeps notices on disk until a client drains them.
type Feed struct {
	queue *goque.Queue
	limit uint64
	mu    sync.Mutex
	log   *zap.SugaredLogger
}

// DefaultFeedLimit bounds how many undrained notices are kept.
const DefaultFeedLimit = 500

// OpenFeed opens (or creates) the feed stored under path.
func OpenFeed(path string, limit uint64) (*Feed, error) {
	q, err := goque.OpenQueue(path)
	if err != nil {
		return nil, fmt.Errorf("open notice feed: %w", err)
	}
	if limit == 0 {
		limit = DefaultFeedLimit
	}

	return &Feed{queue: q, limit: limit, log: logger.For(logger.ComponentNotice)}, nil
}

// Notify appends n. When the feed is full the oldest notice is dropped.
func (f *Feed) Notify(n Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.queue.Length() >= f.limit {
		if _, err := f.queue.Dequeue(); err != nil {
			break
		}
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := f.queue.Enqueue(payload); err != nil {
		return fmt.Errorf("enqueue notice: %w", err)
	}
	f.log.Debugf("Notice feed length after insert: %d", f.queue.Length())

	return nil
}

// Drain removes and returns up to max notices, oldest first. max <= 0 drains everything.
func (f *Feed) Drain(max int) ([]Notice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	notices := []Notice{}
	for max <= 0 || len(notices) < max {
		item, err := f.queue.Dequeue()
		if err != nil {
			if errors.Is(err, goque.ErrEmpty) {
				break
			}

			return notices, fmt.Errorf("dequeue notice: %w", err)
		}

		var n Notice
		if err := item.ToObjectFromJSON(&n); err != nil {
			f.log.Errorw("Dropping undecodable notice", "error", err)

			continue
		}
		notices = append(notices, n)
	}

	return notices, nil
}

func (f *Feed) Len() uint64 {
	return f.queue.Length()
}

func (f *Feed) Close() error {
	return f.queue.Close()
}
