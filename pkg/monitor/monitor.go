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

// Package monitor keeps the number of queued records available to the UI.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
	"github.com/united-manufacturing-hub/qualitylog/pkg/metrics"
	"github.com/united-manufacturing-hub/qualitylog/pkg/queue"
)

// DefaultInterval is the polling fallback used when none is configured.
const DefaultInterval = 5 * time.Second

// Monitor follows the queue size. Size events from the store are applied as
// they arrive and the store is polled every interval in case one was missed.
type Monitor struct {
	store    queue.Store
	interval time.Duration
	log      *zap.SugaredLogger

	mu      sync.Mutex
	count   int
	subs    map[int]chan int
	nextSub int
}

func New(store queue.Store, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Monitor{
		store:    store,
		interval: interval,
		log:      logger.For(logger.ComponentMonitor),
		subs:     map[int]chan int{},
	}
}

// Run blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	events, cancel := m.store.Subscribe()
	defer cancel()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-events:
			if !ok {
				events = nil

				continue
			}
			m.set(n)
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Refresh reads the queue size now and returns it.
func (m *Monitor) Refresh(ctx context.Context) int {
	n := m.store.Size(ctx)
	m.set(n)

	return n
}

// Count returns the last known queue size.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.count
}

// Subscribe delivers the count whenever it changes. Slow readers only see the newest value.
func (m *Monitor) Subscribe() (<-chan int, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan int, 1)
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}

	return ch, cancel
}

func (m *Monitor) set(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics.SetQueuePending(n)
	if n == m.count {
		return
	}
	m.log.Debugw("Pending records changed", "from", m.count, "to", n)
	m.count = n

	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- n
	}
}
