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

package api

import (
	"sync"

	"github.com/united-manufacturing-hub/qualitylog/pkg/notice"
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data any
}

const eventBuffer = 16

// Broker fans events out to the connected event streams. Slow streams lose events.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func NewBroker() *Broker {
	return &Broker{subs: map[int]chan Event{}}
}

func (b *Broker) Publish(name string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- Event{Name: name, Data: data}:
		default:
		}
	}
}

func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, eventBuffer)
	b.subs[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Notify publishes n as a "notice" event.
func (b *Broker) Notify(n notice.Notice) error {
	b.Publish("notice", n)

	return nil
}
