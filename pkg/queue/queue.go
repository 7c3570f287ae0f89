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

// Package queue holds inspection records that could not be written to the
// remote store yet. The whole collection lives in one slot and is rewritten
// on every mutation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
	"github.com/united-manufacturing-hub/qualitylog/pkg/metrics"
	"github.com/united-manufacturing-hub/qualitylog/pkg/models"
	"github.com/united-manufacturing-hub/qualitylog/pkg/queue/slot"
)

// SlotKey is the name of the slot holding the queued records.
const SlotKey = "offline_sorting_logs"

// ErrQuotaExceeded is returned when the encoded queue would not fit the configured quota.
var ErrQuotaExceeded = errors.New("queue: storage quota exceeded")

// Store is the local queue used by the coordinator, the sync engine and the count monitor.
type Store interface {
	// Enqueue appends rec and reports whether it was durably stored.
	Enqueue(ctx context.Context, rec models.InspectionRecord) bool
	// List returns every queued record in insertion order. Unreadable storage yields an empty list.
	List(ctx context.Context) []models.QueuedRecord
	// Remove deletes the record with id. Unknown ids are ignored.
	Remove(ctx context.Context, id string) error
	// Clear drops every queued record.
	Clear(ctx context.Context) error
	Size(ctx context.Context) int
	// Subscribe delivers the queue size after every successful mutation.
	Subscribe() (<-chan int, func())
}

// SlotStore implements Store on top of a slot backend.
type SlotStore struct {
	slot     slot.Slot
	maxBytes int
	now      func() time.Time
	newID    func() string
	log      *zap.SugaredLogger

	// mu serialises every read-modify-write of the slot.
	mu sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]chan int
	nextSub int
}

var _ Store = (*SlotStore)(nil)

type Option func(*SlotStore)

// WithMaxBytes bounds the encoded size of the queue. Zero or less disables the bound.
func WithMaxBytes(n int) Option {
	return func(s *SlotStore) { s.maxBytes = n }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SlotStore) { s.now = now }
}

// WithIDGenerator replaces the UUID generator for record ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *SlotStore) { s.newID = newID }
}

func NewSlotStore(backend slot.Slot, opts ...Option) *SlotStore {
	s := &SlotStore{
		slot:  backend,
		now:   time.Now,
		newID: uuid.NewString,
		log:   logger.For(logger.ComponentQueue),
		subs:  map[int]chan int{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ClientRef derives the idempotency key sent along with a queued record.
func ClientRef(id string, ts time.Time, partNo string) string {
	h := xxh3.HashString128(id + "|" + ts.UTC().Format(time.RFC3339Nano) + "|" + partNo)

	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// load reads the current collection. A missing slot is an empty queue.
// corrupted is set when the slot holds something that cannot be decoded.
func (s *SlotStore) load(ctx context.Context) (records []models.QueuedRecord, corrupted bool, err error) {
	raw, err := s.slot.Get(ctx, SlotKey)
	if errors.Is(err, slot.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read queue slot: %w", err)
	}

	records, err = decode(raw)
	if err != nil {
		return nil, true, nil
	}

	return records, false, nil
}

func (s *SlotStore) save(ctx context.Context, records []models.QueuedRecord) error {
	raw, err := encode(records)
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}
	if s.maxBytes > 0 && len(raw) > s.maxBytes {
		return fmt.Errorf("%w: %d bytes needed, %d allowed", ErrQuotaExceeded, len(raw), s.maxBytes)
	}
	if err := s.slot.Put(ctx, SlotKey, raw); err != nil {
		return fmt.Errorf("failed to write queue slot: %w", err)
	}

	return nil
}

// Append stores rec and returns the queued form. It is the error-returning
// variant of Enqueue.
func (s *SlotStore) Append(ctx context.Context, rec models.InspectionRecord) (models.QueuedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, corrupted, err := s.load(ctx)
	if err != nil {
		return models.QueuedRecord{}, err
	}
	if corrupted {
		s.log.Warnw("Queue slot is corrupted, starting a fresh queue", "slot", SlotKey)
	}

	queued := models.QueuedRecord{
		ID:               s.newID(),
		Timestamp:        s.now().UTC(),
		InspectionRecord: rec,
	}
	queued.ClientRef = ClientRef(queued.ID, queued.Timestamp, rec.PartNo)

	next := make([]models.QueuedRecord, 0, len(records)+1)
	next = append(next, records...)
	next = append(next, queued)

	if err := s.save(ctx, next); err != nil {
		return models.QueuedRecord{}, err
	}
	s.publish(len(next))

	return queued, nil
}

func (s *SlotStore) Enqueue(ctx context.Context, rec models.InspectionRecord) bool {
	queued, err := s.Append(ctx, rec)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentQueue)
		s.log.Errorw("Failed to enqueue record", "part_no", rec.PartNo, "error", err)

		return false
	}
	s.log.Debugw("Record queued", "id", queued.ID, "part_no", queued.PartNo)

	return true
}

func (s *SlotStore) List(ctx context.Context) []models.QueuedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, corrupted, err := s.load(ctx)
	if err != nil {
		s.log.Errorw("Failed to read queue, reporting it as empty", "error", err)

		return []models.QueuedRecord{}
	}
	if corrupted {
		s.log.Warnw("Queue slot is corrupted, reporting it as empty", "slot", SlotKey)
	}
	if records == nil {
		return []models.QueuedRecord{}
	}

	return records
}

func (s *SlotStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, _, err := s.load(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i := range records {
		if records[i].ID == id {
			idx = i

			break
		}
	}
	if idx < 0 {
		return nil
	}

	next := make([]models.QueuedRecord, 0, len(records)-1)
	next = append(next, records[:idx]...)
	next = append(next, records[idx+1:]...)

	if err := s.save(ctx, next); err != nil {
		return err
	}
	s.publish(len(next))

	return nil
}

func (s *SlotStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(ctx, nil); err != nil {
		return err
	}
	s.publish(0)

	return nil
}

func (s *SlotStore) Size(ctx context.Context) int {
	return len(s.List(ctx))
}

func (s *SlotStore) Subscribe() (<-chan int, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan int, 1)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}

	return ch, cancel
}

// publish hands size to every subscriber. A subscriber that has not read the
// previous value only sees the newest one.
func (s *SlotStore) publish(size int) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- size:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- size:
			default:
			}
		}
	}
}
