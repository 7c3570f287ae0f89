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

// Package syncengine drains the local queue into the hosted backend.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/connectivity"
	"github.com/united-manufacturing-hub/qualitylog/pkg/delivery"
	"github.com/united-manufacturing-hub/qualitylog/pkg/imagestore"
	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
	"github.com/united-manufacturing-hub/qualitylog/pkg/metrics"
	"github.com/united-manufacturing-hub/qualitylog/pkg/models"
	"github.com/united-manufacturing-hub/qualitylog/pkg/notice"
	"github.com/united-manufacturing-hub/qualitylog/pkg/queue"
	"github.com/united-manufacturing-hub/qualitylog/pkg/remote"
)

// ErrSyncInProgress is returned when SyncAll is called while a run is active.
var ErrSyncInProgress = errors.New("sync already in progress")

// Report summarises one SyncAll run.
type Report struct {
	StillOffline bool `json:"still_offline"`
	SuccessCount int  `json:"success_count"`
	FailCount    int  `json:"fail_count"`
	// Remaining is the queue size after the run.
	Remaining int `json:"remaining"`
}

// Writer is satisfied by *delivery.Writer.
type Writer interface {
	Write(ctx context.Context, rec models.InspectionRecord, a delivery.Attempt) error
}

type Engine struct {
	oracle          connectivity.Oracle
	queue           queue.Store
	writer          Writer
	notices         notice.Sink
	idempotencyKeys bool

	// running is held for the whole of a SyncAll run.
	running sync.Mutex
	log     *zap.SugaredLogger
}

type Option func(*Engine)

func WithNotices(sink notice.Sink) Option {
	return func(e *Engine) { e.notices = sink }
}

// WithIdempotencyKeys sends each record's ClientRef along with the insert.
func WithIdempotencyKeys(enabled bool) Option {
	return func(e *Engine) { e.idempotencyKeys = enabled }
}

func New(oracle connectivity.Oracle, store queue.Store, writer Writer, opts ...Option) *Engine {
	e := &Engine{
		oracle:  oracle,
		queue:   store,
		writer:  writer,
		notices: notice.Discard,
		log:     logger.For(logger.ComponentSyncEngine),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// SyncAll writes every queued record, one after the other in queue order.
// Records that fail stay queued for the next run. The returned error is only
// set when the run could not start.
func (e *Engine) SyncAll(ctx context.Context) (Report, error) {
	if !e.running.TryLock() {
		return Report{}, ErrSyncInProgress
	}
	defer e.running.Unlock()

	if !e.oracle.IsOnline() {
		e.notify(notice.New(notice.LevelError, "Still Offline", "Cannot sync, no internet connection."))

		return Report{StillOffline: true, Remaining: e.queue.Size(ctx)}, nil
	}

	start := time.Now()
	records := e.queue.List(ctx)
	e.log.Infow("Starting sync", "records", len(records))

	var report Report
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if err := e.syncOne(ctx, rec); err != nil {
			report.FailCount++
			metrics.IncSyncRecord(metrics.SyncResultFailure)
			metrics.IncErrorCount(metrics.ComponentSyncEngine)
			e.log.Warnw("Sync failed for record", "id", rec.ID, "part_no", rec.PartNo,
				"kind", remote.KindOf(err), "error", err)

			continue
		}
		report.SuccessCount++
		metrics.IncSyncRecord(metrics.SyncResultSuccess)
	}

	report.Remaining = e.queue.Size(ctx)
	metrics.ObserveSyncDuration(time.Since(start))
	e.log.Infow("Sync finished", "success", report.SuccessCount, "failed", report.FailCount,
		"remaining", report.Remaining)

	if report.SuccessCount > 0 {
		e.notify(notice.New(notice.LevelSuccess, "Sync Complete",
			fmt.Sprintf("Successfully uploaded %d logs.", report.SuccessCount)))
	}
	if report.FailCount > 0 {
		e.notify(notice.New(notice.LevelError, "Sync Issues",
			fmt.Sprintf("Failed to upload %d logs. Please try again.", report.FailCount)))
	}

	return report, nil
}

func (e *Engine) syncOne(ctx context.Context, rec models.QueuedRecord) error {
	loggedAt := rec.Timestamp
	attempt := delivery.Attempt{
		ImageSuffix: imagestore.SuffixOfflineSync,
		ImageTime:   rec.Timestamp,
		LoggedAt:    &loggedAt,
	}
	if e.idempotencyKeys {
		attempt.ClientRef = rec.ClientRef
	}

	if err := e.writer.Write(ctx, rec.InspectionRecord, attempt); err != nil {
		return err
	}

	// The row is written. If this removal is lost the record is sent again
	// on the next run.
	if err := e.queue.Remove(ctx, rec.ID); err != nil {
		e.log.Errorw("Synced record could not be removed from the queue", "id", rec.ID, "error", err)
	}

	return nil
}

// Run calls SyncAll whenever the oracle reports a change to online, until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	for online := range connectivity.Transitions(ctx, e.oracle, interval) {
		if !online {
			e.log.Infow("Device went offline")

			continue
		}
		if e.queue.Size(ctx) == 0 {
			continue
		}

		e.log.Infow("Device back online, syncing queued records")
		if _, err := e.SyncAll(ctx); err != nil {
			e.log.Debugw("Automatic sync skipped", "error", err)
		}
	}
}

func (e *Engine) notify(n notice.Notice) {
	if err := e.notices.Notify(n); err != nil {
		e.log.Warnw("Failed to deliver notice", "title", n.Title, "error", err)
	}
}
