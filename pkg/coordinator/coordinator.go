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

// Package coordinator routes a submitted inspection record either straight to
// the hosted backend or into the local queue.
package coordinator

import (
	"context"
	"errors"
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
	"github.com/united-manufacturing-hub/qualitylog/pkg/sentry"
)

// ErrOfflineSaveFailed is returned when a record could neither be written
// remotely nor stored in the local queue.
var ErrOfflineSaveFailed = errors.New("could not save the record to the local queue")

type Outcome int

const (
	Failed Outcome = iota
	Submitted
	SavedOffline
)

func (o Outcome) String() string {
	switch o {
	case Submitted:
		return "submitted"
	case SavedOffline:
		return "saved_offline"
	default:
		return "failed"
	}
}

// Result is what the operator gets to see for one submission.
type Result struct {
	Outcome Outcome
	Notice  notice.Notice
	// Err is set for Failed, and for SavedOffline when a remote attempt was made.
	Err error
}

// Writer is satisfied by *delivery.Writer.
type Writer interface {
	Write(ctx context.Context, rec models.InspectionRecord, a delivery.Attempt) error
}

type Coordinator struct {
	oracle  connectivity.Oracle
	queue   queue.Store
	writer  Writer
	notices notice.Sink
	now     func() time.Time
	log     *zap.SugaredLogger
}

type Option func(*Coordinator)

func WithNotices(sink notice.Sink) Option {
	return func(c *Coordinator) { c.notices = sink }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(oracle connectivity.Oracle, store queue.Store, writer Writer, opts ...Option) *Coordinator {
	c := &Coordinator{
		oracle:  oracle,
		queue:   store,
		writer:  writer,
		notices: notice.Discard,
		now:     time.Now,
		log:     logger.For(logger.ComponentCoordinator),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Submit writes rec directly when the device is online and falls back to the
// local queue on anything that is not a validation failure. The caller is
// expected to have run rec.Validate.
func (c *Coordinator) Submit(ctx context.Context, rec models.InspectionRecord) Result {
	if !c.oracle.IsOnline() {
		c.log.Debugw("Device offline, queueing record", "part_no", rec.PartNo)

		return c.finish(c.saveOffline(ctx, rec, nil))
	}

	err := c.writer.Write(ctx, rec, delivery.Attempt{
		ImageSuffix: imagestore.SuffixDirect,
		ImageTime:   c.now(),
	})
	if err == nil {
		return c.finish(Result{
			Outcome: Submitted,
			Notice:  notice.New(notice.LevelSuccess, "Success", "Sorting data logged successfully"),
		})
	}

	// Validation errors seen while the device dropped offline are queued too.
	if remote.IsValidation(err) && c.oracle.IsOnline() {
		c.log.Warnw("Backend rejected record", "part_no", rec.PartNo, "error", err)

		return c.finish(c.failed(err, "Failed to log sorting data"))
	}

	c.log.Infow("Direct write failed, queueing record",
		"part_no", rec.PartNo, "kind", remote.KindOf(err), "error", err)
	metrics.IncErrorCount(metrics.ComponentCoordinator)

	return c.finish(c.saveOffline(ctx, rec, err))
}

func (c *Coordinator) saveOffline(ctx context.Context, rec models.InspectionRecord, cause error) Result {
	if !c.queue.Enqueue(ctx, rec) {
		sentry.ReportIssue(ErrOfflineSaveFailed, sentry.IssueTypeError, c.log)

		return Result{
			Outcome: Failed,
			Notice: notice.New(notice.LevelError, "Storage Error",
				"Could not save the log offline. Local storage may be full."),
			Err: errors.Join(ErrOfflineSaveFailed, cause),
		}
	}

	return Result{
		Outcome: SavedOffline,
		Notice: notice.New(notice.LevelOffline, "Saved Offline",
			"No connection. The log was saved on this device and will sync when online."),
		Err: cause,
	}
}

func (c *Coordinator) failed(err error, description string) Result {
	return Result{
		Outcome: Failed,
		Notice:  notice.New(notice.LevelError, "Submission Error", description),
		Err:     err,
	}
}

func (c *Coordinator) finish(r Result) Result {
	metrics.IncSubmission(r.Outcome.String())
	if err := c.notices.Notify(r.Notice); err != nil {
		c.log.Warnw("Failed to deliver notice", "title", r.Notice.Title, "error", err)
	}

	return r
}
