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

package syncengine_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/qualitylog/pkg/connectivity"
	"github.com/united-manufacturing-hub/qualitylog/pkg/coordinator"
	"github.com/united-manufacturing-hub/qualitylog/pkg/delivery"
	"github.com/united-manufacturing-hub/qualitylog/pkg/delivery/deliverytest"
	"github.com/united-manufacturing-hub/qualitylog/pkg/models"
	"github.com/united-manufacturing-hub/qualitylog/pkg/notice"
	"github.com/united-manufacturing-hub/qualitylog/pkg/queue"
	"github.com/united-manufacturing-hub/qualitylog/pkg/queue/slot"
	"github.com/united-manufacturing-hub/qualitylog/pkg/syncengine"
)

type recorder struct {
	got []notice.Notice
}

func (r *recorder) Notify(n notice.Notice) error {
	r.got = append(r.got, n)

	return nil
}

func (r *recorder) titles() []string {
	out := make([]string, 0, len(r.got))
	for _, n := range r.got {
		out = append(out, n.Title)
	}

	return out
}

// gatedWriter blocks every write until release is closed.
type gatedWriter struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedWriter) Write(ctx context.Context, _ models.InspectionRecord, _ delivery.Attempt) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func record(partNo string) models.InspectionRecord {
	return models.InspectionRecord{
		PartNo:             partNo,
		QuantityAllSorting: 10,
		QuantityNg:         1,
		OperatorName:       "Jane",
		FactoryName:        "Plant A",
	}
}

var _ = Describe("Engine", func() {
	var (
		ctx     context.Context
		online  *connectivity.Switch
		store   *queue.SlotStore
		backend *deliverytest.Backend
		notices *recorder
		engine  *syncengine.Engine
		clock   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		online = connectivity.NewSwitch(true)
		clock = time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)
		store = queue.NewSlotStore(slot.NewMemory(), queue.WithClock(func() time.Time {
			clock = clock.Add(time.Minute)

			return clock
		}))
		backend = deliverytest.NewBackend()
		notices = &recorder{}
		engine = syncengine.New(online, store, delivery.NewWriter(backend, backend, backend, time.Second),
			syncengine.WithNotices(notices))
	})

	It("does nothing while offline", func() {
		Expect(store.Enqueue(ctx, record("P1"))).To(BeTrue())
		online.Set(false)

		report, err := engine.SyncAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.StillOffline).To(BeTrue())
		Expect(report.Remaining).To(Equal(1))
		Expect(backend.Calls()).To(BeZero())
		Expect(notices.titles()).To(ConsistOf("Still Offline"))
	})

	It("keeps going past a failing record and retries it next time", func() {
		for i := 1; i <= 5; i++ {
			Expect(store.Enqueue(ctx, record(fmt.Sprintf("P%d", i)))).To(BeTrue())
		}
		backend.FailInserts(func(row models.NewSortingLog) error {
			if row.PartNo == "P3" {
				return errors.New("rigged failure")
			}

			return nil
		})

		report, err := engine.SyncAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.SuccessCount).To(Equal(4))
		Expect(report.FailCount).To(Equal(1))
		Expect(report.Remaining).To(Equal(1))
		Expect(store.List(ctx)[0].PartNo).To(Equal("P3"))
		Expect(notices.titles()).To(Equal([]string{"Sync Complete", "Sync Issues"}))
		Expect(notices.got[0].Description).To(Equal("Successfully uploaded 4 logs."))

		backend.FailInserts(nil)
		report, err = engine.SyncAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.SuccessCount).To(Equal(1))
		Expect(report.FailCount).To(BeZero())
		Expect(report.Remaining).To(BeZero())
	})

	It("writes records in queue order", func() {
		for _, p := range []string{"A1", "B2", "C3"} {
			Expect(store.Enqueue(ctx, record(p))).To(BeTrue())
		}

		_, err := engine.SyncAll(ctx)
		Expect(err).NotTo(HaveOccurred())

		var parts []string
		for _, row := range backend.Rows() {
			parts = append(parts, row.PartNo)
		}
		Expect(parts).To(Equal([]string{"A1", "B2", "C3"}))
	})

	It("preserves the capture time as logged_at", func() {
		Expect(store.Enqueue(ctx, record("P1"))).To(BeTrue())
		captured := store.List(ctx)[0].Timestamp

		time.Sleep(5 * time.Millisecond)
		_, err := engine.SyncAll(ctx)
		Expect(err).NotTo(HaveOccurred())

		rows := backend.Rows()
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].LoggedAt).NotTo(BeNil())
		Expect(*rows[0].LoggedAt).To(BeTemporally("==", captured))
	})

	It("names offline photos after the capture time", func() {
		rec := record("P7")
		rec.RejectImage = models.StringPtr("data:image/jpeg;base64,/9j/4A==")
		Expect(store.Enqueue(ctx, rec)).To(BeTrue())

		_, err := engine.SyncAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(backend.Objects()).To(ConsistOf("rejects/P7_2024-06-01T06-01-00-000Z_offline_sync.jpg"))
	})

	It("sends client references only when enabled", func() {
		Expect(store.Enqueue(ctx, record("P1"))).To(BeTrue())
		_, err := engine.SyncAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(backend.Rows()[0].ClientRef).To(BeNil())

		engine = syncengine.New(online, store, delivery.NewWriter(backend, backend, backend, time.Second),
			syncengine.WithIdempotencyKeys(true))
		Expect(store.Enqueue(ctx, record("P2"))).To(BeTrue())
		ref := store.List(ctx)[0].ClientRef
		_, err = engine.SyncAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(*backend.Rows()[1].ClientRef).To(Equal(ref))
	})

	It("refuses to run twice at the same time", func() {
		gate := &gatedWriter{entered: make(chan struct{}, 1), release: make(chan struct{})}
		engine = syncengine.New(online, store, gate)
		Expect(store.Enqueue(ctx, record("P1"))).To(BeTrue())

		done := make(chan syncengine.Report)
		go func() {
			defer GinkgoRecover()
			report, err := engine.SyncAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			done <- report
		}()

		Eventually(gate.entered).Should(Receive())
		_, err := engine.SyncAll(ctx)
		Expect(err).To(MatchError(syncengine.ErrSyncInProgress))

		close(gate.release)
		var report syncengine.Report
		Eventually(done).Should(Receive(&report))
		Expect(report.SuccessCount).To(Equal(1))
	})

	It("carries a record submitted offline through to the backend", func() {
		coord := coordinator.New(online, store, delivery.NewWriter(backend, backend, backend, time.Second))
		online.Set(false)

		Expect(store.Size(ctx)).To(BeZero())
		res := coord.Submit(ctx, models.InspectionRecord{
			PartNo:             "P100",
			QuantityAllSorting: 50,
			QuantityNg:         2,
			OperatorName:       "Jane",
			FactoryName:        "Plant A",
		})
		Expect(res.Outcome).To(Equal(coordinator.SavedOffline))
		Expect(store.Size(ctx)).To(Equal(1))

		online.Set(true)
		report, err := engine.SyncAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.SuccessCount).To(Equal(1))
		Expect(store.Size(ctx)).To(BeZero())

		rows := backend.Rows()
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].PartNo).To(Equal("P100"))
		Expect(rows[0].QuantityAllSorting).To(Equal(50))
		Expect(*rows[0].FactoryID).To(Equal("factory-1"))
	})

	It("syncs automatically when the device comes back online", func() {
		online.Set(false)
		Expect(store.Enqueue(ctx, record("P1"))).To(BeTrue())

		runCtx, cancel := context.WithCancel(ctx)
		finished := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(finished)
			engine.Run(runCtx, 5*time.Millisecond)
		}()
		DeferCleanup(func() {
			cancel()
			Eventually(finished).Should(BeClosed())
		})

		Consistently(func() int { return store.Size(ctx) }, 30*time.Millisecond).Should(Equal(1))
		online.Set(true)
		Eventually(func() int { return store.Size(ctx) }).Should(BeZero())
		Expect(backend.Rows()).To(HaveLen(1))
	})
})
