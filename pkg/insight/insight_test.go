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

package insight_test

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/qualitylog/pkg/insight"
	"github.com/united-manufacturing-hub/qualitylog/pkg/models"
)

var base = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func logAt(id string, minutes int, part, operator string, all, ng int) models.SortingLog {
	return models.SortingLog{
		ID:                 id,
		PartNo:             part,
		QuantityAllSorting: all,
		QuantityNg:         ng,
		OperatorName:       operator,
		LoggedAt:           base.Add(time.Duration(minutes) * time.Minute),
	}
}

type fakeSource struct {
	logs     []models.SortingLog
	status   []models.ProductionStatus
	err      error
	calls    int
	lastFrom time.Time
}

func (f *fakeSource) ListSortingLogs(_ context.Context, since time.Time) ([]models.SortingLog, error) {
	f.calls++
	f.lastFrom = since

	return f.logs, f.err
}

func (f *fakeSource) ListProductionStatus(context.Context) ([]models.ProductionStatus, error) {
	return f.status, nil
}

var _ = Describe("Build", func() {
	logs := []models.SortingLog{
		logAt("1", 5, "P100", "Jane Doe", 50, 2),
		logAt("2", 20, "P200", "Bob", 30, 0),
		logAt("3", 70, "P100", "Jane Doe", 20, 3),
		logAt("4", 75, "P300", "", 10, 0),
	}

	It("computes totals", func() {
		d := insight.Build(logs, nil, base)
		Expect(d.Totals.TotalSorted).To(Equal(110))
		Expect(d.Totals.TotalNg).To(Equal(5))
		Expect(d.Totals.NgRate).To(BeNumerically("~", 4.545, 0.01))
		Expect(d.Totals.PartsProcessed).To(Equal(3))
		Expect(d.Status).NotTo(BeNil())
	})

	It("buckets by hour in chronological order", func() {
		d := insight.Build(logs, nil, base)
		Expect(d.Hourly).To(HaveLen(2))
		Expect(d.Hourly[0].Hour).To(Equal(base))
		Expect(d.Hourly[0].Total).To(Equal(80))
		Expect(d.Hourly[0].Ng).To(Equal(2))
		Expect(d.Hourly[1].Total).To(Equal(30))
		Expect(d.Hourly[1].NgRate).To(BeNumerically("~", 10, 0.001))
	})

	It("keeps only the latest hours", func() {
		var many []models.SortingLog
		for h := 0; h < 20; h++ {
			many = append(many, logAt("x", h*60, "P1", "Ana", 1, 0))
		}

		d := insight.Build(many, nil, base)
		Expect(d.Hourly).To(HaveLen(insight.HourlyBuckets))
		Expect(d.Hourly[0].Hour).To(Equal(base.Add(8 * time.Hour)))
	})

	It("groups operator output by hour, newest first", func() {
		d := insight.Build(logs, nil, base)
		Expect(d.OperatorHours).To(HaveLen(3))
		Expect(d.OperatorHours[0].OperatorName).To(Equal("Jane Doe"))
		Expect(d.OperatorHours[0].Hour).To(Equal(base.Add(time.Hour)))
		Expect(d.OperatorHours[1].OperatorName).To(Equal("Bob"))
		Expect(d.OperatorHours[1].Hour).To(Equal(base))
		Expect(d.OperatorHours[2].OperatorName).To(Equal("Jane Doe"))
		Expect(d.OperatorHours[2].Hour).To(Equal(base))
		Expect(d.OperatorHours[2].TotalLogs).To(Equal(1))

		d = insight.Build(append(logs, logAt("5", 10, "P100", "Jane Doe", 10, 1)), nil, base)
		first := d.OperatorHours[1:]
		Expect(first[0].OperatorName).To(Equal("Bob"))
		Expect(first[1].OperatorName).To(Equal("Jane Doe"))
		Expect(first[1].TotalLogs).To(Equal(2))
		Expect(first[1].TotalSorted).To(Equal(60))
	})

	It("lists the most recent activity", func() {
		d := insight.Build(logs, nil, base)
		Expect(d.Recent).To(HaveLen(3))
		Expect(d.Recent[0].ID).To(Equal("4"))
		Expect(d.Recent[0].Initials).To(Equal("NA"))
		Expect(d.Recent[0].Status).To(Equal(insight.StatusSorted))
		Expect(d.Recent[0].Count).To(Equal("+10"))
		Expect(d.Recent[1].Status).To(Equal(insight.StatusRejected))
		Expect(d.Recent[1].Count).To(Equal("-3"))
		Expect(d.Recent[1].Initials).To(Equal("JD"))
	})

	It("handles an empty window", func() {
		d := insight.Build(nil, nil, base)
		Expect(d.Totals.NgRate).To(BeZero())
		Expect(d.Hourly).To(BeEmpty())
		Expect(d.Recent).To(BeEmpty())
	})
})

var _ = DescribeTable("Initials",
	func(name, want string) {
		Expect(insight.Initials(name)).To(Equal(want))
	},
	Entry("two words", "jane doe", "JD"),
	Entry("one word", "Bob", "B"),
	Entry("three words", "Ana Maria Lopez", "AM"),
	Entry("blank", "  ", "NA"),
)

var _ = Describe("Service", func() {
	var (
		ctx    context.Context
		source *fakeSource
		svc    *insight.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		source = &fakeSource{
			logs:   []models.SortingLog{logAt("1", 0, "P100", "Jane", 10, 1)},
			status: []models.ProductionStatus{{ID: "s1", Label: "Line 1", Value: "Running", SortOrder: 1}},
		}
		svc = insight.NewService(source, 2*time.Hour)
	})

	It("serves the cached dashboard until invalidated", func() {
		first, err := svc.DashboardJSON(ctx)
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.DashboardJSON(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(source.calls).To(Equal(1))

		var d insight.Dashboard
		Expect(json.Unmarshal(first, &d)).To(Succeed())
		Expect(d.Totals.TotalSorted).To(Equal(10))
		Expect(d.Status).To(HaveLen(1))

		svc.Invalidate()
		_, err = svc.DashboardJSON(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(source.calls).To(Equal(2))
	})

	It("queries only the configured window", func() {
		before := time.Now()
		_, err := svc.Dashboard(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(source.lastFrom).To(BeTemporally("~", before.Add(-2*time.Hour), time.Second))
	})

	It("does not cache failures", func() {
		source.err = errors.New("db down")
		_, err := svc.DashboardJSON(ctx)
		Expect(err).To(HaveOccurred())

		source.err = nil
		_, err = svc.DashboardJSON(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(source.calls).To(Equal(2))
	})
})
