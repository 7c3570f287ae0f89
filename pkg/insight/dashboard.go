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

// Package insight aggregates sorting logs into the dashboard.
package insight

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/united-manufacturing-hub/qualitylog/pkg/models"
)

const (
	// HourlyBuckets is how many hours the chart shows.
	HourlyBuckets = 12
	// RecentActivities is how many entries the activity list shows.
	RecentActivities = 3

	StatusSorted   = "Sorted"
	StatusRejected = "Rejected"
)

type Totals struct {
	TotalSorted    int     `json:"total_sorted"`
	TotalNg        int     `json:"total_ng"`
	NgRate         float64 `json:"ng_rate"`
	PartsProcessed int     `json:"parts_processed"`
}

type HourBucket struct {
	Hour   time.Time `json:"hour"`
	Total  int       `json:"total"`
	Ng     int       `json:"ng"`
	NgRate float64   `json:"ng_rate"`
}

type OperatorHour struct {
	OperatorName  string    `json:"operator_name"`
	Hour          time.Time `json:"hour"`
	TotalLogs     int       `json:"total_logs"`
	TotalSorted   int       `json:"total_sorted"`
	TotalNg       int       `json:"total_ng"`
	NgRatePercent float64   `json:"ng_rate_percent"`
}

type Activity struct {
	ID             string    `json:"id"`
	PartNo         string    `json:"part_no"`
	PartName       string    `json:"part_name,omitempty"`
	OperatorName   string    `json:"operator_name,omitempty"`
	Initials       string    `json:"initials"`
	Status         string    `json:"status"`
	Count          string    `json:"count"`
	RejectImageURL *string   `json:"reject_image_url,omitempty"`
	LoggedAt       time.Time `json:"logged_at"`
}

type Dashboard struct {
	Totals        Totals                    `json:"totals"`
	Hourly        []HourBucket              `json:"hourly"`
	OperatorHours []OperatorHour            `json:"operator_hours"`
	Recent        []Activity                `json:"recent"`
	Status        []models.ProductionStatus `json:"status"`
	GeneratedAt   time.Time                 `json:"generated_at"`
}

func rate(ng, total int) float64 {
	if total <= 0 {
		return 0
	}

	return float64(ng) / float64(total) * 100
}

// Build aggregates logs. The order of logs does not matter.
func Build(logs []models.SortingLog, status []models.ProductionStatus, now time.Time) Dashboard {
	d := Dashboard{
		Hourly:        []HourBucket{},
		OperatorHours: []OperatorHour{},
		Recent:        []Activity{},
		Status:        status,
		GeneratedAt:   now.UTC(),
	}
	if d.Status == nil {
		d.Status = []models.ProductionStatus{}
	}

	parts := map[string]struct{}{}
	hours := map[time.Time]*HourBucket{}
	type opKey struct {
		name string
		hour time.Time
	}
	ops := map[opKey]*OperatorHour{}

	for _, l := range logs {
		d.Totals.TotalSorted += l.QuantityAllSorting
		d.Totals.TotalNg += l.QuantityNg
		parts[l.PartNo] = struct{}{}

		hour := l.LoggedAt.UTC().Truncate(time.Hour)
		b, ok := hours[hour]
		if !ok {
			b = &HourBucket{Hour: hour}
			hours[hour] = b
		}
		b.Total += l.QuantityAllSorting
		b.Ng += l.QuantityNg

		if l.OperatorName == "" {
			continue
		}
		k := opKey{name: l.OperatorName, hour: hour}
		o, ok := ops[k]
		if !ok {
			o = &OperatorHour{OperatorName: l.OperatorName, Hour: hour}
			ops[k] = o
		}
		o.TotalLogs++
		o.TotalSorted += l.QuantityAllSorting
		o.TotalNg += l.QuantityNg
	}
	d.Totals.NgRate = rate(d.Totals.TotalNg, d.Totals.TotalSorted)
	d.Totals.PartsProcessed = len(parts)

	for _, b := range hours {
		b.NgRate = rate(b.Ng, b.Total)
		d.Hourly = append(d.Hourly, *b)
	}
	sort.Slice(d.Hourly, func(i, j int) bool { return d.Hourly[i].Hour.Before(d.Hourly[j].Hour) })
	if len(d.Hourly) > HourlyBuckets {
		d.Hourly = d.Hourly[len(d.Hourly)-HourlyBuckets:]
	}

	for _, o := range ops {
		o.NgRatePercent = rate(o.TotalNg, o.TotalSorted)
		d.OperatorHours = append(d.OperatorHours, *o)
	}
	sort.Slice(d.OperatorHours, func(i, j int) bool {
		a, b := d.OperatorHours[i], d.OperatorHours[j]
		if !a.Hour.Equal(b.Hour) {
			return a.Hour.After(b.Hour)
		}

		return a.OperatorName < b.OperatorName
	})

	recent := append([]models.SortingLog(nil), logs...)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].LoggedAt.After(recent[j].LoggedAt) })
	if len(recent) > RecentActivities {
		recent = recent[:RecentActivities]
	}
	for _, l := range recent {
		d.Recent = append(d.Recent, activity(l))
	}

	return d
}

func activity(l models.SortingLog) Activity {
	a := Activity{
		ID:             l.ID,
		PartNo:         l.PartNo,
		PartName:       l.PartName,
		OperatorName:   l.OperatorName,
		Initials:       Initials(l.OperatorName),
		Status:         StatusSorted,
		Count:          "+" + strconv.Itoa(l.QuantityAllSorting),
		RejectImageURL: l.RejectImageURL,
		LoggedAt:       l.LoggedAt,
	}
	if l.QuantityNg > 0 {
		a.Status = StatusRejected
		a.Count = "-" + strconv.Itoa(l.QuantityNg)
	}

	return a
}

// Initials returns up to two upper-case initials of name, or NA.
func Initials(name string) string {
	var initials []rune
	for _, word := range strings.Fields(name) {
		initials = append(initials, unicode.ToUpper([]rune(word)[0]))
		if len(initials) == 2 {
			break
		}
	}
	if len(initials) == 0 {
		return "NA"
	}

	return string(initials)
}
