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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// Component labels.
	ComponentQueue       = "queue"
	ComponentCoordinator = "coordinator"
	ComponentSyncEngine  = "sync_engine"
	ComponentMonitor     = "count_monitor"
	ComponentRemote      = "remote"
	ComponentImageStore  = "image_store"
	ComponentNotice      = "notice"
	ComponentInsight     = "insight"
	ComponentListener    = "listener"

	// Sync result labels.
	SyncResultSuccess = "success"
	SyncResultFailure = "failure"
)

var (
	namespace = "qualitylog"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component"},
	)

	queuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending_records",
			Help:      "Number of inspection records waiting in the local queue",
		},
	)

	submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submitted inspection records by outcome",
		},
		[]string{"outcome"},
	)

	syncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Queued records processed by the sync engine",
		},
		[]string{"result"},
	)

	syncDuration = promauto.NewSummary(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_milliseconds",
			Help:      "Time taken by one sync run (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
	)
)

// SetupMetricsEndpoint serves /metrics on addr in the background.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorf("Metrics endpoint stopped: %v", err)
		}
	}()

	return server
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component string) {
	errorCounter.WithLabelValues(component).Inc()
}

// SetQueuePending publishes the current queue size.
func SetQueuePending(n int) {
	queuePending.Set(float64(n))
}

// IncSubmission counts one coordinator outcome.
func IncSubmission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

// IncSyncRecord counts one record handled during a sync run.
func IncSyncRecord(result string) {
	syncRecords.WithLabelValues(result).Inc()
}

// ObserveSyncDuration records how long a sync run took.
func ObserveSyncDuration(d time.Duration) {
	syncDuration.Observe(float64(d.Milliseconds()))
}
