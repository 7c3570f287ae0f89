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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/api"
	"github.com/united-manufacturing-hub/qualitylog/pkg/config"
	"github.com/united-manufacturing-hub/qualitylog/pkg/connectivity"
	"github.com/united-manufacturing-hub/qualitylog/pkg/coordinator"
	"github.com/united-manufacturing-hub/qualitylog/pkg/delivery"
	"github.com/united-manufacturing-hub/qualitylog/pkg/imagestore"
	"github.com/united-manufacturing-hub/qualitylog/pkg/insight"
	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
	"github.com/united-manufacturing-hub/qualitylog/pkg/metrics"
	"github.com/united-manufacturing-hub/qualitylog/pkg/monitor"
	"github.com/united-manufacturing-hub/qualitylog/pkg/notice"
	"github.com/united-manufacturing-hub/qualitylog/pkg/queue"
	"github.com/united-manufacturing-hub/qualitylog/pkg/queue/slot"
	"github.com/united-manufacturing-hub/qualitylog/pkg/remote"
	"github.com/united-manufacturing-hub/qualitylog/pkg/remote/postgres"
	"github.com/united-manufacturing-hub/qualitylog/pkg/sentry"
	"github.com/united-manufacturing-hub/qualitylog/pkg/syncengine"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger.Initialize()
	defer func() {
		_ = logger.Sync()
	}()
	log := logger.For(logger.ComponentCore)

	cfg, err := config.Load()
	if err != nil {
		zap.S().Fatalf("Invalid configuration: %s", err)
	}
	log.Infow("Starting qualitylog", "version", cfg.Version, "queue_backend", cfg.Queue.Backend)

	sentry.InitSentry(cfg.SentryDSN, cfg.Version)
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := metrics.SetupMetricsEndpoint(":2112")

	// Local queue
	backend, err := slot.Open(cfg.Queue)
	if err != nil {
		sentry.ReportIssue(fmt.Errorf("failed to open queue backend: %w", err), sentry.IssueTypeFatal, log)
		os.Exit(1)
	}
	store := queue.NewSlotStore(backend, queue.WithMaxBytes(cfg.Queue.MaxBytes))

	// Remote store. The pool connects lazily, so an unreachable database only
	// means every submission is queued.
	pool, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		sentry.ReportIssue(err, sentry.IssueTypeFatal, log)
		os.Exit(1)
	}
	db := postgres.NewStore(pool, cfg.IdempotencyKeys)
	withTimeout(ctx, cfg.RemoteTimeout, func(ctx context.Context) {
		if err := db.EnsureSchema(ctx); err != nil {
			log.Warnw("Could not verify the database schema, continuing", "error", err)
		}
	})

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	health.AddReadinessCheck("database", db.GetHealthCheck())
	go func() {
		/* #nosec G114 */
		if err := http.ListenAndServe("0.0.0.0:8086", health); err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()

	minioClient, err := imagestore.NewMinioClient(cfg.Minio)
	if err != nil {
		sentry.ReportIssue(fmt.Errorf("failed to create minio client: %w", err), sentry.IssueTypeFatal, log)
		os.Exit(1)
	}
	publicURL := cfg.Minio.PublicURL
	if publicURL == "" {
		publicURL = minioClient.EndpointURL().String()
	}
	images := imagestore.New(minioClient, cfg.Minio.Bucket, publicURL)
	withTimeout(ctx, cfg.RemoteTimeout, func(ctx context.Context) {
		if err := images.EnsureBucket(ctx); err != nil {
			log.Warnw("Could not verify the image bucket, continuing", "bucket", cfg.Minio.Bucket, "error", err)
		}
	})

	factories, err := remote.NewFactoryResolver(db, cfg.Postgres.LRUCacheSize, cfg.FactoryDefaultLocation)
	if err != nil {
		sentry.ReportIssue(err, sentry.IssueTypeFatal, log)
		os.Exit(1)
	}
	writer := delivery.NewWriter(images, factories, db, cfg.RemoteTimeout)

	// Notices
	broker := api.NewBroker()
	feed, err := notice.OpenFeed(cfg.Notice.QueuePath, notice.DefaultFeedLimit)
	if err != nil {
		sentry.ReportIssue(err, sentry.IssueTypeFatal, log)
		os.Exit(1)
	}
	sinks := notice.Fanout{notice.NewLogSink(), feed, broker}
	var mqttClient mqtt.Client
	if cfg.Notice.MQTTBrokerURL != "" {
		mqttClient, err = notice.ConnectMQTT(cfg.Notice.MQTTBrokerURL, "qualitylog-"+hostname())
		if err != nil {
			log.Warnw("MQTT notices disabled", "error", err)
		} else {
			sinks = append(sinks, notice.NewMQTTSink(mqttClient, cfg.Notice.MQTTTopic))
		}
	}

	oracle := connectivity.NewOverride(connectivity.NewInterfaces(nil))
	coord := coordinator.New(oracle, store, writer, coordinator.WithNotices(sinks))
	engine := syncengine.New(oracle, store, writer,
		syncengine.WithNotices(sinks),
		syncengine.WithIdempotencyKeys(cfg.IdempotencyKeys))

	counter := monitor.New(store, cfg.MonitorInterval)
	go counter.Run(ctx)
	go forwardCounts(ctx, counter, broker)

	if cfg.AutoSync {
		go engine.Run(ctx, cfg.MonitorInterval)
	}

	dashboard := insight.NewService(db, insight.DefaultWindow)
	listener, err := postgres.NewListener(cfg.Postgres.ConnString(), postgres.NotifyChannel)
	if err != nil {
		log.Warnw("Realtime notifications disabled, dashboard falls back to cache expiry", "error", err)
	} else {
		go listener.Run(ctx, func(payload string) {
			dashboard.Invalidate()
			broker.Publish("sorting_logs", payload)
		})
	}

	router := api.NewRouter(api.Deps{
		Coordinator:  coord,
		Sync:         engine,
		Queue:        store,
		Monitor:      counter,
		Connectivity: oracle,
		Notices:      feed,
		Parts:        db,
		Dashboard:    dashboard,
		Events:       broker,
	})
	apiServer := api.Serve(fmt.Sprintf(":%d", cfg.APIPort), router)
	log.Infow("API listening", "port", cfg.APIPort)

	<-ctx.Done()
	log.Infow("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	errs = append(errs, apiServer.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	if listener != nil {
		errs = append(errs, listener.Close())
	}
	if mqttClient != nil {
		mqttClient.Disconnect(1000)
	}
	db.Close()
	errs = append(errs, feed.Close(), backend.Close())

	if err := errors.Join(errs...); err != nil {
		log.Errorw("Shutdown finished with errors", "error", err)
	}
	log.Infow("Successful shutdown. Exiting.")
}

func withTimeout(parent context.Context, timeout time.Duration, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	fn(ctx)
}

func forwardCounts(ctx context.Context, counter *monitor.Monitor, broker *api.Broker) {
	counts, cancel := counter.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-counts:
			if !ok {
				return
			}
			broker.Publish("queue", map[string]int{"pending": n})
		}
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}

	return name
}
