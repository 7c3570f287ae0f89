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

package insight

import (
	"context"
	"errors"
	"time"

	"github.com/coocood/freecache"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
	"github.com/united-manufacturing-hub/qualitylog/pkg/metrics"
	"github.com/united-manufacturing-hub/qualitylog/pkg/remote"
)

const (
	// DefaultWindow is how far back the dashboard looks.
	DefaultWindow = 24 * time.Hour

	cacheKey        = "dashboard"
	cacheTTLSeconds = 60
	cacheSizeBytes  = 8 * 1024 * 1024
)

// Service builds the dashboard and caches it as JSON until Invalidate is called
// or the entry expires.
type Service struct {
	source remote.InsightSource
	window time.Duration
	cache  *freecache.Cache
	now    func() time.Time
	log    *zap.SugaredLogger
}

func NewService(source remote.InsightSource, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}

	return &Service{
		source: source,
		window: window,
		cache:  freecache.NewCache(cacheSizeBytes),
		now:    time.Now,
		log:    logger.For(logger.ComponentInsight),
	}
}

// DashboardJSON returns the encoded dashboard, from cache when possible.
func (s *Service) DashboardJSON(ctx context.Context) ([]byte, error) {
	cached, err := s.cache.Get([]byte(cacheKey))
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, freecache.ErrNotFound) {
		s.log.Warnw("Dashboard cache read failed", "error", err)
	}

	d, err := s.Dashboard(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set([]byte(cacheKey), encoded, cacheTTLSeconds); err != nil {
		s.log.Warnw("Dashboard too large to cache", "bytes", len(encoded), "error", err)
	}

	return encoded, nil
}

// Dashboard always queries the source.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	now := s.now()
	logs, err := s.source.ListSortingLogs(ctx, now.Add(-s.window))
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentInsight)

		return Dashboard{}, err
	}
	status, err := s.source.ListProductionStatus(ctx)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentInsight)

		return Dashboard{}, err
	}

	return Build(logs, status, now), nil
}

// Invalidate drops the cached dashboard. It is called for every change notification.
func (s *Service) Invalidate() {
	if s.cache.Del([]byte(cacheKey)) {
		s.log.Debugw("Dashboard cache invalidated")
	}
}
