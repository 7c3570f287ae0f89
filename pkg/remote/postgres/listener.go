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

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
	"github.com/united-manufacturing-hub/qualitylog/pkg/metrics"
)

// Listener receives the realtime notifications raised by the sorting_logs trigger.
type Listener struct {
	listener *pq.Listener
	log      *zap.SugaredLogger
}

func NewListener(connString, channel string) (*Listener, error) {
	log := logger.For(logger.ComponentRemote)

	report := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			metrics.IncErrorCount(metrics.ComponentListener)
			log.Warnw("Notification listener lost its connection", "error", err)
		case pq.ListenerEventReconnected:
			log.Infow("Notification listener reconnected")
		}
	}

	l := pq.NewListener(connString, 10*time.Second, time.Minute, report)
	if err := l.Listen(channel); err != nil {
		_ = l.Close()

		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}

	return &Listener{listener: l, log: log}, nil
}

// Run calls handle with the payload of every notification until ctx is done.
// After a reconnect handle is called with an empty payload, since
// notifications may have been missed.
func (l *Listener) Run(ctx context.Context, handle func(payload string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-l.listener.Notify:
			if n == nil {
				handle("")

				continue
			}
			handle(n.Extra)
		case <-time.After(90 * time.Second):
			go func() {
				if err := l.listener.Ping(); err != nil {
					l.log.Debugw("Listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (l *Listener) Close() error {
	return l.listener.Close()
}
