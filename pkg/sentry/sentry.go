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

package sentry

import (
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// IssueType maps onto a sentry level.
type IssueType string

const (
	IssueTypeError   IssueType = "error"
	IssueTypeWarning IssueType = "warning"
	IssueTypeFatal   IssueType = "fatal"
)

const debounceWindow = time.Minute

var (
	enabled  bool
	mu       sync.Mutex
	lastSent = map[string]time.Time{}
)

// InitSentry enables reporting when dsn is set. An empty dsn keeps reporting
// disabled and every ReportIssue call only logs.
func InitSentry(dsn, appVersion string) {
	if dsn == "" {
		zap.S().Debug("Sentry disabled, no DSN configured")

		return
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environmentFor(appVersion),
		Release:     "qualitylog@" + appVersion,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)

		return
	}

	mu.Lock()
	enabled = true
	mu.Unlock()
}

const (
	environmentProduction  = "production"
	environmentDevelopment = "development"
)

// environmentFor maps release versions to production and anything else,
// prereleases and unparseable versions included, to development.
func environmentFor(appVersion string) string {
	version, err := semver.NewVersion(appVersion)
	if err != nil {
		zap.S().Errorf("Failed to parse app version, using default environment (%s): %s", environmentDevelopment, err)

		return environmentDevelopment
	}
	if version.Prerelease() == "" {
		return environmentProduction
	}

	return environmentDevelopment
}

func title(err error) string {
	message := err.Error()
	if idx := strings.IndexAny(message, ".,:"); idx > 0 {
		message = message[:idx]
	}
	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func level(t IssueType) sentry.Level {
	switch t {
	case IssueTypeFatal:
		return sentry.LevelFatal
	case IssueTypeWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// ReportIssue logs err and sends it to sentry. Identical titles are sent at
// most once per minute.
func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	if err == nil {
		return
	}
	if log != nil {
		log.Errorw("Reporting issue", "type", issueType, "error", err)
	}

	key := title(err)

	mu.Lock()
	if !enabled {
		mu.Unlock()

		return
	}
	if at, ok := lastSent[key]; ok && time.Since(at) < debounceWindow {
		mu.Unlock()

		return
	}
	lastSent[key] = time.Now()
	mu.Unlock()

	event := sentry.NewEvent()
	event.Level = level(issueType)
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       key,
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	sentry.CaptureEvent(event)
}

// Flush waits up to timeout for queued events to be sent.
func Flush(timeout time.Duration) {
	mu.Lock()
	on := enabled
	mu.Unlock()

	if on {
		sentry.Flush(timeout)
	}
}
