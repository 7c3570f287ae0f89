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

// Package notice delivers the operator-facing outcome of every submission and
// sync. A notice is always one of success, offline or error.
package notice

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelOffline Level = "offline"
	LevelError   Level = "error"
)

type Notice struct {
	Level       Level     `json:"level"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

// New stamps a notice with the current time.
func New(level Level, title, description string) Notice {
	return Notice{Level: level, Title: title, Description: description, At: time.Now().UTC()}
}

// Sink receives notices.
type Sink interface {
	Notify(n Notice) error
}

// Fanout hands every notice to all sinks. One failing sink does not stop the others.
type Fanout []Sink

func (f Fanout) Notify(n Notice) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Notify(n); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// LogSink writes notices to the component log.
type LogSink struct {
	log *zap.SugaredLogger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logger.For(logger.ComponentNotice)}
}

func (l *LogSink) Notify(n Notice) error {
	switch n.Level {
	case LevelError:
		l.log.Warnw(n.Title, "description", n.Description)
	default:
		l.log.Infow(n.Title, "level", n.Level, "description", n.Description)
	}

	return nil
}

// Discard drops every notice.
var Discard Sink = discard{}

type discard struct{}

func (discard) Notify(Notice) error { return nil }
