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

// Package remote describes the hosted backend the inspection records end up in
// and decides how its failures are treated.
package remote

import (
	"context"
	"time"

	"github.com/united-manufacturing-hub/qualitylog/pkg/models"
)

// LogWriter persists sorting results.
type LogWriter interface {
	InsertSortingLog(ctx context.Context, log models.NewSortingLog) error
}

// FactoryStore looks factories up by name and creates them.
type FactoryStore interface {
	// FindFactoryByName matches company_name case-insensitively.
	FindFactoryByName(ctx context.Context, name string) (id string, found bool, err error)
	CreateFactory(ctx context.Context, name, location string) (string, error)
}

// PartCatalog resolves part numbers against parts_master.
type PartCatalog interface {
	LookupPart(ctx context.Context, partNo string) (models.Part, bool, error)
}

// InsightSource feeds the dashboard.
type InsightSource interface {
	ListSortingLogs(ctx context.Context, since time.Time) ([]models.SortingLog, error)
	ListProductionStatus(ctx context.Context) ([]models.ProductionStatus, error)
}

// Store is everything the service needs from the backend.
type Store interface {
	LogWriter
	FactoryStore
	PartCatalog
	InsightSource
	Ping(ctx context.Context) error
}
