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

// Package postgres implements the remote store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/config"
	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
	"github.com/united-manufacturing-hub/qualitylog/pkg/models"
	"github.com/united-manufacturing-hub/qualitylog/pkg/remote"
)

// minPartNoLength is the shortest part number worth a lookup.
const minPartNoLength = 3

// PgxIface is the subset of pgxpool.Pool used by Store. pgxmock pools satisfy it too.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type Store struct {
	db              PgxIface
	parts           *cache.Cache
	idempotencyKeys bool
	log             *zap.SugaredLogger
}

var _ remote.Store = (*Store)(nil)

// NewStore wraps an open pool. With idempotencyKeys set, queued records carry
// their client_ref and duplicates are dropped by the database.
func NewStore(db PgxIface, idempotencyKeys bool) *Store {
	return &Store{
		db:              db,
		parts:           cache.New(10*time.Second, time.Minute),
		idempotencyKeys: idempotencyKeys,
		log:             logger.For(logger.ComponentRemote),
	}
}

// Connect opens a connection pool. The backend does not have to be reachable:
// pgxpool connects lazily and the service starts in offline mode.
func Connect(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MinConns = 0
	poolConfig.MaxConns = int32(runtime.NumCPU())
	if poolConfig.MaxConns < 4 {
		poolConfig.MaxConns = 4
	}
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.MaxConnLifetime = 10 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	zap.S().Infof("Connecting to %s@%s:%d/%s [%s]", cfg.User, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	return pool, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return remote.Wrap("ping", s.db.Ping(ctx))
}

func (s *Store) Close() {
	s.db.Close()
}

// GetHealthCheck is a readiness check for the healthcheck handler.
func (s *Store) GetHealthCheck() healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.Ping(ctx)
	}
}

// InsertSortingLog writes one row. Without LoggedAt the database assigns the time.
func (s *Store) InsertSortingLog(ctx context.Context, log models.NewSortingLog) error {
	columns := []string{"part_no", "quantity_all_sorting", "quantity_ng", "operator_name", "factory_id", "reject_image_url", "ng_type"}
	args := []any{log.PartNo, log.QuantityAllSorting, log.QuantityNg, log.OperatorName, log.FactoryID, log.RejectImageURL, log.NgType}

	if log.LoggedAt != nil {
		columns = append(columns, "logged_at")
		args = append(args, *log.LoggedAt)
	}

	useRef := s.idempotencyKeys && log.ClientRef != nil && *log.ClientRef != ""
	if useRef {
		columns = append(columns, "client_ref")
		args = append(args, *log.ClientRef)
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO sorting_logs (%s) VALUES (%s)", strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if useRef {
		query += " ON CONFLICT (client_ref) DO NOTHING"
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return remote.Wrap("insert sorting log", err)
	}
	if useRef && tag.RowsAffected() == 0 {
		s.log.Infow("Sorting log was already stored", "client_ref", *log.ClientRef)
	}

	return nil
}

func (s *Store) FindFactoryByName(ctx context.Context, name string) (string, bool, error) {
	var id string
	err := s.db.QueryRow(ctx,
		`SELECT id::text FROM factories WHERE lower(company_name) = lower($1) LIMIT 1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, remote.Wrap("find factory", err)
	}

	return id, true, nil
}

func (s *Store) CreateFactory(ctx context.Context, name, location string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx,
		`INSERT INTO factories (company_name, location) VALUES ($1, $2) RETURNING id::text`, name, location).Scan(&id)
	if err != nil {
		return "", remote.Wrap("create factory", err)
	}

	return id, nil
}

// LookupPart finds a part by number. Numbers shorter than three characters are
// not looked up. Hits are cached for a few seconds.
func (s *Store) LookupPart(ctx context.Context, partNo string) (models.Part, bool, error) {
	partNo = models.NormalizePartNo(partNo)
	if len(partNo) < minPartNoLength {
		return models.Part{}, false, nil
	}

	if cached, ok := s.parts.Get(partNo); ok {
		return cached.(models.Part), true, nil
	}

	var part models.Part
	err := s.db.QueryRow(ctx,
		`SELECT part_no, part_name FROM parts_master WHERE part_no = $1`, partNo).Scan(&part.PartNo, &part.PartName)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Part{}, false, nil
	}
	if err != nil {
		return models.Part{}, false, remote.Wrap("lookup part", err)
	}

	s.parts.SetDefault(partNo, part)

	return part, true, nil
}

func (s *Store) ListProductionStatus(ctx context.Context) ([]models.ProductionStatus, error) {
	rows, err := s.db.Query(ctx, `SELECT id::text, label, value, sort_order FROM production_status ORDER BY sort_order`)
	if err != nil {
		return nil, remote.Wrap("list production status", err)
	}
	defer rows.Close()

	var out []models.ProductionStatus
	for rows.Next() {
		var st models.ProductionStatus
		if err := rows.Scan(&st.ID, &st.Label, &st.Value, &st.SortOrder); err != nil {
			return nil, remote.Wrap("scan production status", err)
		}
		out = append(out, st)
	}

	return out, remote.Wrap("list production status", rows.Err())
}

const listSortingLogsQuery = `SELECT l.id::text, l.part_no, COALESCE(p.part_name, ''), l.quantity_all_sorting, l.quantity_ng,
	COALESCE(l.operator_name, ''), COALESCE(f.company_name, ''), l.reject_image_url, l.ng_type, l.logged_at
FROM sorting_logs l
LEFT JOIN parts_master p ON p.part_no = l.part_no
LEFT JOIN factories f ON f.id = l.factory_id
WHERE l.logged_at >= $1
ORDER BY l.logged_at DESC`

// ListSortingLogs returns rows logged at or after since, newest first.
func (s *Store) ListSortingLogs(ctx context.Context, since time.Time) ([]models.SortingLog, error) {
	rows, err := s.db.Query(ctx, listSortingLogsQuery, since)
	if err != nil {
		return nil, remote.Wrap("list sorting logs", err)
	}
	defer rows.Close()

	var out []models.SortingLog
	for rows.Next() {
		var l models.SortingLog
		err := rows.Scan(&l.ID, &l.PartNo, &l.PartName, &l.QuantityAllSorting, &l.QuantityNg,
			&l.OperatorName, &l.FactoryName, &l.RejectImageURL, &l.NgType, &l.LoggedAt)
		if err != nil {
			return nil, remote.Wrap("scan sorting log", err)
		}
		out = append(out, l)
	}

	return out, remote.Wrap("list sorting logs", rows.Err())
}
