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

	"github.com/united-manufacturing-hub/qualitylog/pkg/remote"
)

// NotifyChannel is the channel the sorting_logs insert trigger notifies on.
const NotifyChannel = "sorting_logs_changes"

var requiredTables = []string{"sorting_logs", "factories", "parts_master", "production_status"}

var notifyStatements = []string{
	`CREATE OR REPLACE FUNCTION qualitylog_notify_sorting_logs() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('` + NotifyChannel + `', NEW.id::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS qualitylog_sorting_logs_notify ON sorting_logs`,
	`CREATE TRIGGER qualitylog_sorting_logs_notify AFTER INSERT ON sorting_logs FOR EACH ROW EXECUTE FUNCTION qualitylog_notify_sorting_logs()`,
}

var idempotencyStatements = []string{
	`ALTER TABLE sorting_logs ADD COLUMN IF NOT EXISTS client_ref text`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sorting_logs_client_ref_key ON sorting_logs (client_ref)`,
}

// EnsureSchema checks that the expected tables exist and installs the change
// notification trigger. The client_ref column is only added when idempotency
// keys are enabled.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, table := range requiredTables {
		var name string
		err := s.db.QueryRow(ctx,
			`SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1`, table).Scan(&name)
		if err != nil {
			return remote.Wrap("check table "+table, fmt.Errorf("table %s is not available: %w", table, err))
		}
	}

	statements := notifyStatements
	if s.idempotencyKeys {
		statements = append(append([]string{}, idempotencyStatements...), notifyStatements...)
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return remote.Wrap("ensure schema", err)
		}
	}

	return nil
}
