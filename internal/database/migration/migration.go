package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_table_canvas_items",
		SQL: `CREATE TABLE IF NOT EXISTS canvas_items (
  id         TEXT             PRIMARY KEY,
  kind       TEXT             NOT NULL CHECK (kind IN ('note', 'checklist', 'image')),
  x          DOUBLE PRECISION NOT NULL DEFAULT 0,
  y          DOUBLE PRECISION NOT NULL DEFAULT 0,
  width      DOUBLE PRECISION NOT NULL DEFAULT 0,
  height     DOUBLE PRECISION NOT NULL DEFAULT 0,
  content    TEXT             NOT NULL DEFAULT '',
  checklist  JSONB,
  image_ref  TEXT             NOT NULL DEFAULT '',
  color      TEXT             NOT NULL DEFAULT '',
  rotation   DOUBLE PRECISION NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ      NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_canvas_items_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_canvas_items_created_at ON canvas_items (created_at, id);`,
	},
	{
		Name: "create_index_canvas_items_image_ref",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_canvas_items_image_ref ON canvas_items (image_ref) WHERE image_ref <> '';`,
	},
	{
		Name: "create_table_users",
		SQL: `CREATE TABLE IF NOT EXISTS users (
  id            TEXT        PRIMARY KEY,
  username      TEXT        NOT NULL UNIQUE,
  email         TEXT        NOT NULL UNIQUE,
  password_hash TEXT        NOT NULL,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
}

// EnsureMigrated checks if the newest table exists and runs migrations if it doesn't.
// Every step is idempotent, so a schema from an older release is brought up to date.
func EnsureMigrated(ctx context.Context, db *sql.DB, logger *zap.Logger, dbHost string) error {
	start := time.Now()
	log := logger.With(zap.String("component", "database"), zap.String("db_host", dbHost))

	log.Info("db migration check", zap.String("event", "db_migration_check"))

	var exists bool
	const query = "SELECT to_regclass('public.users') IS NOT NULL"
	if err := db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		log.Error("db migration failed",
			zap.String("event", "db_migration_failed"),
			zap.Error(err),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Info("schema already exists, skipping migration",
			zap.String("event", "db_migration_skip"),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil
	}

	log.Info("db migration start", zap.String("event", "db_migration_start"), zap.Int("steps", len(steps)))

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error("db migration failed",
				zap.String("event", "db_migration_failed"),
				zap.String("migration_step", step.Name),
				zap.Error(err),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Info("db migration step",
			zap.String("event", "db_migration_step"),
			zap.String("migration_step", step.Name),
			zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
		)
	}

	log.Info("db migration success",
		zap.String("event", "db_migration_success"),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}
