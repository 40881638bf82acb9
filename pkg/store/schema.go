package store

import (
	"context"
	"fmt"
)

// schemaMigrations are applied in order at startup. Versions already recorded
// in schema_migrations are skipped, so adding a new entry at the end is the
// only supported way to change the schema.
var schemaMigrations = []struct {
	version int64
	name    string
	up      string
}{
	{
		version: 1,
		name:    "create_tenants",
		up: `
CREATE TABLE IF NOT EXISTS tenants (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    monthly_limit   BIGINT NOT NULL,
    rate_per_minute INTEGER NOT NULL,
    quota_used      BIGINT NOT NULL DEFAULT 0,
    quota_reset_at  TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	},
	{
		version: 2,
		name:    "create_notifications",
		up: `
CREATE TABLE IF NOT EXISTS notifications (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    kind            TEXT NOT NULL,
    priority        INTEGER NOT NULL,
    status          TEXT NOT NULL,
    idempotency_key TEXT,
    payload         BYTEA NOT NULL,
    attempts        INTEGER NOT NULL DEFAULT 0,
    max_attempts    INTEGER NOT NULL,
    last_error      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL,
    started_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ
)`,
	},
	{
		version: 3,
		name:    "notifications_idempotency_unique",
		up: `
CREATE UNIQUE INDEX IF NOT EXISTS notifications_tenant_idempotency_key
ON notifications (tenant_id, idempotency_key)
WHERE idempotency_key IS NOT NULL`,
	},
	{
		version: 4,
		name:    "create_delivery_attempts",
		up: `
CREATE TABLE IF NOT EXISTS delivery_attempts (
    id              TEXT PRIMARY KEY,
    notification_id TEXT NOT NULL,
    number          INTEGER NOT NULL,
    outcome         TEXT NOT NULL,
    status_code     INTEGER NOT NULL DEFAULT 0,
    response        TEXT NOT NULL DEFAULT '',
    error           TEXT NOT NULL DEFAULT '',
    at              TIMESTAMPTZ NOT NULL
)`,
	},
	{
		version: 5,
		name:    "delivery_attempts_notification_index",
		up: `
CREATE INDEX IF NOT EXISTS delivery_attempts_notification_id
ON delivery_attempts (notification_id, number)`,
	},
}

// Migrate applies pending schema migrations and returns how many ran.
func (a *PostgresAdapter) Migrate(ctx context.Context) (int, error) {
	_, err := a.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	if err != nil {
		return 0, fmt.Errorf("create schema_migrations failed: %w", err)
	}

	applied := 0
	for _, migration := range schemaMigrations {
		var exists bool
		err := a.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`,
			migration.version,
		).Scan(&exists)
		if err != nil {
			return applied, fmt.Errorf("check migration %d failed: %w", migration.version, err)
		}
		if exists {
			continue
		}

		migrationCopy := migration
		err = a.WithTransaction(ctx, func(txCtx context.Context) error {
			if _, err := a.ExecContext(txCtx, migrationCopy.up); err != nil {
				return fmt.Errorf("apply migration %d (%s) failed: %w", migrationCopy.version, migrationCopy.name, err)
			}
			if _, err := a.ExecContext(txCtx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				migrationCopy.version, migrationCopy.name,
			); err != nil {
				return fmt.Errorf("record migration %d failed: %w", migrationCopy.version, err)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}

		a.logger.Info("schema migration applied", "version", migrationCopy.version, "name", migrationCopy.name)
		applied++
	}
	return applied, nil
}
