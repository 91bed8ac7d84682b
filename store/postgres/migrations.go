package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Outhook store.
// It can be registered with a grove orchestrator for managed migration
// runs (locking, version tracking, rollback support).
var Migrations = migrate.NewGroup("outhook")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_outhook_subscriptions",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS outhook_subscriptions (
    id                   TEXT PRIMARY KEY,
    url                  TEXT NOT NULL DEFAULT '',
    events               TEXT[] NOT NULL DEFAULT '{}',
    verification_mode    TEXT NOT NULL DEFAULT 'none',
    secret               TEXT NOT NULL DEFAULT '',
    status               TEXT NOT NULL DEFAULT 'active',
    headers              JSONB NOT NULL DEFAULT '{}',
    rate_limit           INT NOT NULL DEFAULT 0,
    metadata             JSONB NOT NULL DEFAULT '{}',
    delivery_count       BIGINT NOT NULL DEFAULT 0,
    consecutive_failures INT NOT NULL DEFAULT 0,
    last_delivery_at     TIMESTAMPTZ,
    last_delivery_status TEXT NOT NULL DEFAULT '',
    last_delivery_error  TEXT NOT NULL DEFAULT '',
    verification_error   TEXT NOT NULL DEFAULT '',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_outhook_subscriptions_status ON outhook_subscriptions (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS outhook_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_outhook_events",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS outhook_events (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL DEFAULT '',
    data            JSONB,
    idempotency_key TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_outhook_events_type ON outhook_events (type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_outhook_events_idempotency ON outhook_events (idempotency_key) WHERE idempotency_key != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS outhook_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_outhook_deliveries",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS outhook_deliveries (
    id              TEXT PRIMARY KEY,
    event_id        TEXT NOT NULL DEFAULT '',
    subscription_id TEXT NOT NULL DEFAULT '',
    state           TEXT NOT NULL DEFAULT 'pending',
    attempt_count   INT NOT NULL DEFAULT 0,
    max_attempts    INT NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_error      TEXT NOT NULL DEFAULT '',
    last_status_code INT NOT NULL DEFAULT 0,
    last_response   TEXT NOT NULL DEFAULT '',
    last_latency_ms INT NOT NULL DEFAULT 0,
    completed_at    TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_outhook_deliveries_pending ON outhook_deliveries (next_attempt_at) WHERE state = 'pending';
CREATE INDEX IF NOT EXISTS idx_outhook_deliveries_event ON outhook_deliveries (event_id);
CREATE INDEX IF NOT EXISTS idx_outhook_deliveries_subscription ON outhook_deliveries (subscription_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS outhook_deliveries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_outhook_dlq",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS outhook_dlq (
    id              TEXT PRIMARY KEY,
    delivery_id     TEXT NOT NULL DEFAULT '',
    event_id        TEXT NOT NULL DEFAULT '',
    subscription_id TEXT NOT NULL DEFAULT '',
    event_type      TEXT NOT NULL DEFAULT '',
    url             TEXT NOT NULL DEFAULT '',
    payload         JSONB,
    error           TEXT NOT NULL DEFAULT '',
    attempt_count   INT NOT NULL DEFAULT 0,
    last_status_code INT NOT NULL DEFAULT 0,
    replayed_at     TIMESTAMPTZ,
    failed_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_outhook_dlq_subscription ON outhook_dlq (subscription_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS outhook_dlq`)
				return err
			},
		},
	)
}
