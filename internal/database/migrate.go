package database

import (
	"context"
	"fmt"
)

// schema is applied in order on every start; each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS predictions (
		id                  TEXT PRIMARY KEY,
		asset_id            TEXT NOT NULL,
		failure_probability DOUBLE PRECISION NOT NULL CHECK (failure_probability BETWEEN 0 AND 100),
		confidence_score    DOUBLE PRECISION NOT NULL CHECK (confidence_score BETWEEN 0 AND 100),
		risk_level          TEXT NOT NULL,
		model_version       TEXT NOT NULL DEFAULT '',
		recommendations     TEXT NOT NULL DEFAULT '',
		advisory            BOOLEAN NOT NULL DEFAULT FALSE,
		policy_status       TEXT NOT NULL DEFAULT 'PENDING',
		captured_at         TIMESTAMPTZ NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_predictions_asset_captured ON predictions (asset_id, captured_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_predictions_pending ON predictions (captured_at) WHERE policy_status = 'PENDING'`,

	`CREATE TABLE IF NOT EXISTS alerts (
		id            TEXT PRIMARY KEY,
		asset_id      TEXT NOT NULL,
		alert_type    TEXT NOT NULL,
		prediction_id TEXT REFERENCES predictions (id),
		severity      TEXT NOT NULL,
		title         TEXT NOT NULL,
		message       TEXT NOT NULL,
		is_resolved   BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_at   TIMESTAMPTZ,
		resolved_by   TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_alerts_open_per_asset ON alerts (asset_id, alert_type) WHERE NOT is_resolved`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS work_orders (
		id              TEXT PRIMARY KEY,
		asset_id        TEXT NOT NULL,
		work_order_type TEXT NOT NULL,
		priority        TEXT NOT NULL,
		status          TEXT NOT NULL,
		source_alert_id TEXT NOT NULL REFERENCES alerts (id),
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_work_orders_open_per_alert ON work_orders (asset_id, source_alert_id) WHERE status = 'OPEN'`,

	`CREATE TABLE IF NOT EXISTS notification_receipts (
		id           BIGSERIAL PRIMARY KEY,
		alert_id     TEXT NOT NULL REFERENCES alerts (id),
		channel      TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		status       TEXT NOT NULL,
		error        TEXT NOT NULL DEFAULT '',
		attempted_at TIMESTAMPTZ NOT NULL,
		UNIQUE (alert_id, channel, recipient_id)
	)`,

	`CREATE TABLE IF NOT EXISTS asset_policy_state (
		asset_id           TEXT PRIMARY KEY,
		state              TEXT NOT NULL,
		open_alert_id      TEXT REFERENCES alerts (id),
		last_applied_at    TIMESTAMPTZ NOT NULL,
		last_prediction_id TEXT NOT NULL DEFAULT '',
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS recipients (
		id                     TEXT PRIMARY KEY,
		name                   TEXT NOT NULL DEFAULT '',
		email                  TEXT NOT NULL DEFAULT '',
		chat_handle            TEXT NOT NULL DEFAULT '',
		role                   TEXT NOT NULL DEFAULT '',
		can_view_all_resources BOOLEAN NOT NULL DEFAULT FALSE,
		channels               TEXT[] NOT NULL DEFAULT '{}'
	)`,
}

// Migrate creates the ledger tables and indexes if they do not exist.
func (d *Database) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration step %d: %w", i+1, err)
		}
	}
	return nil
}
