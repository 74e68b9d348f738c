package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS parking_lots (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		name STRING NOT NULL,
		overtime_rate DECIMAL(12,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		INDEX parking_lots_owner (owner_id)
	)`,
	`CREATE TABLE IF NOT EXISTS price_tiers (
		lot_id UUID NOT NULL REFERENCES parking_lots (id),
		position INT NOT NULL,
		hours INT NOT NULL CHECK (hours > 0),
		price DECIMAL(12,2) NOT NULL CHECK (price >= 0),
		PRIMARY KEY (lot_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS slots (
		id UUID PRIMARY KEY,
		lot_id UUID NOT NULL REFERENCES parking_lots (id),
		number STRING NOT NULL,
		kind STRING NOT NULL CHECK (kind IN ('comum', 'eletrica', 'acessivel', 'moto')),
		status STRING NOT NULL CHECK (status IN ('disponivel', 'reservada', 'ocupada', 'manutencao')),
		booking_id UUID,
		user_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (lot_id, number),
		CONSTRAINT slots_occupant CHECK (
			(status IN ('reservada', 'ocupada')) = (booking_id IS NOT NULL AND user_id IS NOT NULL)
		)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS slots_active_booking ON slots (booking_id) WHERE booking_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		owner_id UUID NOT NULL,
		lot_id UUID NOT NULL REFERENCES parking_lots (id),
		slot_id UUID REFERENCES slots (id),
		spot_number STRING NOT NULL DEFAULT '',
		date DATE NOT NULL,
		start_time STRING NOT NULL,
		end_time STRING NOT NULL,
		price DECIMAL(12,2) NOT NULL,
		status STRING NOT NULL CHECK (status IN (
			'aguardando_confirmacao', 'reservada', 'ocupada', 'concluida', 'rejeitada', 'expirada', 'cancelada'
		)),
		version INT8 NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ,
		accepted_at TIMESTAMPTZ,
		rejected_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		arrival_owner_at TIMESTAMPTZ,
		arrival_user_at TIMESTAMPTZ,
		departure_owner_at TIMESTAMPTZ,
		departure_user_at TIMESTAMPTZ,
		INDEX bookings_user (user_id, created_at DESC),
		INDEX bookings_owner (owner_id, created_at DESC)
	)`,
	`CREATE INDEX IF NOT EXISTS bookings_pending_expiry ON bookings (expires_at) WHERE status = 'aguardando_confirmacao'`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		type STRING NOT NULL,
		title STRING NOT NULL,
		message STRING NOT NULL,
		booking_id UUID,
		lot_id UUID,
		read BOOL NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL,
		INDEX notifications_user (user_id, created_at DESC)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id UUID PRIMARY KEY,
		aggregate_type STRING NOT NULL,
		aggregate_id UUID NOT NULL,
		event_type STRING NOT NULL,
		payload_json JSONB NOT NULL,
		status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
		dedupe_key STRING NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ,
		INDEX outbox_pending (status, created_at)
	)`,
}

// Migrate creates the schema if it does not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}
