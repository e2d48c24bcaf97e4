package storage

import (
	"context"
	"fmt"

	"github.com/mykyno/hydroponik/internal/dosing"
)

const schema = `
CREATE TABLE IF NOT EXISTS dose_events (
	id           UUID PRIMARY KEY,
	channel      TEXT NOT NULL,
	source       TEXT NOT NULL,
	volume_ml    REAL NOT NULL,
	duration_ms  BIGINT NOT NULL,
	flow_rate    REAL NOT NULL,
	duty_percent REAL NOT NULL,
	ph           REAL NOT NULL,
	target       REAL NOT NULL,
	clock_ms     BIGINT NOT NULL,
	dosed_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS dose_events_dosed_at_idx ON dose_events (dosed_at DESC);
`

// EnsureSchema creates the dose history table if it does not exist yet.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *PostgresClient) InsertDoseEvent(ctx context.Context, ev dosing.DoseEvent) error {
	r := NewDoseRecord(ev)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO dose_events (id, channel, source, volume_ml, duration_ms, flow_rate,
			duty_percent, ph, target, clock_ms, dosed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.Channel, r.Source, r.VolumeML, r.DurationMs, r.FlowRate,
		r.DutyPercent, r.PH, r.Target, r.ClockMs, r.DosedAt)

	if err != nil {
		return fmt.Errorf("failed to insert dose event: %w", err)
	}
	return nil
}

// ListDoseEvents returns up to limit events, newest first.
func (p *PostgresClient) ListDoseEvents(ctx context.Context, limit int) ([]dosing.DoseEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, channel, source, volume_ml, duration_ms, flow_rate,
			duty_percent, ph, target, clock_ms, dosed_at
		FROM dose_events
		ORDER BY dosed_at DESC
		LIMIT $1
	`, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to query dose events: %w", err)
	}
	defer rows.Close()

	var events []dosing.DoseEvent
	for rows.Next() {
		var r DoseRecord
		if err := rows.Scan(&r.ID, &r.Channel, &r.Source, &r.VolumeML, &r.DurationMs, &r.FlowRate,
			&r.DutyPercent, &r.PH, &r.Target, &r.ClockMs, &r.DosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dose event: %w", err)
		}

		ev, err := r.Event()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dose events: %w", err)
	}
	return events, nil
}
