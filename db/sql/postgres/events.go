package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/reportmate/fleetgate/aggregate"
)

// Querier is the slice of *sql.DB the event repository needs; tests stub it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// EventsMigration creates the local event log table.
const EventsMigration = `CREATE TABLE IF NOT EXISTS device_events (
    device_id     TEXT        NOT NULL,
    serial_number TEXT        NOT NULL DEFAULT '',
    device_name   TEXT        NOT NULL DEFAULT '',
    kind          TEXT        NOT NULL,
    message       TEXT        NOT NULL DEFAULT '',
    payload       JSONB,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EventRepository reads the fleet event log. The gateway treats the schema as
// an opaque row source; rows come back as flat records keyed by
// "<deviceID>_<unix-millis>".
type EventRepository struct {
	db Querier
}

func NewEventRepository(db Querier) *EventRepository {
	return &EventRepository{db: db}
}

// ListRecent returns up to limit events, newest first.
func (r *EventRepository) ListRecent(ctx context.Context, limit int) ([]aggregate.Record, error) {
	const query = `SELECT device_id, serial_number, device_name, kind, message, payload, created_at
                   FROM device_events ORDER BY created_at DESC LIMIT $1`
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var records []aggregate.Record
	for rows.Next() {
		var (
			deviceID, serial, name, kind, message string
			payload                               []byte
			createdAt                             time.Time
		)
		if err := rows.Scan(&deviceID, &serial, &name, &kind, &message, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		record := aggregate.Record{
			"id":           fmt.Sprintf("%s_%d", deviceID, createdAt.UnixMilli()),
			"deviceId":     deviceID,
			"serialNumber": serial,
			"deviceName":   name,
			"kind":         kind,
			"message":      message,
			"createdAt":    createdAt,
		}
		if len(payload) > 0 {
			var detail map[string]any
			if err := json.Unmarshal(payload, &detail); err == nil {
				record["payload"] = detail
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	return records, nil
}
