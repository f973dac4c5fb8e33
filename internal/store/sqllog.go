package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Schema is valid for both SQLite and Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS exchange_events (
	id        VARCHAR(36)  PRIMARY KEY,
	event     VARCHAR(64)  NOT NULL,
	requester VARCHAR(255) NOT NULL,
	target    VARCHAR(255) NOT NULL DEFAULT '',
	actor     VARCHAR(255) NOT NULL,
	detail    TEXT         NOT NULL DEFAULT '',
	at_ms     BIGINT       NOT NULL
);
CREATE INDEX IF NOT EXISTS exchange_events_requester_idx ON exchange_events (requester, at_ms);
CREATE INDEX IF NOT EXISTS exchange_events_target_idx ON exchange_events (target, at_ms);
`

type exchangeRow struct {
	ID        string `db:"id"`
	Event     string `db:"event"`
	Requester string `db:"requester"`
	Target    string `db:"target"`
	Actor     string `db:"actor"`
	Detail    string `db:"detail"`
	AtMs      int64  `db:"at_ms"`
}

// SQLExchangeLog implements ExchangeLog on any sqlx driver; queries are
// rebound to the driver's placeholder style.
type SQLExchangeLog struct {
	db *sqlx.DB
}

// NewSQLExchangeLog creates the schema if needed.
func NewSQLExchangeLog(ctx context.Context, db *sqlx.DB) (*SQLExchangeLog, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("create exchange_events: %w", err)
	}
	return &SQLExchangeLog{db: db}, nil
}

func (s *SQLExchangeLog) Append(ctx context.Context, rec ExchangeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.Must(uuid.NewV7()).String()
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	row := exchangeRow{
		ID:        rec.ID,
		Event:     rec.Event,
		Requester: rec.Requester,
		Target:    rec.Target,
		Actor:     rec.Actor,
		Detail:    rec.Detail,
		AtMs:      rec.At.UTC().UnixMilli(),
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO exchange_events (id, event, requester, target, actor, detail, at_ms)
		 VALUES (:id, :event, :requester, :target, :actor, :detail, :at_ms)`, row)
	if err != nil {
		return fmt.Errorf("insert exchange event: %w", err)
	}
	return nil
}

func (s *SQLExchangeLog) Recent(ctx context.Context, deviceID string, limit int) ([]ExchangeRecord, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []exchangeRow
	q := s.db.Rebind(`SELECT id, event, requester, target, actor, detail, at_ms
		FROM exchange_events
		WHERE requester = ? OR target = ?
		ORDER BY at_ms DESC, id DESC
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, deviceID, deviceID, limit); err != nil {
		return nil, fmt.Errorf("query exchange events: %w", err)
	}

	out := make([]ExchangeRecord, len(rows))
	for i, r := range rows {
		out[i] = ExchangeRecord{
			ID:        r.ID,
			Event:     r.Event,
			Requester: r.Requester,
			Target:    r.Target,
			Actor:     r.Actor,
			Detail:    r.Detail,
			At:        time.UnixMilli(r.AtMs).UTC(),
		}
	}
	return out, nil
}

func (s *SQLExchangeLog) Close() error {
	return s.db.Close()
}
