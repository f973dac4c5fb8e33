// Package store persists the exchange audit history.
package store

import (
	"context"
	"time"
)

// ExchangeRecord is one audited domain event.
type ExchangeRecord struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Requester string    `json:"requester"`
	Target    string    `json:"target,omitempty"`
	Actor     string    `json:"actor"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// ExchangeLog is an append-only history of exchange and subscription events.
// It is never read back into live state.
type ExchangeLog interface {
	Append(ctx context.Context, rec ExchangeRecord) error
	// Recent returns the newest records where deviceID is requester or target.
	Recent(ctx context.Context, deviceID string, limit int) ([]ExchangeRecord, error)
	Close() error
}
