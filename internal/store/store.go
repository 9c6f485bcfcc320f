// Package store persists and retrieves historical bar data locally. The
// engine never fetches data over the network; callers hydrate a store out of
// band and the backtester only reads from it.
package store

import (
	"context"
	"time"

	"quantsim/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars, deduplicating on (symbol, timestamp).
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end],
	// sorted chronologically.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with stored bars.
	ListSymbols(ctx context.Context) ([]string, error)
}
