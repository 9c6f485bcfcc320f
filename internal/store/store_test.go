package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"quantsim/internal/domain"
)

func sampleBars(symbol string, start time.Time, closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

// storeRoundTrip exercises the BarStore contract shared by both
// implementations.
func storeRoundTrip(t *testing.T, st BarStore) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	if err := st.WriteBars(ctx, sampleBars("AAPL", start, 100, 101, 102)); err != nil {
		t.Fatalf("WriteBars() returned error: %v", err)
	}
	if err := st.WriteBars(ctx, sampleBars("MSFT", start, 300, 301)); err != nil {
		t.Fatalf("WriteBars() returned error: %v", err)
	}

	bars, err := st.ReadBars(ctx, "AAPL", start, start.AddDate(0, 0, 10))
	if err != nil {
		t.Fatalf("ReadBars() returned error: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("ReadBars() returned %d bars, want 3", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Before(bars[i-1].Timestamp) {
			t.Error("ReadBars() returned bars out of chronological order")
		}
	}
	if bars[0].Close != 100 || bars[2].Close != 102 {
		t.Errorf("ReadBars() closes = %v, %v, want 100, 102", bars[0].Close, bars[2].Close)
	}

	// Range filter: only the middle day.
	mid, err := st.ReadBars(ctx, "AAPL", start.AddDate(0, 0, 1), start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ReadBars() returned error: %v", err)
	}
	if len(mid) != 1 || mid[0].Close != 101 {
		t.Errorf("ReadBars() range filter returned %v, want single bar closing 101", mid)
	}

	// Rewriting the same timestamps must not duplicate.
	if err := st.WriteBars(ctx, sampleBars("AAPL", start, 100.5, 101.5, 102.5)); err != nil {
		t.Fatalf("WriteBars() rewrite returned error: %v", err)
	}
	bars, err = st.ReadBars(ctx, "AAPL", start, start.AddDate(0, 0, 10))
	if err != nil {
		t.Fatalf("ReadBars() returned error: %v", err)
	}
	if len(bars) != 3 {
		t.Errorf("ReadBars() after rewrite returned %d bars, want 3 (dedupe)", len(bars))
	}
	if bars[0].Close != 100.5 {
		t.Errorf("ReadBars() after rewrite close = %v, want 100.5 (incoming wins)", bars[0].Close)
	}

	symbols, err := st.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols() returned error: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "MSFT" {
		t.Errorf("ListSymbols() = %v, want [AAPL MSFT]", symbols)
	}

	// Unknown symbol reads empty, not an error.
	none, err := st.ReadBars(ctx, "ZZZZ", start, start.AddDate(0, 0, 10))
	if err != nil {
		t.Fatalf("ReadBars() for unknown symbol returned error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ReadBars() for unknown symbol returned %d bars, want 0", len(none))
	}
}

func TestParquetStoreRoundTrip(t *testing.T) {
	storeRoundTrip(t, NewParquetStore(t.TempDir()))
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "quantsim.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() returned error: %v", err)
	}
	defer st.Close()

	storeRoundTrip(t, st)
}

func TestParquetStoreSpansYears(t *testing.T) {
	st := NewParquetStore(t.TempDir())
	ctx := context.Background()

	dec := time.Date(2023, 12, 30, 0, 0, 0, 0, time.UTC)
	if err := st.WriteBars(ctx, sampleBars("AAPL", dec, 100, 101, 102, 103)); err != nil {
		t.Fatalf("WriteBars() returned error: %v", err)
	}

	bars, err := st.ReadBars(ctx, "AAPL", dec, dec.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("ReadBars() returned error: %v", err)
	}
	if len(bars) != 4 {
		t.Fatalf("ReadBars() across year boundary returned %d bars, want 4", len(bars))
	}
	if bars[3].Timestamp.Year() != 2024 {
		t.Errorf("last bar year = %d, want 2024", bars[3].Timestamp.Year())
	}
}
