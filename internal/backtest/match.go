package backtest

import (
	"sort"
	"time"

	"quantsim/internal/domain"
)

// lot is one open BUY parcel awaiting FIFO consumption. OriginalQty is the
// quantity the lot was opened with; commission pro-rating is always relative
// to it, even after earlier partial closes have shrunk Qty.
type lot struct {
	Qty         int64
	OriginalQty int64
	Price       float64
	Timestamp   time.Time
	Commission  float64
}

// MatchTrades reconstructs round-trip trades from the fill ledger. Per
// symbol it keeps a FIFO queue of open BUY lots; each SELL consumes lots
// from the front, splitting the last lot when the sell quantity ends inside
// it. The matched trade carries the quantity-weighted average entry price,
// P&L net of the sell commission and the pro-rated share of each consumed
// lot's entry commission, and the earliest entry timestamp among the
// consumed lots.
//
// A SELL with no open lots produces no matched trade; the portfolio's share
// guard makes that unreachable for ledgers it produced itself. Output is
// ordered by exit date, most recent first.
func MatchTrades(trades []domain.Trade) []domain.MatchedTrade {
	open := make(map[string][]lot)
	var matched []domain.MatchedTrade

	for _, t := range trades {
		switch t.Side {
		case domain.OrderSideBuy:
			open[t.Symbol] = append(open[t.Symbol], lot{
				Qty:         t.Quantity,
				OriginalQty: t.Quantity,
				Price:       t.Price,
				Timestamp:   t.Timestamp,
				Commission:  t.Commission,
			})

		case domain.OrderSideSell:
			queue := open[t.Symbol]
			remaining := t.Quantity

			var entryCost float64
			var entryQty int64
			var entryCommission float64
			var entryDate time.Time

			for remaining > 0 && len(queue) > 0 {
				l := &queue[0]

				matchedQty := l.Qty
				if matchedQty > remaining {
					matchedQty = remaining
				}

				entryCost += float64(matchedQty) * l.Price
				entryQty += matchedQty
				entryCommission += l.Commission * float64(matchedQty) / float64(l.OriginalQty)
				if entryDate.IsZero() || l.Timestamp.Before(entryDate) {
					entryDate = l.Timestamp
				}

				l.Qty -= matchedQty
				remaining -= matchedQty
				if l.Qty == 0 {
					queue = queue[1:]
				}
			}
			open[t.Symbol] = queue

			if entryQty == 0 {
				continue
			}

			avgEntry := entryCost / float64(entryQty)
			grossPnL := (t.Price - avgEntry) * float64(entryQty)
			netPnL := grossPnL - t.Commission - entryCommission
			pnlPct := netPnL / entryCost * 100

			matched = append(matched, domain.MatchedTrade{
				Symbol:     t.Symbol,
				EntryDate:  entryDate,
				ExitDate:   t.Timestamp,
				EntryPrice: avgEntry,
				ExitPrice:  t.Price,
				Quantity:   entryQty,
				PnL:        netPnL,
				PnLPct:     pnlPct,
				Side:       "LONG",
			})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ExitDate.After(matched[j].ExitDate)
	})
	return matched
}
