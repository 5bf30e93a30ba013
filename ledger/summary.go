package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// SUMMARY - Range totals for reporting
// =============================================================================

// Summary aggregates the stored rows of one item over a date range.
type Summary struct {
	Key       Key
	From      Date
	To        Date
	Days      int // stored rows in range
	Received  int64
	Sold      int64
	Waste     int64
	Closing   int64 // remaining at end of the last stored day
	WasteRate decimal.Decimal
	// SellThrough is recorded sales over units received. Sales beyond available
	// stock are counted as recorded, so it can exceed 1.
	SellThrough decimal.Decimal
}

// Summarize totals rows, which must be ascending by date and belong to one key.
// Ratios are zero when nothing was received.
func Summarize(rows []Row) Summary {
	var s Summary
	if len(rows) == 0 {
		s.WasteRate, s.SellThrough = decimal.Zero, decimal.Zero
		return s
	}

	s.Key = rows[0].Key()
	s.From = rows[0].Date
	s.To = rows[len(rows)-1].Date
	s.Days = len(rows)
	for _, r := range rows {
		s.Received += r.Received
		s.Sold += r.Sold
		s.Waste += r.Waste
	}
	s.Closing = rows[len(rows)-1].Remaining
	s.WasteRate = ratio(s.Waste, s.Received)
	s.SellThrough = ratio(s.Sold, s.Received)
	return s
}

func ratio(num, den int64) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), 4)
}
