package ledger

import "math"

// =============================================================================
// AGING FUNCTION - One day of stock aging under a fixed shelf life
// =============================================================================

// ShelfLifeDays is the number of days a unit can stay on the shelf (ages 0, 1, 2).
// Step is the only place this policy is applied.
const ShelfLifeDays = 3

// Buckets is the carryover passed from one day to the next.
type Buckets struct {
	// Fresh is stock received on the day that has just ended. It is one day old tomorrow.
	Fresh int64
	// Aged is stock that was already one day old. It is the expiring bucket tomorrow.
	Aged int64
}

// Total is the stock carried into the next day.
func (b Buckets) Total() int64 { return b.Fresh + b.Aged }

// Valid reports whether both buckets are non-negative.
func (b Buckets) Valid() bool { return b.Fresh >= 0 && b.Aged >= 0 }

// CanReceive reports whether adding received units to b stays within int64.
// Step assumes it holds.
func (b Buckets) CanReceive(received int64) bool {
	return b.Aged <= math.MaxInt64-b.Fresh && received <= math.MaxInt64-b.Total()
}

// DayResult is the derived state of one day.
type DayResult struct {
	Waste     int64
	Remaining int64
	End       Buckets
}

// Step ages prev by one day, receiving `received` fresh units and selling `sold`
// units oldest-first. Whatever is left of the oldest bucket expires as waste.
// Sales beyond the available stock are dropped.
//
// Inputs must be non-negative and prev.CanReceive(received) must hold; callers validate.
func Step(prev Buckets, received, sold int64) DayResult {
	usedOldest := min(sold, prev.Aged)
	waste := prev.Aged - usedOldest

	demand := sold - usedOldest
	usedMid := min(demand, prev.Fresh)
	leftMid := prev.Fresh - usedMid

	demand -= usedMid
	usedNew := min(demand, received)
	leftNew := received - usedNew

	return DayResult{
		Waste:     waste,
		Remaining: leftMid + leftNew,
		End:       Buckets{Fresh: leftNew, Aged: leftMid},
	}
}

// Idle ages prev across a day with no movements.
func Idle(prev Buckets) DayResult { return Step(prev, 0, 0) }
