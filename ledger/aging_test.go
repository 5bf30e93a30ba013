package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStep_SellsOldestFirst(t *testing.T) {
	// GIVEN: 2 aged, 5 fresh, 10 received; 9 sold
	res := Step(Buckets{Fresh: 5, Aged: 2}, 10, 9)

	// THEN: aged and fresh are emptied before new stock is touched
	assert.Equal(t, DayResult{Waste: 0, Remaining: 8, End: Buckets{Fresh: 8, Aged: 0}}, res)
}

func TestStep_UnsoldAgedExpires(t *testing.T) {
	res := Step(Buckets{Fresh: 0, Aged: 4}, 0, 1)

	assert.Equal(t, DayResult{Waste: 3, Remaining: 0, End: Buckets{}}, res)
}

func TestStep_MiddleBucketBecomesAged(t *testing.T) {
	res := Step(Buckets{Fresh: 3, Aged: 3}, 3, 4)

	// 3 aged sold, 1 of the fresh sold, 2 fresh age into tomorrow's aged bucket
	assert.Equal(t, DayResult{Waste: 0, Remaining: 5, End: Buckets{Fresh: 3, Aged: 2}}, res)
}

func TestStep_ShortageIsDropped(t *testing.T) {
	res := Step(Buckets{Fresh: 1, Aged: 1}, 1, 10)

	assert.Equal(t, DayResult{}, res)
}

func TestStep_ThreeDayShelfLife(t *testing.T) {
	// GIVEN: 10 units received on day 1 and never sold
	day1 := Step(Buckets{}, 10, 0)
	day2 := Idle(day1.End)
	day3 := Idle(day2.End)

	// THEN: on shelf days 1 and 2, expired at the end of day 3
	assert.Equal(t, int64(10), day1.Remaining)
	assert.Equal(t, int64(10), day2.Remaining)
	assert.Equal(t, int64(10), day3.Waste)
	assert.Equal(t, int64(0), day3.Remaining)
	assert.Equal(t, Buckets{}, day3.End)
}

func TestStep_ConservesUnits(t *testing.T) {
	for fresh := int64(0); fresh <= 4; fresh++ {
		for aged := int64(0); aged <= 4; aged++ {
			for received := int64(0); received <= 4; received++ {
				for sold := int64(0); sold <= 14; sold++ {
					prev := Buckets{Fresh: fresh, Aged: aged}
					res := Step(prev, received, sold)

					available := prev.Total() + received
					soldFromStock := min(sold, available)

					assert.True(t, res.End.Valid())
					assert.GreaterOrEqual(t, res.Waste, int64(0))
					assert.Equal(t, res.End.Total(), res.Remaining)
					assert.Equal(t, available, soldFromStock+res.Waste+res.Remaining,
						"prev=%+v received=%d sold=%d", prev, received, sold)
					// Fresh end is never older than today's receipts
					assert.LessOrEqual(t, res.End.Fresh, received)
					// Aged stock never survives a second day
					assert.LessOrEqual(t, res.End.Aged, fresh)
				}
			}
		}
	}
}

func TestBuckets(t *testing.T) {
	assert.Equal(t, int64(7), Buckets{Fresh: 3, Aged: 4}.Total())
	assert.True(t, Buckets{}.Valid())
	assert.False(t, Buckets{Fresh: -1}.Valid())
	assert.False(t, Buckets{Aged: -1}.Valid())
}

func TestBuckets_CanReceive(t *testing.T) {
	assert.True(t, Buckets{}.CanReceive(math.MaxInt64))
	assert.True(t, Buckets{Fresh: 5, Aged: 5}.CanReceive(math.MaxInt64-10))
	assert.False(t, Buckets{Fresh: 5, Aged: 5}.CanReceive(math.MaxInt64-9))
	assert.False(t, Buckets{Fresh: 10}.CanReceive(math.MaxInt64))

	// Buckets that already overflow together accept nothing
	assert.False(t, Buckets{Fresh: math.MaxInt64, Aged: 1}.CanReceive(0))
}
