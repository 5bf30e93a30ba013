package ledger

import (
	"context"
	"time"
)

// Observer is notified of engine outcomes. Implementations must be safe for concurrent use.
type Observer interface {
	// BatchApplied is called once per Upsert call with the outcome error (nil on success).
	BatchApplied(mode Mode, rows int, elapsed time.Duration, err error)
	// Recomputed is called once per recomputed key that committed.
	Recomputed(res RecomputeResult)
}

type nopObserver struct{}

func (nopObserver) BatchApplied(Mode, int, time.Duration, error) {}
func (nopObserver) Recomputed(RecomputeResult)                   {}

// nopLocker relies on the store's unit of work for serialization.
type nopLocker struct{}

func (nopLocker) Lock(context.Context, []Key) (func(), error) { return func() {}, nil }
