package worker

import (
	"context"
	"testing"
	"time"
)

type fakePurgeStore struct {
	cutoffs []time.Time
	removed int64
}

func (f *fakePurgeStore) PurgeDeliveries(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	n := f.removed
	f.removed = 0
	return n, nil
}

func TestSweeper_CutoffMatchesRetention(t *testing.T) {
	purge := &fakePurgeStore{removed: 7}
	sweeper := NewSweeper(purge, 30, time.Hour, testLogger())

	before := time.Now().AddDate(0, 0, -30)
	sweeper.sweep(context.Background())
	after := time.Now().AddDate(0, 0, -30)

	if len(purge.cutoffs) != 1 {
		t.Fatalf("purge calls = %d, want 1", len(purge.cutoffs))
	}
	cutoff := purge.cutoffs[0]
	if cutoff.Before(before) || cutoff.After(after) {
		t.Errorf("cutoff = %v, want 30 days before now", cutoff)
	}
}

func TestSweeper_RepeatedSweepIsIdempotent(t *testing.T) {
	purge := &fakePurgeStore{removed: 3}
	sweeper := NewSweeper(purge, 30, time.Hour, testLogger())

	sweeper.sweep(context.Background())
	sweeper.sweep(context.Background())

	if len(purge.cutoffs) != 2 {
		t.Fatalf("purge calls = %d, want 2", len(purge.cutoffs))
	}
}
