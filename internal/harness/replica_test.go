package harness

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"obsim/internal/depth"
)

func TestReplicaApply(t *testing.T) {
	r := NewReplica(seedSnapshot())

	stale := depth.Increment{SequenceStart: 1, SequenceEnd: 1, Changes: depth.Changes{
		Bids: []depth.DiffEntry{{Price: d("100"), Size: decimal.Zero, Sequence: 1}},
	}}
	if applied, err := r.Apply(stale); applied || err != nil {
		t.Fatalf("stale Apply = %v, %v", applied, err)
	}

	inc := depth.Increment{SequenceStart: 2, SequenceEnd: 4, Changes: depth.Changes{
		Bids: []depth.DiffEntry{
			{Price: d("100"), Size: decimal.Zero, Sequence: 3},
			{Price: d("100"), Size: d("7"), Sequence: 4},
		},
		Asks: []depth.DiffEntry{{Price: d("102"), Size: d("1"), Sequence: 2}},
	}}
	if applied, err := r.Apply(inc); !applied || err != nil {
		t.Fatalf("Apply = %v, %v", applied, err)
	}
	want := depth.Snapshot{
		Sequence: 4,
		Bids:     []depth.Level{{Price: d("100"), Size: d("7")}},
		Asks:     []depth.Level{{Price: d("101"), Size: d("5")}, {Price: d("102"), Size: d("1")}},
	}
	if diff := r.Diff(want); diff != "" {
		t.Fatalf("replica: %s", diff)
	}
	if !r.BestBid().Equal(d("100")) || !r.BestAsk().Equal(d("101")) {
		t.Fatalf("best = %s / %s", r.BestBid(), r.BestAsk())
	}
}

func TestReplicaOverlappingIncrementSkipsSeenEntries(t *testing.T) {
	r := NewReplica(depth.Snapshot{Sequence: 3, Bids: []depth.Level{{Price: d("99"), Size: d("3")}}})
	inc := depth.Increment{SequenceStart: 2, SequenceEnd: 4, Changes: depth.Changes{
		Bids: []depth.DiffEntry{
			{Price: d("99"), Size: d("3"), Sequence: 2},
			{Price: d("100"), Size: decimal.Zero, Sequence: 3},
			{Price: d("98"), Size: d("1"), Sequence: 4},
		},
	}}
	if applied, err := r.Apply(inc); !applied || err != nil {
		t.Fatalf("Apply = %v, %v", applied, err)
	}
	snap := r.Snapshot()
	if len(snap.Bids) != 2 || !snap.Bids[0].Price.Equal(d("99")) || !snap.Bids[1].Price.Equal(d("98")) {
		t.Fatalf("bids = %v", snap.Bids)
	}
}

func TestReplicaDetectsGap(t *testing.T) {
	r := NewReplica(seedSnapshot())
	_, err := r.Apply(depth.Increment{SequenceStart: 5, SequenceEnd: 6})
	if !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("Apply = %v, want ErrSequenceGap", err)
	}
	if r.Sequence() != 1 {
		t.Fatalf("sequence moved to %d on a gap", r.Sequence())
	}
}
