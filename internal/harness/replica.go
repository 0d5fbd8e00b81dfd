package harness

import (
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"obsim/internal/depth"
)

var ErrSequenceGap = errors.New("increment does not continue the replica")

// Replica rebuilds a book from one snapshot plus the increments that follow
// it, the way a feed consumer does.
type Replica struct {
	sequence uint64
	sides    [2]map[string]depth.Level
}

type sideEntry struct {
	side  depth.Side
	entry depth.DiffEntry
}

func NewReplica(s depth.Snapshot) *Replica {
	r := &Replica{sequence: s.Sequence}
	for i, levels := range [2][]depth.Level{depth.Bid: s.Bids, depth.Ask: s.Asks} {
		r.sides[i] = make(map[string]depth.Level, len(levels))
		for _, l := range levels {
			r.sides[i][l.Price.String()] = l
		}
	}
	return r
}

func (r *Replica) Sequence() uint64 { return r.sequence }

// Apply folds inc into the replica. Increments wholly at or below the
// current sequence are skipped and reported as not applied; one that starts
// past the next expected sequence is a gap.
func (r *Replica) Apply(inc depth.Increment) (bool, error) {
	if inc.SequenceEnd <= r.sequence {
		return false, nil
	}
	if inc.SequenceStart > r.sequence+1 {
		return false, fmt.Errorf("%w: at %d, got [%d,%d]", ErrSequenceGap, r.sequence, inc.SequenceStart, inc.SequenceEnd)
	}
	entries := make([]sideEntry, 0, inc.Len())
	for _, e := range inc.Changes.Bids {
		entries = append(entries, sideEntry{depth.Bid, e})
	}
	for _, e := range inc.Changes.Asks {
		entries = append(entries, sideEntry{depth.Ask, e})
	}
	slices.SortFunc(entries, func(a, b sideEntry) int {
		switch {
		case a.entry.Sequence < b.entry.Sequence:
			return -1
		case a.entry.Sequence > b.entry.Sequence:
			return 1
		}
		return 0
	})
	for _, se := range entries {
		if se.entry.Sequence <= r.sequence {
			continue
		}
		m := r.sides[se.side]
		key := se.entry.Price.String()
		if se.entry.IsRemoval() {
			delete(m, key)
		} else {
			m[key] = depth.Level{Price: se.entry.Price, Size: se.entry.Size}
		}
	}
	r.sequence = inc.SequenceEnd
	return true, nil
}

// Snapshot returns the replica's book, bids descending and asks ascending.
func (r *Replica) Snapshot() depth.Snapshot {
	collect := func(s depth.Side) []depth.Level {
		out := make([]depth.Level, 0, len(r.sides[s]))
		for _, l := range r.sides[s] {
			out = append(out, l)
		}
		slices.SortFunc(out, func(a, b depth.Level) int {
			if s == depth.Bid {
				return b.Price.Cmp(a.Price)
			}
			return a.Price.Cmp(b.Price)
		})
		return out
	}
	return depth.Snapshot{Sequence: r.sequence, Bids: collect(depth.Bid), Asks: collect(depth.Ask)}
}

// Diff describes the first difference between the replica and s, or returns
// "" when they hold the same levels at the same sequence.
func (r *Replica) Diff(s depth.Snapshot) string {
	mine := r.Snapshot()
	if mine.Sequence != s.Sequence {
		return fmt.Sprintf("sequence %d != %d", mine.Sequence, s.Sequence)
	}
	for _, side := range []depth.Side{depth.Bid, depth.Ask} {
		a, b := mine.Bids, s.Bids
		if side == depth.Ask {
			a, b = mine.Asks, s.Asks
		}
		if len(a) != len(b) {
			return fmt.Sprintf("%s: %d levels != %d", side, len(a), len(b))
		}
		for i := range a {
			if !sameLevel(a[i], b[i]) {
				return fmt.Sprintf("%s level %d: %s@%s != %s@%s", side, i, a[i].Size, a[i].Price, b[i].Size, b[i].Price)
			}
		}
	}
	return ""
}

func sameLevel(a, b depth.Level) bool {
	return a.Price.Equal(b.Price) && a.Size.Equal(b.Size)
}

// BestBid and BestAsk return zero when the side is empty.
func (r *Replica) BestBid() decimal.Decimal { return r.best(depth.Bid) }
func (r *Replica) BestAsk() decimal.Decimal { return r.best(depth.Ask) }

func (r *Replica) best(s depth.Side) decimal.Decimal {
	snap := r.Snapshot()
	levels := snap.Bids
	if s == depth.Ask {
		levels = snap.Asks
	}
	if len(levels) == 0 {
		return decimal.Zero
	}
	return levels[0].Price
}
