package depth

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side selects one half of the book.
type Side int

const (
	Bid Side = iota
	Ask
)

var sides = [...]Side{Bid, Ask}

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// order compares two prices by book priority on this side: negative when a
// sorts before b (bids descending, asks ascending).
func (s Side) order(a, b decimal.Decimal) int {
	if s == Bid {
		return b.Cmp(a)
	}
	return a.Cmp(b)
}

// away moves price d deeper into the book (lower for bids, higher for asks).
func (s Side) away(price, d decimal.Decimal) decimal.Decimal {
	if s == Bid {
		return price.Sub(d)
	}
	return price.Add(d)
}

// Level is resting size at a price. On the wire it is ["price","size"].
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// DiffEntry is one change to a level; Size zero removes the price.
// On the wire it is ["price","size","sequence"].
type DiffEntry struct {
	Price    decimal.Decimal
	Size     decimal.Decimal
	Sequence uint64
}

func (e DiffEntry) IsRemoval() bool { return e.Size.IsZero() }

type Changes struct {
	Bids []DiffEntry `json:"bids"`
	Asks []DiffEntry `json:"asks"`
}

func (c *Changes) side(s Side) *[]DiffEntry {
	if s == Bid {
		return &c.Bids
	}
	return &c.Asks
}

// Increment is a batch of diffs whose sequences cover exactly
// [SequenceStart, SequenceEnd].
type Increment struct {
	Changes       Changes
	SequenceStart uint64
	SequenceEnd   uint64
	Timestamp     int64 // epoch ms
}

func (inc Increment) Len() int { return len(inc.Changes.Bids) + len(inc.Changes.Asks) }

// Snapshot is a point-in-time copy of a Book.
type Snapshot struct {
	Sequence  uint64
	Timestamp int64 // epoch ms
	Bids      []Level
	Asks      []Level
}

var nowMillis = func() int64 { return time.Now().UnixMilli() }
