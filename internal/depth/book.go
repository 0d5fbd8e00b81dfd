package depth

import (
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyBook     = errors.New("book has an empty side")
	ErrSequenceBlock = errors.New("resize sequence block does not match resize count")
)

// Book is the simulator's two-sided level collection. It does no validation
// of its own; Engine and the manual mutation methods keep bids strictly
// descending, asks strictly ascending and prices unique per side.
type Book struct {
	bids      []Level
	asks      []Level
	sequence  uint64
	timestamp int64
}

func NewBook() *Book { return &Book{} }

func (b *Book) Bids() []Level         { return slices.Clone(b.bids) }
func (b *Book) Asks() []Level         { return slices.Clone(b.asks) }
func (b *Book) Levels(s Side) []Level { return slices.Clone(*b.levels(s)) }
func (b *Book) Sequence() uint64      { return b.sequence }
func (b *Book) Timestamp() int64      { return b.timestamp }
func (b *Book) Len(s Side) int        { return len(*b.levels(s)) }
func (b *Book) Empty() bool           { return len(b.bids) == 0 && len(b.asks) == 0 }

func (b *Book) levels(s Side) *[]Level {
	if s == Bid {
		return &b.bids
	}
	return &b.asks
}

// stamp mints the next sequence number.
func (b *Book) stamp() uint64 {
	b.sequence++
	return b.sequence
}

func (b *Book) Snapshot() Snapshot {
	return Snapshot{
		Sequence:  b.sequence,
		Timestamp: b.timestamp,
		Bids:      slices.Clone(b.bids),
		Asks:      slices.Clone(b.asks),
	}
}

// SetSnapshot replaces the whole book, sequence and timestamp included.
func (b *Book) SetSnapshot(s Snapshot) {
	b.bids = slices.Clone(s.Bids)
	b.asks = slices.Clone(s.Asks)
	b.sequence = s.Sequence
	b.timestamp = s.Timestamp
}

// find returns the index of price on side s, or where it would be inserted.
func (b *Book) find(s Side, price decimal.Decimal) (int, bool) {
	return slices.BinarySearchFunc(*b.levels(s), price, func(l Level, p decimal.Decimal) int {
		return s.order(l.Price, p)
	})
}

// AddLevel inserts or replaces the level at price and stamps one sequence.
func (b *Book) AddLevel(s Side, price, size decimal.Decimal) DiffEntry {
	lv := b.levels(s)
	i, found := b.find(s, price)
	if found {
		(*lv)[i].Size = size
	} else {
		*lv = slices.Insert(*lv, i, Level{Price: price, Size: size})
	}
	b.timestamp = nowMillis()
	return DiffEntry{Price: price, Size: size, Sequence: b.stamp()}
}

// RemoveLevel deletes the level at price. It reports false, and leaves the
// sequence alone, when there is no such level.
func (b *Book) RemoveLevel(s Side, price decimal.Decimal) (DiffEntry, bool) {
	lv := b.levels(s)
	i, found := b.find(s, price)
	if !found {
		return DiffEntry{}, false
	}
	*lv = slices.Delete(*lv, i, i+1)
	b.timestamp = nowMillis()
	return DiffEntry{Price: price, Size: decimal.Zero, Sequence: b.stamp()}, true
}

// Validate checks ordering, uniqueness and sizes of an externally supplied
// snapshot before it is installed.
func (s Snapshot) Validate() error {
	for _, side := range sides {
		levels := s.Bids
		if side == Ask {
			levels = s.Asks
		}
		for i, l := range levels {
			if l.Price.Sign() <= 0 {
				return fmt.Errorf("%s level %d: price %s must be positive", side, i, l.Price)
			}
			if l.Size.Sign() <= 0 {
				return fmt.Errorf("%s level %d: size %s must be positive", side, i, l.Size)
			}
			if i > 0 && side.order(levels[i-1].Price, l.Price) >= 0 {
				return fmt.Errorf("%s level %d: price %s out of order after %s", side, i, l.Price, levels[i-1].Price)
			}
		}
	}
	return nil
}
