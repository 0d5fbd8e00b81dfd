package depth

import (
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// backfillStretch scales heavy-tailed deltas when synthesizing deeper levels.
const backfillStretch = 4

// Params shapes the synthetic book.
type Params struct {
	MaxLevels      int
	PricePrecision int32
	SizePrecision  int32
	// TickSize converts a sampled offset into a price distance.
	TickSize     decimal.Decimal
	SpreadMin    float64
	SpreadMax    float64
	SizeMin      float64
	SizeMax      float64
	SpacingAlpha float64
	ResizeAlpha  float64
	ResizeDraws  int
}

func DefaultParams() Params {
	return Params{
		MaxLevels:      100,
		PricePrecision: 2,
		SizePrecision:  3,
		TickSize:       decimal.New(1, -2),
		SpreadMin:      0.01,
		SpreadMax:      2,
		SizeMin:        0.001,
		SizeMax:        50,
		SpacingAlpha:   0.1,
		ResizeAlpha:    0.1,
		ResizeDraws:    10,
	}
}

func (p Params) Validate() error {
	switch {
	case p.MaxLevels < 1:
		return errors.New("max_levels must be >= 1")
	case p.PricePrecision < 0 || p.SizePrecision < 0:
		return errors.New("precision must be >= 0")
	case p.TickSize.Sign() <= 0:
		return errors.New("tick_size must be positive")
	case p.SpreadMin <= 0 || p.SpreadMax < p.SpreadMin:
		return fmt.Errorf("spread range [%v, %v] is invalid", p.SpreadMin, p.SpreadMax)
	case p.SizeMin <= 0 || p.SizeMax < p.SizeMin:
		return fmt.Errorf("order size range [%v, %v] is invalid", p.SizeMin, p.SizeMax)
	case p.SpacingAlpha <= 0 || p.ResizeAlpha <= 0:
		return errors.New("alpha must be positive")
	case p.ResizeDraws < 0:
		return errors.New("resize_draws must be >= 0")
	}
	return nil
}

// Engine generates books and computes autonomous increments against them.
type Engine struct {
	p   Params
	rnd *Sampler
}

func NewEngine(p Params, rnd *Sampler) *Engine {
	return &Engine{p: p, rnd: rnd}
}

func (e *Engine) Params() Params { return e.p }

func (e *Engine) priceUnit() decimal.Decimal { return decimal.New(1, -e.p.PricePrecision) }

// quote derives the next best bid and ask around tick.
func (e *Engine) quote(tick decimal.Decimal) (bid, ask decimal.Decimal) {
	jitter := decimal.NewFromFloat(e.rnd.Uniform(e.p.SpreadMin, e.p.SpreadMax))
	bid = tick.Sub(jitter).Truncate(e.p.PricePrecision)
	ask = tick.Add(jitter).Truncate(e.p.PricePrecision)
	if bid.Sign() <= 0 {
		bid = e.priceUnit()
	}
	if ask.Cmp(bid) <= 0 {
		ask = bid.Add(e.priceUnit())
	}
	return bid, ask
}

func (e *Engine) randomSize() decimal.Decimal {
	size := decimal.NewFromFloat(e.rnd.Uniform(e.p.SizeMin, e.p.SizeMax)).Truncate(e.p.SizePrecision)
	if size.Sign() <= 0 {
		size = decimal.New(1, -e.p.SizePrecision)
	}
	return size
}

// deeper returns the level price offset ticks beyond from, and whether it is
// strictly deeper than from and still a usable price.
func (e *Engine) deeper(s Side, from decimal.Decimal, ticks float64) (decimal.Decimal, bool) {
	d := e.p.TickSize.Mul(decimal.NewFromFloat(ticks))
	price := s.away(from, d).Truncate(e.p.PricePrecision)
	if price.Sign() <= 0 || s.order(from, price) >= 0 {
		return price, false
	}
	return price, true
}

// ladder builds one side from best outward using heavy-tailed offsets.
func (e *Engine) ladder(s Side, best decimal.Decimal) []Level {
	levels := make([]Level, 0, e.p.MaxLevels)
	levels = append(levels, Level{Price: best, Size: e.randomSize()})
	for _, off := range e.rnd.HeavyTailed(e.p.SpacingAlpha, e.p.MaxLevels) {
		if len(levels) >= e.p.MaxLevels {
			break
		}
		price, ok := e.deeper(s, best, off)
		if !ok || s.order(levels[len(levels)-1].Price, price) >= 0 {
			continue
		}
		levels = append(levels, Level{Price: price, Size: e.randomSize()})
	}
	return levels
}

// Generate replaces the book with a fresh one centred on tick. Existing levels
// are removed first, then new levels are added in a random bid/ask
// interleaving; every change stamps a sequence continuing from the book's
// current value.
func (e *Engine) Generate(b *Book, tick decimal.Decimal) Increment {
	inc := Increment{SequenceStart: b.sequence + 1}
	for _, s := range sides {
		out := inc.Changes.side(s)
		for _, l := range *b.levels(s) {
			*out = append(*out, DiffEntry{Price: l.Price, Size: decimal.Zero, Sequence: b.stamp()})
		}
		*b.levels(s) = nil
	}

	bestBid, bestAsk := e.quote(tick)
	fresh := [2][]Level{Bid: e.ladder(Bid, bestBid), Ask: e.ladder(Ask, bestAsk)}
	var next [2]int
	for next[Bid] < len(fresh[Bid]) || next[Ask] < len(fresh[Ask]) {
		s := Ask
		if next[Ask] >= len(fresh[Ask]) || (next[Bid] < len(fresh[Bid]) && e.rnd.Coin()) {
			s = Bid
		}
		l := fresh[s][next[s]]
		next[s]++
		lv := b.levels(s)
		*lv = append(*lv, l)
		out := inc.Changes.side(s)
		*out = append(*out, DiffEntry{Price: l.Price, Size: l.Size, Sequence: b.stamp()})
	}

	b.timestamp = nowMillis()
	inc.SequenceEnd = b.sequence
	inc.Timestamp = b.timestamp
	return inc
}

// Next moves the book toward tick and returns the resulting increment.
//
// Levels at or through the new best are removed, the new best is inserted,
// the tail is trimmed to MaxLevels, a heavy-tailed subset of non-best levels
// is resized under a shuffled block of sequences, and the depth is refilled.
// Changes are listed removed, resized, added per side.
func (e *Engine) Next(b *Book, tick decimal.Decimal) (Increment, error) {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return Increment{}, ErrEmptyBook
	}
	start := b.sequence + 1
	var removed, resized, added [2][]DiffEntry

	nextBid, nextAsk := e.quote(tick)
	best := [2]decimal.Decimal{Bid: nextBid, Ask: nextAsk}

	// Crossed levels. A plain mid move only crosses one side; a widening
	// spread can cross both.
	for _, s := range sides {
		lv := b.levels(s)
		n := 0
		for n < len(*lv) && s.order((*lv)[n].Price, best[s]) <= 0 {
			removed[s] = append(removed[s], DiffEntry{Price: (*lv)[n].Price, Size: decimal.Zero, Sequence: b.stamp()})
			n++
		}
		*lv = slices.Delete(*lv, 0, n)
	}

	for _, s := range sides {
		size := e.randomSize()
		lv := b.levels(s)
		*lv = slices.Insert(*lv, 0, Level{Price: best[s], Size: size})
		added[s] = append(added[s], DiffEntry{Price: best[s], Size: size, Sequence: b.stamp()})
	}

	for _, s := range sides {
		lv := b.levels(s)
		for len(*lv) > e.p.MaxLevels {
			worst := (*lv)[len(*lv)-1]
			*lv = (*lv)[:len(*lv)-1]
			if alreadyRemoved(removed[s], worst.Price) {
				continue
			}
			removed[s] = append(removed[s], DiffEntry{Price: worst.Price, Size: decimal.Zero, Sequence: b.stamp()})
		}
	}

	for _, s := range sides {
		lv := b.levels(s)
		for _, i := range e.rnd.HeavyTailedIndices(e.p.ResizeAlpha, e.p.ResizeDraws) {
			if i < 1 || i >= len(*lv) {
				continue
			}
			size := e.randomSize()
			(*lv)[i].Size = size
			resized[s] = append(resized[s], DiffEntry{Price: (*lv)[i].Price, Size: size})
		}
	}
	if err := e.assignShuffled(b, &resized); err != nil {
		return Increment{}, err
	}

	for _, s := range sides {
		lv := b.levels(s)
		need := e.p.MaxLevels - len(*lv)
		if need <= 0 {
			continue
		}
		for _, d := range e.rnd.HeavyTailed(e.p.SpacingAlpha, need) {
			if len(*lv) >= e.p.MaxLevels {
				break
			}
			price, ok := e.deeper(s, (*lv)[len(*lv)-1].Price, backfillStretch*d)
			if !ok {
				continue
			}
			size := e.randomSize()
			*lv = append(*lv, Level{Price: price, Size: size})
			added[s] = append(added[s], DiffEntry{Price: price, Size: size, Sequence: b.stamp()})
		}
	}

	b.timestamp = nowMillis()
	inc := Increment{SequenceStart: start, SequenceEnd: b.sequence, Timestamp: b.timestamp}
	for _, s := range sides {
		out := inc.Changes.side(s)
		*out = slices.Concat(removed[s], resized[s], added[s])
	}
	return inc, nil
}

// assignShuffled stamps one contiguous block of sequences for every resize
// entry on both sides and hands them out in random order.
func (e *Engine) assignShuffled(b *Book, resized *[2][]DiffEntry) error {
	n := len(resized[Bid]) + len(resized[Ask])
	block := make([]uint64, 0, n)
	for range n {
		block = append(block, b.stamp())
	}
	if len(block) != n || (n > 0 && block[n-1]-block[0]+1 != uint64(n)) {
		return fmt.Errorf("%w: %d sequences for %d entries", ErrSequenceBlock, len(block), n)
	}
	e.rnd.Shuffle(len(block), func(i, j int) { block[i], block[j] = block[j], block[i] })
	k := 0
	for _, s := range sides {
		for i := range resized[s] {
			resized[s][i].Sequence = block[k]
			k++
		}
	}
	return nil
}

// alreadyRemoved keeps the tail-trim guard exactly as the feed it emulates
// behaves: a price counts as already removed when the removal set holds any
// other price. Only one tail level is trimmed per side per call unless the
// book was grown past MaxLevels by manual mutations.
func alreadyRemoved(removed []DiffEntry, price decimal.Decimal) bool {
	for _, r := range removed {
		if !r.Price.Equal(price) {
			return true
		}
	}
	return false
}
