package depth

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrEmptySeries = errors.New("price series is empty")

// Walk replays a finite price series as the driving last-traded price.
type Walk struct {
	series []decimal.Decimal
	idx    int
}

func NewWalk(series []decimal.Decimal) (*Walk, error) {
	if len(series) == 0 {
		return nil, ErrEmptySeries
	}
	return &Walk{series: series}, nil
}

// Advance returns the next price. wrapped is true when the series was
// exhausted and replay restarted from the first price; the caller is expected
// to regenerate the book for the new session.
func (w *Walk) Advance() (tick decimal.Decimal, wrapped bool) {
	if w.idx >= len(w.series) {
		w.idx = 0
		wrapped = true
	}
	tick = w.series[w.idx]
	w.idx++
	return tick, wrapped
}

func (w *Walk) Len() int { return len(w.series) }
