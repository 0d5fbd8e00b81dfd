package depth

// Pending buffers manual diffs until the next drain.
type Pending struct {
	changes Changes
	first   uint64
	last    uint64
}

func (p *Pending) Add(s Side, e DiffEntry) {
	if p.Len() == 0 {
		p.first = e.Sequence
	}
	p.last = e.Sequence
	lv := p.changes.side(s)
	*lv = append(*lv, e)
}

func (p *Pending) Len() int { return len(p.changes.Bids) + len(p.changes.Asks) }

// Reset drops everything buffered, e.g. after a snapshot replaces the book.
func (p *Pending) Reset() { *p = Pending{} }

// Drain returns the buffered diffs as one Increment bounded by the first and
// last buffered sequence, and empties the buffer.
func (p *Pending) Drain(ts int64) (Increment, bool) {
	if p.Len() == 0 {
		return Increment{}, false
	}
	inc := Increment{
		Changes:       p.changes,
		SequenceStart: p.first,
		SequenceEnd:   p.last,
		Timestamp:     ts,
	}
	p.Reset()
	return inc, true
}
