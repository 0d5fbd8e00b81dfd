package sim

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

var ErrBarrierClosed = errors.New("snapshot barrier closed")

// Token is one pending snapshot request.
type Token struct {
	ID   string
	done chan struct{}
}

// Barrier holds snapshot requests until the harness releases them.
type Barrier struct {
	mu     sync.Mutex
	queue  []*Token
	closed bool
	stop   chan struct{}
}

func NewBarrier() *Barrier {
	return &Barrier{stop: make(chan struct{})}
}

func (b *Barrier) Enqueue() (*Token, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBarrierClosed
	}
	t := &Token{ID: uuid.NewString(), done: make(chan struct{})}
	b.queue = append(b.queue, t)
	return t, nil
}

// Wait blocks until t is released, the barrier closes, or ctx ends. A
// cancelled waiter withdraws its token.
func (b *Barrier) Wait(ctx context.Context, t *Token) error {
	select {
	case <-t.done:
		return nil
	case <-b.stop:
		select {
		case <-t.done:
			return nil
		default:
			return ErrBarrierClosed
		}
	case <-ctx.Done():
		if !b.remove(t) {
			select {
			case <-t.done:
				return nil
			default:
			}
		}
		return ctx.Err()
	}
}

func (b *Barrier) remove(t *Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.Index(b.queue, t)
	if i < 0 {
		return false
	}
	b.queue = slices.Delete(b.queue, i, i+1)
	return true
}

// ReleaseAll releases every pending token in submission order.
func (b *Barrier) ReleaseAll() int {
	b.mu.Lock()
	q := b.queue
	b.queue = nil
	b.mu.Unlock()
	for _, t := range q {
		close(t.done)
	}
	return len(q)
}

func (b *Barrier) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close drops every pending token without releasing it.
func (b *Barrier) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.queue = nil
	close(b.stop)
}
