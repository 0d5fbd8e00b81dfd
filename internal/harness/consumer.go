package harness

import (
	"context"
	"net/http"
	"time"

	"obsim/internal/depth"
)

// Consumer polls the order-book process under test. It serves its
// reconciled book at /snapshot.api as {"sequence":"n","bids":[..],"asks":[..]}.
type Consumer struct {
	c *Client
}

func NewConsumer(baseURL string, opts ...ClientOption) *Consumer {
	return &Consumer{c: NewClient(baseURL, opts...)}
}

func (p *Consumer) fetch(ctx context.Context, retry bool) (depth.Snapshot, error) {
	do := p.c.doRequest
	if retry {
		do = p.c.doWithRetry
	}
	b, err := do(ctx, http.MethodGet, "/snapshot.api", nil)
	if err != nil {
		return depth.Snapshot{}, err
	}
	return depth.DecodeSnapshot(b)
}

func (p *Consumer) Snapshot(ctx context.Context) (depth.Snapshot, error) {
	return p.fetch(ctx, false)
}

// WaitUntilRunning returns once the consumer answers at all.
func (p *Consumer) WaitUntilRunning(ctx context.Context) error {
	_, err := p.fetch(ctx, true)
	return err
}

// WaitForSequence polls until the consumer's book reaches exactly seq. ok is
// false if it did not within the given number of polls; the last book seen
// is returned either way.
func (p *Consumer) WaitForSequence(ctx context.Context, seq uint64, polls int) (snap depth.Snapshot, ok bool, err error) {
	for attempt := 0; attempt < polls; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return snap, false, ctx.Err()
			case <-time.After(p.c.retryDelay):
			}
		}
		snap, err = p.fetch(ctx, false)
		if err != nil {
			return snap, false, err
		}
		if snap.Sequence == seq {
			return snap, true, nil
		}
	}
	return snap, false, nil
}
