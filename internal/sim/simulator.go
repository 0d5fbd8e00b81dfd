// Package sim owns the simulated book and delivers its increments to a
// single subscriber, either on a timer driven by a replayed price series or
// on explicit request from a test harness.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"obsim/internal/depth"
	"obsim/internal/metrics"
)

var ErrInvalidLevel = errors.New("invalid level")

type Options struct {
	Symbol string
	// OnDemand disables the timer; increments are only flushed on request
	// and snapshot reads wait on the barrier.
	OnDemand bool
	Interval time.Duration
	Params   depth.Params
	Seed     uint64
	// Series drives autonomous mode and is ignored on demand.
	Series  []decimal.Decimal
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Simulator serializes every book read and write behind mu, which is never
// held across a send or a barrier wait. emitMu keeps compute-and-push atomic
// so increments reach the subscriber in sequence order.
type Simulator struct {
	symbol   string
	onDemand bool
	interval time.Duration
	log      *slog.Logger
	met      *metrics.Metrics

	mu      sync.Mutex
	book    *depth.Book
	engine  *depth.Engine
	walk    *depth.Walk
	pending depth.Pending
	seeded  bool

	emitMu  sync.Mutex
	slot    *Slot
	barrier *Barrier
	running atomic.Bool
}

func New(opts Options) (*Simulator, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("book params: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulator{
		symbol:   opts.Symbol,
		onDemand: opts.OnDemand,
		interval: opts.Interval,
		log:      logger,
		met:      opts.Metrics,
		book:     depth.NewBook(),
		engine:   depth.NewEngine(opts.Params, depth.NewSampler(opts.Seed)),
		slot:     NewSlot(logger, opts.Metrics),
		barrier:  NewBarrier(),
	}
	if !opts.OnDemand {
		if opts.Interval <= 0 {
			return nil, errors.New("update interval must be positive")
		}
		w, err := depth.NewWalk(opts.Series)
		if err != nil {
			return nil, err
		}
		s.walk = w
	}
	return s, nil
}

func (s *Simulator) Symbol() string       { return s.symbol }
func (s *Simulator) OnDemand() bool       { return s.onDemand }
func (s *Simulator) Running() bool        { return s.running.Load() }
func (s *Simulator) SubscriberCount() int { return s.slot.Count() }

// Run drives the dispatch loop until ctx ends. In autonomous mode the book
// is generated from the first tick and then advanced every interval; an
// engine error stops the loop and is returned.
func (s *Simulator) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	if s.onDemand {
		s.log.Info("simulator running on demand", slog.String("symbol", s.symbol))
		<-ctx.Done()
		return nil
	}

	s.log.Info("simulator running autonomously",
		slog.String("symbol", s.symbol),
		slog.Duration("interval", s.interval),
		slog.Int("series_len", s.walk.Len()),
	)
	if _, err := s.Step(); err != nil {
		return err
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Step(); err != nil {
				s.log.Error("dispatch stopped", slog.String("err", err.Error()))
				return err
			}
		}
	}
}

// Step advances the walk by one tick and pushes the result. Manual diffs
// buffered since the last step are pushed first.
func (s *Simulator) Step() (depth.Increment, error) {
	if s.walk == nil {
		return depth.Increment{}, errors.New("step requires autonomous mode")
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	manual, hasManual := s.pending.Drain(s.book.Timestamp())
	inc, err := s.advanceLocked()
	s.mu.Unlock()

	if hasManual {
		s.push(manual)
	}
	if err != nil {
		return depth.Increment{}, fmt.Errorf("compute increment: %w", err)
	}
	s.push(inc)
	return inc, nil
}

func (s *Simulator) advanceLocked() (depth.Increment, error) {
	tick, wrapped := s.walk.Advance()
	if !s.seeded || wrapped {
		if s.seeded {
			s.log.Info("price series wrapped, regenerating book", slog.Uint64("sequence", s.book.Sequence()))
			s.met.Regenerated()
		}
		s.seeded = true
		return s.engine.Generate(s.book, tick), nil
	}
	return s.engine.Next(s.book, tick)
}

// Flush pushes buffered manual diffs and returns them. In autonomous mode it
// performs one Step instead. ok is false when there was nothing to send.
func (s *Simulator) Flush() (inc depth.Increment, ok bool, err error) {
	if !s.onDemand {
		inc, err = s.Step()
		return inc, err == nil, err
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	inc, ok = s.pending.Drain(s.book.Timestamp())
	s.mu.Unlock()
	if ok {
		s.push(inc)
	}
	return inc, ok, nil
}

func (s *Simulator) push(inc depth.Increment) {
	s.met.Increment(len(inc.Changes.Bids), len(inc.Changes.Asks), inc.SequenceEnd)
	b, err := json.Marshal(inc.Message(s.symbol))
	if err != nil {
		s.log.Error("encode increment", slog.String("err", err.Error()))
		return
	}
	if s.slot.Push(b) {
		s.log.Debug("increment pushed",
			slog.Uint64("sequence_start", inc.SequenceStart),
			slog.Uint64("sequence_end", inc.SequenceEnd),
			slog.Int("changes", inc.Len()),
		)
	}
}

// Snapshot returns the book as of the call. On demand it then waits until
// the harness releases pending snapshot requests.
func (s *Simulator) Snapshot(ctx context.Context) (depth.Snapshot, error) {
	s.mu.Lock()
	snap := s.book.Snapshot()
	var tok *Token
	var err error
	if s.onDemand {
		tok, err = s.barrier.Enqueue()
	}
	s.mu.Unlock()
	if err != nil {
		return depth.Snapshot{}, err
	}
	if tok == nil {
		return snap, nil
	}

	s.met.PendingSnapshots(s.barrier.Pending())
	s.log.Debug("snapshot request waiting", slog.String("token", tok.ID), slog.Uint64("sequence", snap.Sequence))
	err = s.barrier.Wait(ctx, tok)
	s.met.PendingSnapshots(s.barrier.Pending())
	if err != nil {
		return depth.Snapshot{}, err
	}
	return snap, nil
}

// ReleasePending releases every waiting snapshot request, oldest first.
func (s *Simulator) ReleasePending() int {
	n := s.barrier.ReleaseAll()
	s.met.PendingSnapshots(s.barrier.Pending())
	if n > 0 {
		s.log.Debug("released snapshot requests", slog.Int("count", n))
	}
	return n
}

func (s *Simulator) PendingSnapshots() int { return s.barrier.Pending() }

// SetSnapshot replaces the book and discards buffered diffs.
func (s *Simulator) SetSnapshot(snap depth.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLevel, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.book.SetSnapshot(snap)
	s.pending.Reset()
	s.seeded = true
	s.met.Sequence(snap.Sequence)
	s.log.Debug("snapshot installed",
		slog.Uint64("sequence", snap.Sequence),
		slog.Int("bids", len(snap.Bids)),
		slog.Int("asks", len(snap.Asks)),
	)
	return nil
}

func (s *Simulator) AddLevel(side depth.Side, price, size decimal.Decimal) (depth.DiffEntry, error) {
	if price.Sign() <= 0 {
		return depth.DiffEntry{}, fmt.Errorf("%w: price %s must be positive", ErrInvalidLevel, price)
	}
	if size.Sign() <= 0 {
		return depth.DiffEntry{}, fmt.Errorf("%w: size %s must be positive", ErrInvalidLevel, size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.book.AddLevel(side, price, size)
	s.pending.Add(side, e)
	s.met.Sequence(e.Sequence)
	return e, nil
}

// RemoveLevel reports false, leaving the sequence untouched, if price is
// not on the book.
func (s *Simulator) RemoveLevel(side depth.Side, price decimal.Decimal) (depth.DiffEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.book.RemoveLevel(side, price)
	if ok {
		s.pending.Add(side, e)
		s.met.Sequence(e.Sequence)
	}
	return e, ok
}

func (s *Simulator) Attach(sink Sink) {
	s.slot.Attach(sink)
	s.log.Info("subscriber attached", slog.String("id", sink.ID()))
}

func (s *Simulator) Detach(sink Sink) bool { return s.slot.Detach(sink) }

func (s *Simulator) Disconnect() bool { return s.slot.Disconnect() }

// Close fails waiting snapshot requests and closes the subscriber.
func (s *Simulator) Close() {
	s.barrier.Close()
	s.met.PendingSnapshots(0)
	s.slot.Disconnect()
}
