package sim

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"obsim/internal/depth"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testParams(maxLevels int) depth.Params {
	p := depth.DefaultParams()
	p.MaxLevels = maxLevels
	p.SpreadMax = 0.5
	p.SizeMin = 1
	p.SizeMax = 10
	p.SpacingAlpha = 0.5
	p.ResizeAlpha = 0.5
	p.ResizeDraws = 5
	return p
}

func testSeries(n int) []decimal.Decimal {
	s := depth.NewSampler(7)
	px := 100.0
	out := make([]decimal.Decimal, 0, n)
	for range n {
		px += s.Uniform(-0.8, 0.8)
		out = append(out, decimal.NewFromFloat(px).Truncate(4))
	}
	return out
}

func newOnDemand(t *testing.T) *Simulator {
	t.Helper()
	s, err := New(Options{Symbol: "BTC-USDT", OnDemand: true, Params: testParams(10), Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func newAutonomous(t *testing.T, maxLevels, seriesLen int) *Simulator {
	t.Helper()
	s, err := New(Options{
		Symbol:   "BTC-USDT",
		Interval: time.Millisecond,
		Params:   testParams(maxLevels),
		Seed:     3,
		Series:   testSeries(seriesLen),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func seedSnapshot() depth.Snapshot {
	return depth.Snapshot{
		Sequence: 1,
		Bids:     []depth.Level{{Price: d("100"), Size: d("5")}},
		Asks:     []depth.Level{{Price: d("101"), Size: d("5")}},
	}
}

func decodeIncrement(t *testing.T, b []byte) depth.Increment {
	t.Helper()
	var m depth.IncrementMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode increment: %v", err)
	}
	return m.Increment()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManualMutationsFlushAsOneIncrement(t *testing.T) {
	s := newOnDemand(t)
	sink := newFakeSink("consumer", nil)
	s.Attach(sink)
	if err := s.SetSnapshot(seedSnapshot()); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AddLevel(depth.Bid, d("99"), d("3")); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.RemoveLevel(depth.Bid, d("100")); !ok {
		t.Fatal("RemoveLevel(100) reported not found")
	}

	inc, ok, err := s.Flush()
	if err != nil || !ok {
		t.Fatalf("Flush() = ok %v, err %v", ok, err)
	}
	if inc.SequenceStart != 2 || inc.SequenceEnd != 3 {
		t.Fatalf("range = [%d,%d], want [2,3]", inc.SequenceStart, inc.SequenceEnd)
	}

	msgs := sink.messages()
	if len(msgs) != 1 {
		t.Fatalf("subscriber got %d messages, want 1", len(msgs))
	}
	if !strings.Contains(string(msgs[0]), `"bids":[["99","3","2"],["100","0","3"]]`) {
		t.Fatalf("unexpected increment %s", msgs[0])
	}

	if _, ok, _ := s.Flush(); ok {
		t.Fatal("second Flush had pending diffs")
	}
	if len(sink.messages()) != 1 {
		t.Fatal("empty flush pushed a message")
	}
}

func TestSetSnapshotDiscardsPendingDiffs(t *testing.T) {
	s := newOnDemand(t)
	_ = s.SetSnapshot(seedSnapshot())
	_, _ = s.AddLevel(depth.Ask, d("102"), d("1"))

	snap := seedSnapshot()
	snap.Sequence = 50
	if err := s.SetSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Flush(); ok {
		t.Fatal("pending diffs survived SetSnapshot")
	}
	e, _ := s.AddLevel(depth.Ask, d("102"), d("1"))
	if e.Sequence != 51 {
		t.Fatalf("sequence after new snapshot = %d, want 51", e.Sequence)
	}
}

func TestSetSnapshotRejectsMalformedBook(t *testing.T) {
	s := newOnDemand(t)
	_ = s.SetSnapshot(seedSnapshot())
	bad := depth.Snapshot{Sequence: 9, Bids: []depth.Level{{Price: d("99"), Size: d("1")}, {Price: d("100"), Size: d("1")}}}

	if err := s.SetSnapshot(bad); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("SetSnapshot(bad) = %v, want ErrInvalidLevel", err)
	}
	got, err := s.Snapshot(releasedContext(t, s))
	if err != nil {
		t.Fatal(err)
	}
	if got.Sequence != 1 {
		t.Fatalf("book changed by rejected snapshot: sequence %d", got.Sequence)
	}
}

func TestAddLevelRejectsNonPositive(t *testing.T) {
	s := newOnDemand(t)
	_ = s.SetSnapshot(seedSnapshot())
	for _, tt := range []struct{ price, size string }{{"0", "1"}, {"99", "0"}, {"-1", "2"}} {
		if _, err := s.AddLevel(depth.Bid, d(tt.price), d(tt.size)); !errors.Is(err, ErrInvalidLevel) {
			t.Fatalf("AddLevel(%s,%s) = %v, want ErrInvalidLevel", tt.price, tt.size, err)
		}
	}
	if _, ok, _ := s.Flush(); ok {
		t.Fatal("rejected adds produced diffs")
	}
}

// releasedContext releases the barrier shortly after the caller blocks.
func releasedContext(t *testing.T, s *Simulator) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	go func() {
		for s.PendingSnapshots() == 0 {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
		s.ReleasePending()
	}()
	return ctx
}

func TestSnapshotReflectsRequestTimeNotReleaseTime(t *testing.T) {
	s := newOnDemand(t)
	_ = s.SetSnapshot(seedSnapshot())

	type result struct {
		snap depth.Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := s.Snapshot(context.Background())
		done <- result{snap, err}
	}()
	waitFor(t, "pending snapshot", func() bool { return s.PendingSnapshots() == 1 })

	if _, err := s.AddLevel(depth.Bid, d("99"), d("3")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
		t.Fatal("snapshot returned before release")
	default:
	}
	if n := s.ReleasePending(); n != 1 {
		t.Fatalf("ReleasePending() = %d, want 1", n)
	}

	r := <-done
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.snap.Sequence != 1 || len(r.snap.Bids) != 1 {
		t.Fatalf("snapshot = seq %d with %d bids, want seq 1 with 1 bid", r.snap.Sequence, len(r.snap.Bids))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newOnDemand(t)
	in := depth.Snapshot{
		Sequence:  42,
		Timestamp: 1700000000000,
		Bids:      []depth.Level{{Price: d("100"), Size: d("5")}, {Price: d("99.5"), Size: d("1.25")}},
		Asks:      []depth.Level{{Price: d("101"), Size: d("2")}},
	}
	_ = s.SetSnapshot(in)
	out, err := s.Snapshot(releasedContext(t, s))
	if err != nil {
		t.Fatal(err)
	}
	if out.Sequence != in.Sequence || len(out.Bids) != 2 || len(out.Asks) != 1 {
		t.Fatalf("round trip = %+v", out)
	}
	for i, l := range in.Bids {
		if !out.Bids[i].Price.Equal(l.Price) || !out.Bids[i].Size.Equal(l.Size) {
			t.Fatalf("bid %d = %v, want %v", i, out.Bids[i], l)
		}
	}
}

func TestCloseFailsWaitingSnapshotAndSubscriber(t *testing.T) {
	s := newOnDemand(t)
	sink := newFakeSink("consumer", nil)
	s.Attach(sink)
	errc := make(chan error, 1)
	go func() {
		_, err := s.Snapshot(context.Background())
		errc <- err
	}()
	waitFor(t, "pending snapshot", func() bool { return s.PendingSnapshots() == 1 })

	s.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrBarrierClosed) {
			t.Fatalf("Snapshot() = %v, want ErrBarrierClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot request hung through Close")
	}
	if !sink.isClosed() {
		t.Fatal("subscriber not closed on shutdown")
	}
}

func TestAutonomousStepsKeepBookWithinCap(t *testing.T) {
	const maxLevels = 5
	s := newAutonomous(t, maxLevels, 300)
	sink := newFakeSink("consumer", nil)
	s.Attach(sink)

	var last uint64
	for i := range 1000 {
		inc, err := s.Step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if inc.SequenceStart != last+1 {
			t.Fatalf("step %d starts at %d, previous ended at %d", i, inc.SequenceStart, last)
		}
		last = inc.SequenceEnd

		snap, err := s.Snapshot(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(snap.Bids) > maxLevels || len(snap.Asks) > maxLevels {
			t.Fatalf("step %d: %d bids, %d asks, cap %d", i, len(snap.Bids), len(snap.Asks), maxLevels)
		}
		if snap.Sequence != last {
			t.Fatalf("step %d: book sequence %d, increment ended at %d", i, snap.Sequence, last)
		}
	}
	if got := len(sink.messages()); got != 1000 {
		t.Fatalf("subscriber got %d increments, want 1000", got)
	}
}

func TestStepPushesManualDiffsBeforeAutonomousIncrement(t *testing.T) {
	s := newAutonomous(t, 5, 50)
	if _, err := s.Step(); err != nil {
		t.Fatal(err)
	}
	sink := newFakeSink("consumer", nil)
	s.Attach(sink)

	snap, _ := s.Snapshot(context.Background())
	far := snap.Asks[len(snap.Asks)-1].Price.Add(d("1000"))
	e, err := s.AddLevel(depth.Ask, far, d("1"))
	if err != nil {
		t.Fatal(err)
	}
	inc, err := s.Step()
	if err != nil {
		t.Fatal(err)
	}

	msgs := sink.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want manual + autonomous", len(msgs))
	}
	manual := decodeIncrement(t, msgs[0])
	if manual.SequenceStart != e.Sequence || manual.SequenceEnd != e.Sequence {
		t.Fatalf("manual range [%d,%d], want [%d,%d]", manual.SequenceStart, manual.SequenceEnd, e.Sequence, e.Sequence)
	}
	if inc.SequenceStart != e.Sequence+1 {
		t.Fatalf("autonomous increment starts at %d, want %d", inc.SequenceStart, e.Sequence+1)
	}
}

func TestSeriesWrapRegeneratesWithContinuedSequence(t *testing.T) {
	s := newAutonomous(t, 5, 3)
	var last uint64
	for i := range 7 {
		inc, err := s.Step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if inc.SequenceStart != last+1 {
			t.Fatalf("step %d starts at %d after %d", i, inc.SequenceStart, last)
		}
		last = inc.SequenceEnd
	}
}

func TestRunStopsOnOneSidedBook(t *testing.T) {
	s := newAutonomous(t, 5, 10)
	err := s.SetSnapshot(depth.Snapshot{Sequence: 1, Bids: []depth.Level{{Price: d("100"), Size: d("1")}}})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, depth.ErrEmptyBook) {
		t.Fatalf("Run() = %v, want ErrEmptyBook", err)
	}
	if s.Running() {
		t.Fatal("Running() still true after Run returned")
	}
}

func TestRunAutonomousPushesUntilCancelled(t *testing.T) {
	s := newAutonomous(t, 5, 100)
	sink := newFakeSink("consumer", nil)
	s.Attach(sink)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	waitFor(t, "increments", func() bool { return len(sink.messages()) >= 5 })
	if !s.Running() {
		t.Fatal("Running() = false while Run is active")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run() = %v", err)
	}
}

func TestRemoveAbsentLevelIsNotFound(t *testing.T) {
	s := newOnDemand(t)
	_ = s.SetSnapshot(seedSnapshot())
	for range 2 {
		if _, ok := s.RemoveLevel(depth.Ask, d("150")); ok {
			t.Fatal("RemoveLevel(150) reported found")
		}
	}
	if _, ok, _ := s.Flush(); ok {
		t.Fatal("not-found removals produced diffs")
	}
}
