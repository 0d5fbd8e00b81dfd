package sim

import (
	"log/slog"
	"sync"

	"obsim/internal/metrics"
)

// Sink is one subscriber connection.
type Sink interface {
	ID() string
	Send(msg []byte) error
	Close() error
}

// Slot holds at most one live subscriber.
type Slot struct {
	mu   sync.Mutex
	sink Sink
	log  *slog.Logger
	met  *metrics.Metrics
}

func NewSlot(logger *slog.Logger, m *metrics.Metrics) *Slot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slot{log: logger, met: m}
}

// Attach installs s. A previous subscriber is closed before s becomes
// visible to Push.
func (sl *Slot) Attach(s Sink) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.sink != nil {
		sl.log.Info("evicting subscriber",
			slog.String("old", sl.sink.ID()),
			slog.String("new", s.ID()),
		)
		sl.closeLocked()
		sl.met.Evicted()
	}
	sl.sink = s
	sl.met.Subscribers(1)
}

// Detach clears the slot if s is still the live subscriber. It does not close s.
func (sl *Slot) Detach(s Sink) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.sink == nil || sl.sink.ID() != s.ID() {
		return false
	}
	sl.sink = nil
	sl.met.Subscribers(0)
	return true
}

// Disconnect closes and clears the live subscriber, if any.
func (sl *Slot) Disconnect() bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.sink == nil {
		return false
	}
	sl.log.Info("disconnecting subscriber", slog.String("id", sl.sink.ID()))
	sl.closeLocked()
	sl.met.Evicted()
	return true
}

func (sl *Slot) Count() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.sink == nil {
		return 0
	}
	return 1
}

// Push delivers msg to the live subscriber. A failed send is logged and
// clears the slot; the caller never sees it.
func (sl *Slot) Push(msg []byte) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.sink == nil {
		return false
	}
	if err := sl.sink.Send(msg); err != nil {
		sl.log.Warn("subscriber send failed",
			slog.String("id", sl.sink.ID()),
			slog.String("err", err.Error()),
		)
		sl.met.DeliveryFailed()
		sl.closeLocked()
		return false
	}
	return true
}

func (sl *Slot) closeLocked() {
	if err := sl.sink.Close(); err != nil {
		sl.log.Debug("subscriber close", slog.String("id", sl.sink.ID()), slog.String("err", err.Error()))
	}
	sl.sink = nil
	sl.met.Subscribers(0)
}
