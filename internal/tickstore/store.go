package tickstore

import (
	"context"
	"sync"
	"time"

	"gascap/internal/metrics"
	"gascap/internal/models"
	"gascap/logger"
)

// Store keeps the bounded in-memory tick history and mirrors every accepted
// append into the durable slot. The in-memory sequence is authoritative for
// the lifetime of the process; the slot only matters on cold start.
//
// Invariants: times are strictly increasing, length never exceeds capacity.
type Store struct {
	mu         sync.Mutex
	slot       Slot
	log        *logger.Log
	ticks      []models.Tick
	hydrated   bool
	seeded     bool
	capacity   int
	quiescence int64 // seconds
}

func New(slot Slot, capacity int, quiescence time.Duration) *Store {
	if capacity <= 0 {
		capacity = 2000
	}
	q := int64(quiescence / time.Second)
	if q <= 0 {
		q = 10
	}
	return &Store{
		slot:       slot,
		log:        logger.GetLogger(),
		capacity:   capacity,
		quiescence: q,
	}
}

// Append records one price observation. Returns true when the tick was
// stored. Non-positive prices, duplicate or out-of-order timestamps and
// unchanged prices inside the quiescence window are silently dropped; none of these are
// errors, they are expected artifacts of polling faster than the oracle
// refreshes.
func (s *Store) Append(ctx context.Context, tick models.Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hydrateLocked(ctx)

	if tick.Price <= 0 {
		metrics.TicksSuppressed.WithLabelValues("non_positive_price").Inc()
		return false
	}

	if n := len(s.ticks); n > 0 {
		last := s.ticks[n-1]
		if last.Time == tick.Time {
			metrics.TicksSuppressed.WithLabelValues("duplicate_time").Inc()
			return false
		}
		if tick.Time < last.Time {
			metrics.TicksSuppressed.WithLabelValues("out_of_order").Inc()
			return false
		}
		if last.Price == tick.Price && tick.Time-last.Time < s.quiescence {
			metrics.TicksSuppressed.WithLabelValues("quiescent_price").Inc()
			return false
		}
	}

	s.ticks = append(s.ticks, tick)
	if len(s.ticks) > s.capacity {
		s.ticks = append([]models.Tick(nil), s.ticks[len(s.ticks)-s.capacity:]...)
	}
	metrics.TicksStored.Inc()

	s.flushLocked(ctx)
	return true
}

// Ticks returns a copy of the full tick sequence, hydrating from the durable
// slot when the in-memory cache is still empty (cold start).
func (s *Store) Ticks(ctx context.Context) []models.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hydrateLocked(ctx)

	out := make([]models.Tick, len(s.ticks))
	copy(out, s.ticks)
	return out
}

// Len reports the current number of stored ticks.
func (s *Store) Len(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hydrateLocked(ctx)
	return len(s.ticks)
}

// Clear resets the in-memory history, the durable slot and the seeded flag.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks = nil
	s.hydrated = true
	s.seeded = false
	return s.slot.Clear(ctx)
}

// hydrateLocked loads the persisted history on first access. A missing or
// malformed slot reads as empty history, never as an error to the caller.
func (s *Store) hydrateLocked(ctx context.Context) {
	if s.hydrated || len(s.ticks) > 0 {
		return
	}
	s.hydrated = true

	ticks, err := s.slot.Load(ctx)
	if err != nil {
		s.log.WithComponent("tickstore").WithError(err).Warn("failed to hydrate tick history, starting empty")
		return
	}
	if len(ticks) > s.capacity {
		ticks = ticks[len(ticks)-s.capacity:]
	}
	s.ticks = ticks

	if len(ticks) > 0 {
		s.log.WithComponent("tickstore").WithFields(logger.Fields{
			"ticks": len(ticks),
		}).Info("hydrated tick history from durable slot")
	}
}

// flushLocked mirrors the in-memory sequence into the slot. Flush failures
// are reported and counted but never fail the append, the in-memory copy
// stays authoritative for the session.
func (s *Store) flushLocked(ctx context.Context) {
	if err := s.slot.Save(ctx, s.ticks); err != nil {
		metrics.SlotFlushFailures.Inc()
		s.log.WithComponent("tickstore").WithError(err).Warn("failed to flush tick history to durable slot")
	}
}
