package tickstore

import (
	"context"
	"math"
	"math/rand"

	"gascap/internal/models"
	"gascap/logger"
)

// Synthetic history parameters. The walk spans thirty minutes at the polling
// cadence so the chart is fully populated on first load; the last synthetic
// point is pinned to the live price one second in the past so the first real
// tick continues the series without a jump.
const (
	seedCount    = 360
	seedInterval = 5 // seconds, matches the polling cadence
	seedMinTicks = 30
	seedFloor    = 20.0
	seedCeil     = 79.0
)

// SeedIfNeeded back-fills synthetic history ahead of any real data. It fires
// at most once per store lifetime and is a no-op when enough real ticks
// already exist or the reference price is not positive. Returns true when
// history was generated.
func (s *Store) SeedIfNeeded(ctx context.Context, currentPrice float64, currentTime int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hydrateLocked(ctx)

	if s.seeded || currentPrice <= 0 {
		return false
	}
	if len(s.ticks) >= seedMinTicks {
		s.seeded = true
		return false
	}
	s.seeded = true

	seed := make([]models.Tick, 0, seedCount+1)
	price := currentPrice
	for i := seedCount; i > 0; i-- {
		// Small perturbation proportional to the running price, with a
		// slight upward bias, clamped to the oracle's sane range.
		change := (rand.Float64() - 0.48) * 0.006 * price
		price = math.Max(seedFloor, math.Min(seedCeil, price+change))
		seed = append(seed, models.Tick{
			Price: math.Round(price*100) / 100,
			Time:  currentTime - int64(i*seedInterval),
		})
	}
	seed = append(seed, models.Tick{Price: currentPrice, Time: currentTime - 1})

	s.ticks = append(seed, s.ticks...)
	if len(s.ticks) > s.capacity {
		s.ticks = append([]models.Tick(nil), s.ticks[len(s.ticks)-s.capacity:]...)
	}

	s.log.WithComponent("tickstore").WithFields(logger.Fields{
		"seeded_ticks": len(seed),
		"anchor_price": currentPrice,
		"anchor_time":  currentTime,
	}).Info("seeded synthetic tick history")

	s.flushLocked(ctx)
	return true
}
