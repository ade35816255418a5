// Package candles folds ordered price ticks into fixed-width OHLC buckets
// for the terminal chart.
package candles

import (
	"math"
	"sort"

	"gascap/internal/models"
)

// Aggregate maps a tick sequence into gap-free OHLC candles of bucketSeconds
// width. Buckets with no ticks produce no candle; instead every candle after
// the first opens at the previous emitted candle's close, so the chart never
// shows a price discontinuity across quiet stretches. This intentionally
// deviates from a strict OHLC-from-raw-ticks definition: a real price gap
// across missing buckets is absorbed into the next candle's range.
//
// The function is pure and idempotent; aggregating a prefix and then the
// full sequence leaves already-closed buckets unchanged.
func Aggregate(ticks []models.Tick, bucketSeconds int64) []models.Candle {
	if len(ticks) == 0 || bucketSeconds <= 0 {
		return nil
	}

	candles := make([]models.Candle, 0, len(ticks)/4+1)
	var current *models.Candle
	var prevClose float64
	havePrev := false

	for _, tick := range ticks {
		bucket := tick.Time / bucketSeconds * bucketSeconds

		if current == nil || current.Time != bucket {
			if current != nil {
				candles = append(candles, *current)
				prevClose = current.Close
				havePrev = true
			}
			open := tick.Price
			if havePrev {
				open = prevClose
			}
			current = &models.Candle{
				Time:  bucket,
				Open:  open,
				High:  math.Max(open, tick.Price),
				Low:   math.Min(open, tick.Price),
				Close: tick.Price,
			}
			continue
		}

		current.High = math.Max(current.High, tick.Price)
		current.Low = math.Min(current.Low, tick.Price)
		current.Close = tick.Price
	}

	// The in-progress bucket is always emitted.
	candles = append(candles, *current)

	// Input is expected ordered; the output contract does not assume it.
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	return candles
}
