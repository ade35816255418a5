// Package events maintains the terminal's recent-trades feed by paging the
// contract's FuturesMinted log incrementally.
package events

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gascap/internal/chain"
	"gascap/internal/metrics"
	"gascap/internal/models"
	"gascap/logger"
)

// LogSource is the slice of the chain client the synchronizer consumes.
type LogSource interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, from, to uint64, topic string) ([]chain.LogEntry, error)
	BlockTimestamp(ctx context.Context, block uint64) (int64, error)
}

// Synchronizer pages trade logs from the chain and merges them into a
// bounded, time-sorted feed. The scan cursor only ever moves forward and is
// only advanced after a fully successful pass, so a failed page is re-read
// on the next cycle; the txHash dedup makes that repeat delivery harmless.
type Synchronizer struct {
	source    LogSource
	lookback  uint64
	pageLimit int
	feedLimit int
	log       *logger.Log

	mu        sync.Mutex
	cursor    uint64
	cursorSet bool
	feed      []models.TradeEvent
}

func NewSynchronizer(source LogSource, lookback uint64, pageLimit, feedLimit int) *Synchronizer {
	if lookback == 0 {
		lookback = 5000
	}
	if pageLimit <= 0 {
		pageLimit = 20
	}
	if feedLimit <= 0 {
		feedLimit = 50
	}
	return &Synchronizer{
		source:    source,
		lookback:  lookback,
		pageLimit: pageLimit,
		feedLimit: feedLimit,
		log:       logger.GetLogger(),
	}
}

// Sync performs one incremental pass over the log. It is safe to call while
// another pass is in flight; both may scan overlapping ranges and the merge
// resolves the duplicates.
func (s *Synchronizer) Sync(ctx context.Context) error {
	head, err := s.source.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("head block: %w", err)
	}

	from, ok := s.scanRange(head)
	if !ok {
		return nil
	}

	entries, err := s.source.FilterLogs(ctx, from, head, chain.TopicFuturesMinted)
	if err != nil {
		return fmt.Errorf("filter logs (%d, %d]: %w", from-1, head, err)
	}

	// Bound per-cycle work to the most recent entries; older ones inside
	// the window were either seen before or are beyond the feed size.
	if len(entries) > s.pageLimit {
		entries = entries[len(entries)-s.pageLimit:]
	}

	trades := make([]models.TradeEvent, 0, len(entries))
	blockTimes := make(map[uint64]int64, len(entries))
	for _, entry := range entries {
		block, err := hexBlock(entry.BlockNumber)
		if err != nil {
			return err
		}
		ts, seen := blockTimes[block]
		if !seen {
			ts, err = s.source.BlockTimestamp(ctx, block)
			if err != nil {
				return fmt.Errorf("block %d timestamp: %w", block, err)
			}
			blockTimes[block] = ts
		}

		trade, err := chain.DecodeTradeEvent(entry, ts)
		if err != nil {
			return err
		}
		trades = append(trades, trade)
	}

	s.merge(trades, head)

	if len(trades) > 0 {
		s.log.WithComponent("events").WithFields(logger.Fields{
			"new_events": len(trades),
			"head":       head,
		}).Info("merged trade events")
	}
	return nil
}

// scanRange returns the first block of the next scan, lazily initializing
// the cursor to a bounded lookback below the current head.
func (s *Synchronizer) scanRange(head uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cursorSet {
		if head > s.lookback {
			s.cursor = head - s.lookback
		} else {
			s.cursor = 0
		}
		s.cursorSet = true
	}
	if head <= s.cursor {
		return 0, false
	}
	return s.cursor + 1, true
}

// merge folds new trades into the retained feed: dedup by txHash keeping the
// first occurrence, newest first, bounded length. The cursor advances to the
// scanned head but never rewinds under a concurrent overlapping pass.
func (s *Synchronizer) merge(trades []models.TradeEvent, head uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	combined := make([]models.TradeEvent, 0, len(trades)+len(s.feed))
	combined = append(combined, trades...)
	combined = append(combined, s.feed...)

	seen := make(map[string]struct{}, len(combined))
	deduped := combined[:0]
	for _, trade := range combined {
		if _, dup := seen[trade.TxHash]; dup {
			continue
		}
		seen[trade.TxHash] = struct{}{}
		deduped = append(deduped, trade)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Timestamp > deduped[j].Timestamp
	})
	if len(deduped) > s.feedLimit {
		deduped = deduped[:s.feedLimit]
	}
	s.feed = append([]models.TradeEvent(nil), deduped...)

	if head > s.cursor {
		s.cursor = head
	}

	metrics.EventsSynced.Add(float64(len(trades)))
	metrics.FeedSize.Set(float64(len(s.feed)))
	metrics.CursorHeight.Set(float64(s.cursor))
}

// Trades returns a copy of the retained feed, newest first.
func (s *Synchronizer) Trades() []models.TradeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.TradeEvent, len(s.feed))
	copy(out, s.feed)
	return out
}

// Cursor reports the highest block scanned so far.
func (s *Synchronizer) Cursor() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.cursorSet
}

func hexBlock(s string) (uint64, error) {
	block, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block number %q: %w", s, err)
	}
	return block, nil
}
