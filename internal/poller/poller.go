// Package poller drives the periodic refresh of every market data slice.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gascap/config"
	"gascap/internal/metrics"
	"gascap/internal/models"
	"gascap/internal/tickstore"
	"gascap/logger"
)

// MarketSource is the slice of the chain client the orchestrator reads.
type MarketSource interface {
	CurrentIndexPrice(ctx context.Context) (models.IndexPrice, error)
	ContractSummary(ctx context.Context) (models.ContractSummary, error)
	Position(ctx context.Context, account string) (models.Position, error)
	LiquidityProvided(ctx context.Context, account string) (string, error)
}

// EventSyncer advances the trade feed by one incremental pass.
type EventSyncer interface {
	Sync(ctx context.Context) error
}

// Snapshot is the latest successfully fetched view of the market. Slices
// that failed on the most recent cycle keep their previous value; Errors
// names the slices that failed.
type Snapshot struct {
	Summary   *models.ContractSummary `json:"summary,omitempty"`
	Price     *models.IndexPrice      `json:"price,omitempty"`
	Position  *models.Position        `json:"position,omitempty"`
	Liquidity string                  `json:"liquidity,omitempty"`
	UpdatedAt time.Time               `json:"updated_at"`
	Errors    []string                `json:"errors,omitempty"`
}

// Orchestrator polls every data slice on a fixed interval, fanning the
// fetches out concurrently and letting each slice fail independently.
type Orchestrator struct {
	config config.PollerConfig
	source MarketSource
	store  *tickstore.Store
	events EventSyncer
	log    *logger.Log

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	snapshot     Snapshot
	onCycle      func()
	seedDisabled bool
}

func NewOrchestrator(cfg config.PollerConfig, source MarketSource, store *tickstore.Store, events EventSyncer) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Orchestrator{
		config: cfg,
		source: source,
		store:  store,
		events: events,
		log:    logger.GetLogger(),
	}
}

// OnCycle registers a callback invoked after every completed cycle. It must
// be set before Start.
func (o *Orchestrator) OnCycle(fn func()) {
	o.onCycle = fn
}

// DisableSeeding turns off the synthetic backfill for deployments that carry
// real history. It must be called before Start.
func (o *Orchestrator) DisableSeeding() {
	o.seedDisabled = true
}

func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("poller already running")
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.running = true
	o.mu.Unlock()

	o.log.WithComponent("poller").WithFields(logger.Fields{
		"interval": o.config.Interval.String(),
	}).Info("starting market poller")

	o.wg.Add(1)
	go o.loop()
	return nil
}

func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.log.WithComponent("poller").Info("market poller stopped")
}

func (o *Orchestrator) loop() {
	defer o.wg.Done()

	o.Refresh(o.ctx)

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.Refresh(o.ctx)
		}
	}
}

// Refresh runs one full cycle immediately. Every slice is fetched
// concurrently; a slice failure is recorded without discarding the last
// good value, so the terminal keeps serving stale data over no data.
func (o *Orchestrator) Refresh(ctx context.Context) Snapshot {
	var (
		wg        sync.WaitGroup
		sliceMu   sync.Mutex
		summary   *models.ContractSummary
		price     *models.IndexPrice
		position  *models.Position
		liquidity string
		failures  []string
	)

	fail := func(slice string, err error) {
		sliceMu.Lock()
		failures = append(failures, slice)
		sliceMu.Unlock()
		metrics.SliceFailures.WithLabelValues(slice).Inc()
		o.log.WithComponent("poller").WithError(err).Warn(fmt.Sprintf("%s fetch failed", slice))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s, err := o.source.ContractSummary(ctx)
		if err != nil {
			fail("summary", err)
			return
		}
		sliceMu.Lock()
		summary = &s
		sliceMu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p, err := o.source.CurrentIndexPrice(ctx)
		if err != nil {
			fail("price", err)
			return
		}
		o.recordPrice(ctx, p)
		sliceMu.Lock()
		price = &p
		sliceMu.Unlock()
	}()

	if o.config.Account != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pos, err := o.source.Position(ctx, o.config.Account)
			if err != nil {
				fail("position", err)
				return
			}
			sliceMu.Lock()
			position = &pos
			sliceMu.Unlock()
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			liq, err := o.source.LiquidityProvided(ctx, o.config.Account)
			if err != nil {
				fail("liquidity", err)
				return
			}
			sliceMu.Lock()
			liquidity = liq
			sliceMu.Unlock()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.events.Sync(ctx); err != nil {
			fail("events", err)
		}
	}()

	wg.Wait()
	metrics.PollCycles.Inc()

	snap := o.mergeSnapshot(summary, price, position, liquidity, failures)
	if o.onCycle != nil {
		o.onCycle()
	}
	return snap
}

// recordPrice seeds the backfill on the first observation, then appends the
// live tick. The seeder pins its final synthetic tick one second before the
// live one, so the series stays contiguous.
func (o *Orchestrator) recordPrice(ctx context.Context, price models.IndexPrice) {
	now := price.Timestamp
	if now <= 0 {
		now = time.Now().Unix()
	}
	if !o.seedDisabled {
		o.store.SeedIfNeeded(ctx, price.Price, now)
	}
	o.store.Append(ctx, models.Tick{Price: price.Price, Time: now})
}

// mergeSnapshot folds successful slice results over the previous snapshot.
func (o *Orchestrator) mergeSnapshot(summary *models.ContractSummary, price *models.IndexPrice, position *models.Position, liquidity string, failures []string) Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	if summary != nil {
		o.snapshot.Summary = summary
	}
	if price != nil {
		o.snapshot.Price = price
	}
	if position != nil {
		o.snapshot.Position = position
	}
	if liquidity != "" {
		o.snapshot.Liquidity = liquidity
	}
	o.snapshot.UpdatedAt = time.Now()
	o.snapshot.Errors = failures
	return o.snapshot
}

// Snapshot returns the latest merged view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot
}
