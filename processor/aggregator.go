package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "candleflow/config"
	"candleflow/internal/channel"
	"candleflow/logger"
	"candleflow/models"
)

// Aggregator folds normalized trades into fixed-width OHLCV candles, one
// worker per symbol. A worker owns its symbol's window state exclusively, so
// no locking is needed around it. Windows are epoch aligned; a window opens
// on the first trade that lands in it and is finalized by the worker's tick
// once wall time passes the window end. Empty windows produce no candle.
type Aggregator struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	intervalMs int64
	now        func() time.Time

	// Metrics
	tradesProcessed int64
	candlesEmitted  int64
	errorsCount     int64
}

// candleState is one symbol's aggregation window. Owned by exactly one
// worker goroutine.
type candleState struct {
	current   *models.Candle
	windowEnd int64
	lastClose float64
}

func NewAggregator(cfg *appconfig.Config, ch *channel.Channels) *Aggregator {
	return &Aggregator{
		config:     cfg,
		channels:   ch,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
		intervalMs: int64(cfg.Aggregator.IntervalSeconds) * 1000,
		now:        time.Now,
	}
}

// Start launches one aggregation worker per configured symbol.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("aggregator already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	log := a.log.WithComponent("aggregator").WithFields(logger.Fields{"operation": "start"})

	symbols := a.config.Candleflow.Symbols
	log.WithFields(logger.Fields{
		"symbols":          symbols,
		"interval_seconds": a.config.Aggregator.IntervalSeconds,
		"tick_ms":          a.config.Aggregator.TickMs,
	}).Info("starting aggregator")

	for _, symbol := range symbols {
		a.wg.Add(1)
		go a.worker(symbol)
	}

	go a.metricsReporter(ctx)

	log.Info("aggregator started successfully")
	return nil
}

// Stop signals all workers to stop and waits for completion. Open windows
// are abandoned, matching the no-partial-candle rule.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.log.WithComponent("aggregator").Info("stopping aggregator")
	a.wg.Wait()
	a.log.WithComponent("aggregator").Info("aggregator stopped")
}

func (a *Aggregator) worker(symbol string) {
	defer a.wg.Done()

	log := a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "candle_builder",
	})

	trades, ok := a.channels.Trade.Topic(symbol)
	if !ok {
		log.Error("no trade topic for symbol, worker exiting")
		return
	}

	log.Info("starting aggregation worker")

	state := &candleState{}
	ticker := time.NewTicker(time.Duration(a.config.Aggregator.TickMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case ev, open := <-trades:
			if !open {
				log.Info("trade topic closed, worker stopping")
				return
			}
			a.handleTradeEvent(symbol, state, ev, log)
		case <-ticker.C:
			a.finalizeDue(symbol, state, log)
		}
	}
}

func (a *Aggregator) handleTradeEvent(symbol string, state *candleState, ev models.TradeEvent, log *logger.Entry) {
	var trade models.Trade
	if err := json.Unmarshal(ev.Payload, &trade); err != nil {
		atomic.AddInt64(&a.errorsCount, 1)
		log.WithError(err).Warn("failed to decode trade payload")
		return
	}

	a.applyTrade(symbol, state, trade)
	atomic.AddInt64(&a.tradesProcessed, 1)
}

// applyTrade folds one trade into the symbol's current window, opening a new
// window aligned to the trade's timestamp when none is open. Trades are not
// filtered by timestamp once a window is open: the stream is treated as
// in-order and a straggler still lands in the open window.
func (a *Aggregator) applyTrade(symbol string, state *candleState, trade models.Trade) {
	if state.current == nil {
		windowStart := trade.Timestamp / a.intervalMs * a.intervalMs
		state.current = &models.Candle{
			Symbol:            symbol,
			Open:              trade.Price,
			High:              trade.Price,
			Low:               trade.Price,
			Close:             trade.Price,
			Volume:            trade.Quantity,
			StartTime:         windowStart,
			StartTimeISO:      models.ISOTime(windowStart),
			Trades:            1,
			FirstTradeID:      trade.TradeID,
			FirstTradeTime:    trade.Timestamp,
			FirstTradeTimeISO: models.ISOTime(trade.Timestamp),
		}
		state.windowEnd = windowStart + a.intervalMs
		return
	}

	c := state.current
	if trade.Price > c.High {
		c.High = trade.Price
	}
	if trade.Price < c.Low {
		c.Low = trade.Price
	}
	c.Close = trade.Price
	c.Volume += trade.Quantity
	c.Trades++
	c.LastTradeID = trade.TradeID
	c.LastTradeTime = trade.Timestamp
	c.LastTradeTimeISO = models.ISOTime(trade.Timestamp)
}

// finalizeDue closes and publishes the symbol's window once wall time has
// reached the window end. The candle's end is stamped one millisecond before
// the next window start so adjacent candles never overlap.
func (a *Aggregator) finalizeDue(symbol string, state *candleState, log *logger.Entry) {
	if state.current == nil {
		return
	}

	nowMs := a.now().UnixMilli()
	if nowMs < state.windowEnd {
		return
	}

	c := *state.current
	c.EndTime = state.windowEnd - 1
	c.EndTimeISO = models.ISOTime(c.EndTime)
	c.Interval = models.IntervalLabel(a.config.Aggregator.IntervalSeconds)
	c.GeneratedAt = nowMs
	c.GeneratedAtISO = models.ISOTime(nowMs)
	c.DurationMs = c.EndTime - c.StartTime

	state.lastClose = c.Close
	state.current = nil

	payload, err := json.Marshal(c)
	if err != nil {
		atomic.AddInt64(&a.errorsCount, 1)
		log.WithError(err).Warn("failed to marshal candle")
		return
	}

	ev := models.CandleEvent{
		Topic:     models.CandleTopic(symbol, a.config.Aggregator.IntervalSeconds),
		Symbol:    symbol,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	if a.channels.Candle.Publish(a.ctx, ev) {
		atomic.AddInt64(&a.candlesEmitted, 1)
		logger.IncrementCandleEmitted(len(payload))
		log.WithFields(logger.Fields{
			"start_time": c.StartTime,
			"close":      c.Close,
			"trades":     c.Trades,
		}).Info("candle finalized")
		logger.LogDataFlowEntry(log, "aggregator", ev.Topic, 1, "candles")
	} else if a.ctx.Err() == nil {
		log.WithFields(logger.Fields{"topic": ev.Topic}).Warn("candle topic full, dropping candle")
	}
}

func (a *Aggregator) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.reportMetrics()
		}
	}
}

func (a *Aggregator) reportMetrics() {
	tradesProcessed := atomic.LoadInt64(&a.tradesProcessed)
	candlesEmitted := atomic.LoadInt64(&a.candlesEmitted)
	errorsCount := atomic.LoadInt64(&a.errorsCount)

	a.log.LogMetric("aggregator", "trades_processed", tradesProcessed, "counter", logger.Fields{})
	a.log.LogMetric("aggregator", "candles_emitted", candlesEmitted, "counter", logger.Fields{})
	a.log.LogMetric("aggregator", "errors_count", errorsCount, "counter", logger.Fields{})

	a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"trades_processed": tradesProcessed,
		"candles_emitted":  candlesEmitted,
		"errors_count":     errorsCount,
	}).Info("aggregator metrics")
}
