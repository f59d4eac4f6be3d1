package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "candleflow/config"
	"candleflow/internal/channel"
	"candleflow/internal/history"
	"candleflow/logger"
	"candleflow/models"
)

// HistoryWriter drains finalized candles from the per-symbol candle topics
// into the bounded in-memory history store the query interface serves from.
type HistoryWriter struct {
	config   *appconfig.Config
	channels *channel.Channels
	store    *history.Store
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// Metrics
	candlesStored int64
	errorsCount   int64
}

// wireCandle is the tolerant decode shape for a finalized candle. Numeric
// fields are accepted either as numbers or as quoted strings, and the
// interval as either a duration label or a bare seconds count.
type wireCandle struct {
	Open       models.FlexFloat `json:"open"`
	High       models.FlexFloat `json:"high"`
	Low        models.FlexFloat `json:"low"`
	Close      models.FlexFloat `json:"close"`
	Volume     models.FlexFloat `json:"volume"`
	Interval   json.RawMessage  `json:"interval"`
	Trades     int              `json:"trades"`
	EndTimeISO string           `json:"endTimeISO"`
}

func NewHistoryWriter(cfg *appconfig.Config, ch *channel.Channels, store *history.Store) *HistoryWriter {
	return &HistoryWriter{
		config:   cfg,
		channels: ch,
		store:    store,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start launches one drain worker per configured symbol topic.
func (w *HistoryWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("history writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("history_writer").WithFields(logger.Fields{"operation": "start"})

	symbols := w.config.Candleflow.Symbols
	log.WithFields(logger.Fields{
		"symbols":  symbols,
		"capacity": w.config.History.Capacity,
	}).Info("starting history writer")

	for _, symbol := range symbols {
		w.wg.Add(1)
		go w.worker(symbol)
	}

	go w.metricsReporter(ctx)

	log.Info("history writer started successfully")
	return nil
}

// Stop signals all workers to stop and waits for completion.
func (w *HistoryWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.log.WithComponent("history_writer").Info("stopping history writer")
	w.wg.Wait()
	w.log.WithComponent("history_writer").Info("history writer stopped")
}

func (w *HistoryWriter) worker(symbol string) {
	defer w.wg.Done()

	log := w.log.WithComponent("history_writer").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "candle_drain",
	})

	candles, ok := w.channels.Candle.Topic(symbol)
	if !ok {
		log.Error("no candle topic for symbol, worker exiting")
		return
	}

	log.Info("starting history worker")

	for {
		select {
		case <-w.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case ev, open := <-candles:
			if !open {
				log.Info("candle topic closed, worker stopping")
				return
			}
			w.processCandle(symbol, ev, log)
		}
	}
}

func (w *HistoryWriter) processCandle(symbol string, ev models.CandleEvent, log *logger.Entry) {
	var wire wireCandle
	if err := json.Unmarshal(ev.Payload, &wire); err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		log.WithError(err).Warn("failed to decode candle payload")
		return
	}

	stored := models.StoredCandle{
		Open:               float64(wire.Open),
		High:               float64(wire.High),
		Low:                float64(wire.Low),
		Close:              float64(wire.Close),
		Volume:             float64(wire.Volume),
		Interval:           w.intervalLabel(wire.Interval),
		Trades:             wire.Trades,
		GeneratedTimestamp: wire.EndTimeISO,
	}

	w.store.Append(symbol, stored)
	atomic.AddInt64(&w.candlesStored, 1)

	log.WithFields(logger.Fields{
		"end_time": stored.GeneratedTimestamp,
		"close":    stored.Close,
		"buffered": w.store.Count(symbol),
	}).Info("candle stored")
	logger.LogDataFlowEntry(log, ev.Topic, "history_store", 1, "candles")
}

// intervalLabel normalizes the wire interval to a duration label. A bare
// seconds count becomes <n>s; a missing interval falls back to the
// configured window width.
func (w *HistoryWriter) intervalLabel(raw json.RawMessage) string {
	if len(raw) > 0 {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		var n int
		if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
			return models.IntervalLabel(n)
		}
	}
	return models.IntervalLabel(w.config.Aggregator.IntervalSeconds)
}

func (w *HistoryWriter) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reportMetrics()
		}
	}
}

func (w *HistoryWriter) reportMetrics() {
	candlesStored := atomic.LoadInt64(&w.candlesStored)
	errorsCount := atomic.LoadInt64(&w.errorsCount)

	w.log.LogMetric("history_writer", "candles_stored", candlesStored, "counter", logger.Fields{})
	w.log.LogMetric("history_writer", "errors_count", errorsCount, "counter", logger.Fields{})

	w.log.WithComponent("history_writer").WithFields(logger.Fields{
		"candles_stored": candlesStored,
		"errors_count":   errorsCount,
	}).Info("history writer metrics")
}
