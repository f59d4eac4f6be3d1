package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	appconfig "candleflow/config"
	"candleflow/internal/channel"
	"candleflow/internal/dedup"
	"candleflow/logger"
	"candleflow/models"

	"github.com/gorilla/websocket"
)

// TradeReader streams aggregated trades from the Binance combined stream,
// normalizes them and publishes one event per configured symbol topic.
// Duplicate trade ids are suppressed through a TTL-bounded window.
type TradeReader struct {
	config    *appconfig.Config
	channels  *channel.Channels
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log
	symbols   []string
	symbolSet map[string]struct{}
	dedup     *dedup.Window
	dialer    *websocket.Dialer
}

// NewTradeReader creates a TradeReader for the configured symbols. Trades for
// symbols outside the configured list are ignored.
func NewTradeReader(cfg *appconfig.Config, ch *channel.Channels) *TradeReader {
	log := logger.GetLogger()

	symbols := cfg.Candleflow.Symbols
	symbolSet := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		symbolSet[s] = struct{}{}
	}

	tradesCfg := cfg.Source.Binance.Trades
	reader := &TradeReader{
		config:    cfg,
		channels:  ch,
		wg:        &sync.WaitGroup{},
		log:       log,
		symbols:   symbols,
		symbolSet: symbolSet,
		dedup:     dedup.NewWindow(tradesCfg.Dedup.MaxEntries, time.Duration(tradesCfg.Dedup.TTLSec)*time.Second),
		dialer:    websocket.DefaultDialer,
	}

	log.WithComponent("binance_trade_reader").WithFields(logger.Fields{
		"symbols":           symbols,
		"connection":        tradesCfg.Connection,
		"dedup_max_entries": tradesCfg.Dedup.MaxEntries,
		"dedup_ttl_sec":     tradesCfg.Dedup.TTLSec,
	}).Info("binance trade reader initialized")

	return reader
}

// Start begins streaming trades using the configured connection mode.
func (r *TradeReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("trade reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("binance_trade_reader").WithFields(logger.Fields{"operation": "start"})

	tradesCfg := r.config.Source.Binance.Trades
	if !tradesCfg.Enabled {
		log.Warn("binance trade stream is disabled")
		return fmt.Errorf("binance trade stream is disabled")
	}

	log.WithFields(logger.Fields{
		"symbols":    r.symbols,
		"connection": tradesCfg.Connection,
	}).Info("starting trade reader")

	r.wg.Add(1)
	switch tradesCfg.Connection {
	case "sdk":
		go r.streamSDK()
	default:
		go r.streamWebsocket(tradesCfg)
	}

	log.Info("trade reader started successfully")
	return nil
}

// Stop signals the stream worker to stop and waits for completion.
func (r *TradeReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_trade_reader").Info("stopping trade reader")
	r.wg.Wait()
	r.log.WithComponent("binance_trade_reader").Info("trade reader stopped")
}

func (r *TradeReader) streamWebsocket(tradesCfg appconfig.BinanceTradesConfig) {
	defer r.wg.Done()

	log := r.log.WithComponent("binance_trade_reader").WithFields(logger.Fields{
		"worker": "trade_stream",
	})

	wsURL := streamURL(tradesCfg.URL, r.symbols)
	reconnectDelay := time.Duration(tradesCfg.ReconnectDelaySec) * time.Second

	for {
		if r.ctx.Err() != nil {
			log.Info("worker stopped due to context cancellation")
			return
		}

		if err := r.readConnection(wsURL, log); err != nil {
			log.WithError(err).Warn("websocket connection ended")
		}
		if r.ctx.Err() != nil {
			log.Info("worker stopped due to context cancellation")
			return
		}

		r.publishStatus(models.StatusFeedDisconnected)
		log.WithFields(logger.Fields{"reconnect_delay": reconnectDelay.Seconds()}).Warn("reconnecting to trade stream")

		select {
		case <-r.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// readConnection dials the combined stream and pumps messages until the
// connection fails or the context is cancelled.
func (r *TradeReader) readConnection(wsURL string, log *logger.Entry) error {
	conn, _, err := r.dialer.DialContext(r.ctx, wsURL, nil)
	if err != nil {
		r.publishStatus(models.StatusFeedError)
		return fmt.Errorf("failed to dial trade stream: %w", err)
	}
	defer conn.Close()

	log.WithFields(logger.Fields{"url": wsURL}).Info("connected to trade stream")
	r.publishStatus(models.StatusFeedConnected)

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if r.ctx.Err() != nil {
				return nil
			}
			r.publishStatus(models.StatusFeedError)
			return fmt.Errorf("failed to read trade stream: %w", err)
		}
		r.handleMessage(raw)
	}
}

func (r *TradeReader) publishStatus(status string) {
	r.channels.Status.Publish(r.ctx, models.StatusEvent{
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// streamURL builds the combined stream URL for the configured symbols,
// e.g. wss://host/stream?streams=btcusdt@aggTrade/ethusdt@aggTrade.
func streamURL(base string, symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@aggTrade")
	}
	return base + "?streams=" + strings.Join(streams, "/")
}
