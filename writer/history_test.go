package writer

import (
	"context"
	"testing"
	"time"

	appconfig "candleflow/config"
	"candleflow/internal/channel"
	"candleflow/internal/history"
	"candleflow/models"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		Candleflow: appconfig.CandleflowConfig{
			Name:    "candleflow-test",
			Version: "0.0.1",
			Symbols: []string{"BTCUSDT"},
		},
		Aggregator: appconfig.AggregatorConfig{
			IntervalSeconds: 60,
			TickMs:          1000,
		},
		History: appconfig.HistoryConfig{Capacity: 120},
	}
}

func newTestWriter(t *testing.T) (*HistoryWriter, *history.Store) {
	t.Helper()
	cfg := testConfig()
	ch := channel.NewChannels(cfg.Candleflow.Symbols, cfg.Aggregator.IntervalSeconds, 16, 16, 16)
	store := history.NewStore(cfg.History.Capacity)
	w := NewHistoryWriter(cfg, ch, store)
	w.ctx = context.Background()
	return w, store
}

func candleEvent(payload string) models.CandleEvent {
	return models.CandleEvent{
		Topic:     models.CandleTopic("BTCUSDT", 60),
		Symbol:    "BTCUSDT",
		Payload:   []byte(payload),
		Timestamp: time.Now(),
	}
}

func TestProcessCandleStoresReducedRecord(t *testing.T) {
	w, store := newTestWriter(t)
	log := w.log.WithComponent("history_writer")

	payload := `{"symbol":"BTCUSDT","open":100,"high":110,"low":95,"close":105,"volume":12.5,` +
		`"startTime":1700000040000,"trades":42,"endTime":1700000099999,` +
		`"endTimeISO":"2023-11-14T22:14:59.999Z","interval":"60s"}`
	w.processCandle("BTCUSDT", candleEvent(payload), log)

	snap := store.Snapshot()["BTCUSDT"]
	if len(snap.Open) != 1 {
		t.Fatalf("expected 1 stored candle, got %d", len(snap.Open))
	}
	if snap.Open[0] != 100 || snap.High[0] != 110 || snap.Low[0] != 95 || snap.Close[0] != 105 {
		t.Fatalf("unexpected OHLC: %+v", snap)
	}
	if snap.Volume[0] != 12.5 || snap.Trades[0] != 42 {
		t.Fatalf("unexpected volume/trades: %+v", snap)
	}
	if snap.Interval != "60s" {
		t.Fatalf("interval = %q, want 60s", snap.Interval)
	}
	if snap.DataLastUpdated != "2023-11-14T22:14:59.999Z" {
		t.Fatalf("last-updated = %q", snap.DataLastUpdated)
	}
}

func TestProcessCandleToleratesStringNumbers(t *testing.T) {
	w, store := newTestWriter(t)
	log := w.log.WithComponent("history_writer")

	payload := `{"open":"100.5","high":"110","low":"95","close":"105","volume":"1.25",` +
		`"trades":3,"endTimeISO":"2023-11-14T22:14:59.999Z","interval":60}`
	w.processCandle("BTCUSDT", candleEvent(payload), log)

	snap := store.Snapshot()["BTCUSDT"]
	if len(snap.Open) != 1 {
		t.Fatal("expected the quoted-number candle to be stored")
	}
	if snap.Open[0] != 100.5 || snap.Volume[0] != 1.25 {
		t.Fatalf("unexpected parsed numbers: %+v", snap)
	}
	// A bare seconds count still renders as a duration label.
	if snap.Interval != "60s" {
		t.Fatalf("interval = %q, want 60s", snap.Interval)
	}
}

func TestProcessCandleDefaultsMissingInterval(t *testing.T) {
	w, store := newTestWriter(t)
	log := w.log.WithComponent("history_writer")

	payload := `{"open":1,"high":1,"low":1,"close":1,"volume":1,"trades":1,` +
		`"endTimeISO":"2023-11-14T22:14:59.999Z"}`
	w.processCandle("BTCUSDT", candleEvent(payload), log)

	snap := store.Snapshot()["BTCUSDT"]
	if snap.Interval != "60s" {
		t.Fatalf("interval = %q, want configured default 60s", snap.Interval)
	}
}

func TestProcessCandleRejectsMalformedPayload(t *testing.T) {
	w, store := newTestWriter(t)
	log := w.log.WithComponent("history_writer")

	w.processCandle("BTCUSDT", candleEvent(`not json`), log)
	w.processCandle("BTCUSDT", candleEvent(`{"open":"abc"}`), log)

	if n := store.Count("BTCUSDT"); n != 0 {
		t.Fatalf("malformed candles must not be stored, got %d", n)
	}
}

func TestProcessCandleEvictsBeyondCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.History.Capacity = 3
	ch := channel.NewChannels(cfg.Candleflow.Symbols, 60, 16, 16, 16)
	store := history.NewStore(cfg.History.Capacity)
	w := NewHistoryWriter(cfg, ch, store)
	w.ctx = context.Background()
	log := w.log.WithComponent("history_writer")

	for i := 1; i <= 5; i++ {
		payload := `{"open":` + string(rune('0'+i)) + `,"high":1,"low":1,"close":1,"volume":1,"trades":1,` +
			`"endTimeISO":"2023-11-14T22:14:59.999Z","interval":"60s"}`
		w.processCandle("BTCUSDT", candleEvent(payload), log)
	}

	snap := store.Snapshot()["BTCUSDT"]
	if len(snap.Open) != 3 {
		t.Fatalf("expected 3 retained candles, got %d", len(snap.Open))
	}
	if snap.Open[0] != 3 || snap.Open[2] != 5 {
		t.Fatalf("expected candles 3..5, got %v", snap.Open)
	}
}

func TestWriterStartStop(t *testing.T) {
	w, _ := newTestWriter(t)

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(ctx); err == nil {
		t.Fatal("second Start should fail while running")
	}
	cancel()
	w.Stop()
}
