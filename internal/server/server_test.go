package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	appconfig "candleflow/config"
	"candleflow/internal/history"
	"candleflow/models"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		Candleflow: appconfig.CandleflowConfig{
			Name:    "candleflow-test",
			Version: "0.0.1",
			Symbols: []string{"BTCUSDT", "ETHUSDT"},
		},
		Aggregator: appconfig.AggregatorConfig{IntervalSeconds: 60},
		History:    appconfig.HistoryConfig{Capacity: 120},
		Server: appconfig.ServerConfig{
			Enabled: true,
			Address: ":5001",
			RateLimit: appconfig.RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         100,
			},
		},
	}
}

func newTestServer(t *testing.T, cfg *appconfig.Config) (*Server, *history.Store, *httptest.Server) {
	t.Helper()
	store := history.NewStore(cfg.History.Capacity)
	s := NewServer(cfg, store, nil)
	if s == nil {
		t.Fatal("expected query server, got nil")
	}
	ts := httptest.NewServer(s.buildRouter())
	t.Cleanup(ts.Close)
	return s, store, ts
}

func dialSocket(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return raw
}

func seedCandle(store *history.Store, symbol string, close float64) {
	store.Append(symbol, models.StoredCandle{
		Open:               close - 1,
		High:               close + 1,
		Low:                close - 2,
		Close:              close,
		Volume:             10,
		Interval:           "60s",
		Trades:             5,
		GeneratedTimestamp: "2023-11-15T14:01:59.999Z",
	})
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":           "0.0.0.0:5001",
		"  :9090  ":  "0.0.0.0:9090",
		"localhost":  "localhost:5001",
		"0.0.0.0:80": "0.0.0.0:80",
		"*:5001":     "0.0.0.0:5001",
		"::1":        "[::1]:5001",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Enabled = false
	if s := NewServer(cfg, history.NewStore(10), nil); s != nil {
		t.Fatal("disabled server must be nil")
	}
}

func TestHealthRoute(t *testing.T) {
	_, _, ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/active")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestGetCandlesQuery(t *testing.T) {
	_, store, ts := newTestServer(t, testConfig())
	seedCandle(store, "BTCUSDT", 100)
	seedCandle(store, "BTCUSDT", 105)

	conn := dialSocket(t, ts)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"get-candles"}`)); err != nil {
		t.Fatalf("failed to send query: %v", err)
	}

	var response map[string]json.RawMessage
	if err := json.Unmarshal(readFrame(t, conn), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	var snap models.SymbolSnapshot
	if err := json.Unmarshal(response["BTCUSDT"], &snap); err != nil {
		t.Fatalf("failed to decode BTCUSDT snapshot: %v", err)
	}
	if len(snap.Close) != 2 || snap.Close[1] != 105 {
		t.Fatalf("unexpected BTCUSDT snapshot: %+v", snap)
	}
	if snap.Interval != "60s" {
		t.Fatalf("interval = %q, want 60s", snap.Interval)
	}
	if snap.DataLastUpdated != "2023-11-15T14:01:59.999Z" {
		t.Fatalf("last-updated = %q", snap.DataLastUpdated)
	}

	// Symbols with no candles yet are present with empty arrays.
	var empty models.SymbolSnapshot
	if err := json.Unmarshal(response["ETHUSDT"], &empty); err != nil {
		t.Fatalf("failed to decode ETHUSDT snapshot: %v", err)
	}
	if empty.Open == nil || len(empty.Open) != 0 {
		t.Fatalf("expected empty arrays for ETHUSDT, got %+v", empty)
	}

	var serverTS string
	if err := json.Unmarshal(response["server_timestamp"], &serverTS); err != nil || serverTS == "" {
		t.Fatalf("missing server_timestamp: %v", err)
	}
}

func TestGetCandlesQueryIsIdempotent(t *testing.T) {
	_, store, ts := newTestServer(t, testConfig())
	seedCandle(store, "BTCUSDT", 100)

	conn := dialSocket(t, ts)

	closes := make([][]float64, 2)
	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"get-candles"}`)); err != nil {
			t.Fatalf("failed to send query: %v", err)
		}
		var response map[string]json.RawMessage
		if err := json.Unmarshal(readFrame(t, conn), &response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		var snap models.SymbolSnapshot
		if err := json.Unmarshal(response["BTCUSDT"], &snap); err != nil {
			t.Fatalf("failed to decode snapshot: %v", err)
		}
		closes[i] = snap.Close
	}

	if len(closes[0]) != 1 || len(closes[1]) != 1 || closes[0][0] != closes[1][0] {
		t.Fatalf("repeated queries must see identical data: %v vs %v", closes[0], closes[1])
	}
}

func TestInvalidRequestFormat(t *testing.T) {
	_, store, ts := newTestServer(t, testConfig())
	seedCandle(store, "BTCUSDT", 100)

	conn := dialSocket(t, ts)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("failed to send garbage: %v", err)
	}

	var qerr models.QueryError
	if err := json.Unmarshal(readFrame(t, conn), &qerr); err != nil {
		t.Fatalf("failed to decode error frame: %v", err)
	}
	if qerr.Error != "Invalid request format" {
		t.Fatalf("error = %q, want %q", qerr.Error, "Invalid request format")
	}

	// The session survives a malformed request.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"get-candles"}`)); err != nil {
		t.Fatalf("failed to send query: %v", err)
	}
	var response map[string]json.RawMessage
	if err := json.Unmarshal(readFrame(t, conn), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := response["BTCUSDT"]; !ok {
		t.Fatal("expected a candle response after the error")
	}
}

func TestUnknownRequestTypeIgnored(t *testing.T) {
	_, _, ts := newTestServer(t, testConfig())

	conn := dialSocket(t, ts)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"get-trades"}`)); err != nil {
		t.Fatalf("failed to send request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("unknown request types must not produce a response")
	}
}

func TestRateLimitExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit.RequestsPerSecond = 1
	cfg.Server.RateLimit.BurstSize = 1
	_, store, ts := newTestServer(t, cfg)
	seedCandle(store, "BTCUSDT", 100)

	conn := dialSocket(t, ts)
	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"get-candles"}`)); err != nil {
			t.Fatalf("failed to send query: %v", err)
		}
	}

	// First request is served, second is throttled.
	var first map[string]json.RawMessage
	if err := json.Unmarshal(readFrame(t, conn), &first); err != nil {
		t.Fatalf("failed to decode first response: %v", err)
	}
	if _, ok := first["BTCUSDT"]; !ok {
		t.Fatal("first request should be served")
	}

	var qerr models.QueryError
	if err := json.Unmarshal(readFrame(t, conn), &qerr); err != nil {
		t.Fatalf("failed to decode throttle frame: %v", err)
	}
	if qerr.Error != "Too many requests" {
		t.Fatalf("error = %q, want %q", qerr.Error, "Too many requests")
	}
}
