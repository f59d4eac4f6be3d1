package config

import (
	"os"
	"strings"
	"testing"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `candleflow:
  name: "TestApp"
  version: "1.0"
  symbols: ["BTCUSDT", "ETHUSDT"]
channels:
  trade_buffer: 1
  candle_buffer: 1
  status_buffer: 1
source:
  binance:
    trades:
      enabled: true
      url: "wss://stream.example.com:9443/stream"
server:
  enabled: false
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Candleflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Candleflow.Name)
	}
	if len(cfg.Candleflow.Symbols) != 2 {
		t.Errorf("unexpected symbols: %v", cfg.Candleflow.Symbols)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Aggregator.IntervalSeconds != DefaultIntervalSeconds {
		t.Errorf("unexpected interval: %d", cfg.Aggregator.IntervalSeconds)
	}
	if cfg.Aggregator.TickMs != DefaultTickMs {
		t.Errorf("unexpected tick: %d", cfg.Aggregator.TickMs)
	}
	if cfg.History.Capacity != DefaultHistoryCapacity {
		t.Errorf("unexpected capacity: %d", cfg.History.Capacity)
	}
	if cfg.Source.Binance.Trades.Dedup.TTLSec != DefaultDedupTTLSec {
		t.Errorf("unexpected dedup ttl: %d", cfg.Source.Binance.Trades.Dedup.TTLSec)
	}
	if cfg.Source.Binance.Trades.Dedup.MaxEntries != DefaultDedupMaxEntries {
		t.Errorf("unexpected dedup max entries: %d", cfg.Source.Binance.Trades.Dedup.MaxEntries)
	}
	if cfg.Source.Binance.Trades.ReconnectDelaySec != DefaultReconnectDelaySec {
		t.Errorf("unexpected reconnect delay: %d", cfg.Source.Binance.Trades.ReconnectDelaySec)
	}
	if cfg.Source.Binance.Trades.Connection != "websocket" {
		t.Errorf("unexpected connection mode: %s", cfg.Source.Binance.Trades.Connection)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing symbols",
			mutate:  func(s string) string { return strings.Replace(s, `symbols: ["BTCUSDT", "ETHUSDT"]`, "symbols: []", 1) },
			wantErr: "symbols",
		},
		{
			name:    "missing name",
			mutate:  func(s string) string { return strings.Replace(s, `name: "TestApp"`, `name: ""`, 1) },
			wantErr: "name",
		},
		{
			name:    "zero trade buffer",
			mutate:  func(s string) string { return strings.Replace(s, "trade_buffer: 1", "trade_buffer: 0", 1) },
			wantErr: "trade_buffer",
		},
		{
			name: "bad connection mode",
			mutate: func(s string) string {
				return strings.Replace(s, `url: "wss://stream.example.com:9443/stream"`,
					"url: \"wss://stream.example.com:9443/stream\"\n      connection: carrier-pigeon", 1)
			},
			wantErr: "connection",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			content := tc.mutate(minimalConfig)
			path := writeTempConfig(t, content)
			defer os.Remove(path)

			_, err := LoadConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
