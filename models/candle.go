package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Candle is one fixed-width OHLCV window for a single symbol. It is built up
// by the aggregator while the window is open and becomes immutable once the
// finalize tick stamps the end fields and publishes it.
type Candle struct {
	Symbol            string  `json:"symbol"`
	Open              float64 `json:"open"`
	High              float64 `json:"high"`
	Low               float64 `json:"low"`
	Close             float64 `json:"close"`
	Volume            float64 `json:"volume"`
	StartTime         int64   `json:"startTime"`
	StartTimeISO      string  `json:"startTimeISO"`
	Trades            int     `json:"trades"`
	FirstTradeID      int64   `json:"firstTradeId"`
	FirstTradeTime    int64   `json:"firstTradeTime"`
	FirstTradeTimeISO string  `json:"firstTradeTimeISO"`
	LastTradeID       int64   `json:"lastTradeId,omitempty"`
	LastTradeTime     int64   `json:"lastTradeTime,omitempty"`
	LastTradeTimeISO  string  `json:"lastTradeTimeISO,omitempty"`

	// Stamped at finalization.
	EndTime        int64  `json:"endTime,omitempty"`
	EndTimeISO     string `json:"endTimeISO,omitempty"`
	Interval       string `json:"interval,omitempty"`
	GeneratedAt    int64  `json:"generatedAt,omitempty"`
	GeneratedAtISO string `json:"generatedAtISO,omitempty"`
	DurationMs     int64  `json:"durationMs,omitempty"`
}

// CandleEvent wraps a serialized finalized Candle for transport on the
// channel bus.
type CandleEvent struct {
	Topic     string
	Symbol    string
	Payload   []byte
	Timestamp time.Time
}

// CandleTopic returns the per-symbol topic name finalized candles are
// published on. Interval is the window width in seconds.
func CandleTopic(symbol string, intervalSeconds int) string {
	return fmt.Sprintf("CANDLE_%s_%ds", symbol, intervalSeconds)
}

// IntervalLabel renders a window width the way it appears on the wire,
// e.g. 60s for one-minute candles.
func IntervalLabel(intervalSeconds int) string {
	return fmt.Sprintf("%ds", intervalSeconds)
}

// ISOTime formats an epoch-millisecond timestamp as RFC3339 with millisecond
// precision in UTC, matching the upstream feed's ISO fields.
func ISOTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// FlexFloat decodes a JSON number that may arrive either as a number or as a
// quoted string. The history distributor tolerates both wire representations.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty numeric value")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// StoredCandle is the reduced record retained by the history buffer. Field
// names mirror the snapshot the query interface serves.
type StoredCandle struct {
	Open               float64 `json:"open"`
	High               float64 `json:"high"`
	Low                float64 `json:"low"`
	Close              float64 `json:"close"`
	Volume             float64 `json:"volume"`
	Interval           string  `json:"interval"`
	Trades             int     `json:"trades"`
	GeneratedTimestamp string  `json:"candle-generated-timestamp"`
}
