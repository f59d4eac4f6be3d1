package models

import (
	"encoding/json"
	"time"
)

// RawStreamMessage represents the multiplexed combined-stream envelope
// delivered by the exchange websocket. Messages without both fields are
// ignored upstream. Data is kept raw so the envelope check and the trade
// decode can fail independently.
type RawStreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// RawAggTrade is the wire shape of a single aggregated trade. Price and
// quantity arrive as strings and are parsed during normalization.
type RawAggTrade struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeID      int64  `json:"a"`
	Timestamp    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// Trade is the canonical normalized trade record published on the per-symbol
// trade topic. It is constructed once by the ingestor and never mutated.
type Trade struct {
	Event        string  `json:"event"`
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	Timestamp    int64   `json:"timestamp"`
	TradeID      int64   `json:"tradeId"`
	IsBuyerMaker bool    `json:"isBuyerMaker"`
	Source       string  `json:"exchange"`
	ReceivedAt   int64   `json:"receivedAt"`
}

// TradeEvent wraps a serialized Trade for transport on the channel bus.
type TradeEvent struct {
	Topic     string
	Symbol    string
	Payload   []byte
	Timestamp time.Time
}

// TradeTopic returns the per-symbol topic name a normalized trade is
// published on.
func TradeTopic(symbol string) string {
	return "TRADE_" + symbol
}
