package models

// QueryRequest is a pull-style request received over the query session.
// Only the get-candles type is currently served.
type QueryRequest struct {
	Type string `json:"type"`
}

const QueryTypeGetCandles = "get-candles"

// SymbolSnapshot is the columnar view of one symbol's history buffer. The
// parallel arrays are in buffer order, oldest candle first.
type SymbolSnapshot struct {
	Open            []float64 `json:"open"`
	High            []float64 `json:"high"`
	Low             []float64 `json:"low"`
	Close           []float64 `json:"close"`
	Volume          []float64 `json:"volume"`
	Interval        string    `json:"interval"`
	Trades          []int     `json:"trades"`
	DataLastUpdated string    `json:"data-last-updated-timestamp,omitempty"`
}

// QueryError is sent back when a request payload cannot be parsed.
type QueryError struct {
	Error string `json:"error"`
}
