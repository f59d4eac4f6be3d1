package history

import (
	"sync"

	"candleflow/models"
)

// Store keeps the most recent finalized candles per symbol in arrival order.
// Once a symbol's buffer is full the oldest candle is dropped for each new
// append, so the buffer always holds the latest Capacity candles.
type Store struct {
	globalMu sync.RWMutex
	capacity int
	data     map[string]*symbolBuffer
}

type symbolBuffer struct {
	mu          sync.Mutex
	candles     []models.StoredCandle
	lastUpdated string
}

func NewStore(capacity int) *Store {
	return &Store{
		capacity: capacity,
		data:     make(map[string]*symbolBuffer),
	}
}

// Append adds one finalized candle to the symbol's buffer, evicting the
// oldest entry when the buffer is at capacity. lastUpdated is the candle's
// generation timestamp and is reported back in snapshots.
func (s *Store) Append(symbol string, c models.StoredCandle) {
	// Fast path: lock per-symbol buffer only
	s.globalMu.RLock()
	buf, ok := s.data[symbol]
	s.globalMu.RUnlock()

	if !ok {
		// Need to initialize new symbol buffer (exclusive lock)
		s.globalMu.Lock()
		if buf, ok = s.data[symbol]; !ok {
			buf = &symbolBuffer{candles: make([]models.StoredCandle, 0, s.capacity)}
			s.data[symbol] = buf
		}
		s.globalMu.Unlock()
	}

	buf.mu.Lock()
	if len(buf.candles) >= s.capacity {
		n := copy(buf.candles, buf.candles[len(buf.candles)-s.capacity+1:])
		buf.candles = buf.candles[:n]
	}
	buf.candles = append(buf.candles, c)
	buf.lastUpdated = c.GeneratedTimestamp
	buf.mu.Unlock()
}

// Count returns the number of candles currently buffered for symbol.
func (s *Store) Count(symbol string) int {
	s.globalMu.RLock()
	buf, ok := s.data[symbol]
	s.globalMu.RUnlock()
	if !ok {
		return 0
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	return len(buf.candles)
}

// Snapshot builds the columnar view of every symbol's buffer, oldest candle
// first. Symbols with no candles are omitted.
func (s *Store) Snapshot() map[string]models.SymbolSnapshot {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	result := make(map[string]models.SymbolSnapshot, len(s.data))
	for sym, buf := range s.data {
		buf.mu.Lock()
		if len(buf.candles) == 0 {
			buf.mu.Unlock()
			continue
		}
		snap := models.SymbolSnapshot{
			Open:            make([]float64, 0, len(buf.candles)),
			High:            make([]float64, 0, len(buf.candles)),
			Low:             make([]float64, 0, len(buf.candles)),
			Close:           make([]float64, 0, len(buf.candles)),
			Volume:          make([]float64, 0, len(buf.candles)),
			Trades:          make([]int, 0, len(buf.candles)),
			DataLastUpdated: buf.lastUpdated,
		}
		for _, c := range buf.candles {
			snap.Open = append(snap.Open, c.Open)
			snap.High = append(snap.High, c.High)
			snap.Low = append(snap.Low, c.Low)
			snap.Close = append(snap.Close, c.Close)
			snap.Volume = append(snap.Volume, c.Volume)
			snap.Trades = append(snap.Trades, c.Trades)
			snap.Interval = c.Interval
		}
		buf.mu.Unlock()
		result[sym] = snap
	}
	return result
}
