// Package market folds the live tick stream into candles and derives the
// ATR volatility model from them.
package market

import (
	"time"

	"github.com/eddiefleurent/atr_dipbot/internal/config"
	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

// maxCandleHistory bounds the finalized candle ring.
const maxCandleHistory = 100

// CandleManager folds a tick stream into fixed-duration OHLC candles.
//
// Buckets advance from the timestamp of the last observed tick, not from
// wall-clock aligned boundaries, so a candle can stretch past its nominal
// duration when ticks are missed. That matches the upstream behavior and is
// deliberate.
type CandleManager struct {
	timeframeSecs int
	candles       []models.Candle
	current       *models.Candle
	bucketStart   time.Time
}

// NewCandleManager creates a manager for the given timeframe label
// (e.g. "1m", "15m"); unknown labels default to 15 minutes.
func NewCandleManager(timeframe string) *CandleManager {
	return &CandleManager{
		timeframeSecs: config.TimeframeSeconds(timeframe),
		candles:       make([]models.Candle, 0, maxCandleHistory),
	}
}

// Update folds one tick into the current candle, finalizing it first when the
// bucket has elapsed.
func (m *CandleManager) Update(price float64, now time.Time) {
	if m.bucketStart.IsZero() {
		m.bucketStart = now
		m.current = &models.Candle{
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Timestamp: now,
		}
		return
	}

	elapsed := now.Sub(m.bucketStart).Seconds()
	if elapsed < float64(m.timeframeSecs) {
		if price > m.current.High {
			m.current.High = price
		}
		if price < m.current.Low {
			m.current.Low = price
		}
		m.current.Close = price
		return
	}

	m.candles = append(m.candles, *m.current)
	if len(m.candles) > maxCandleHistory {
		m.candles = m.candles[1:]
	}

	m.bucketStart = now
	m.current = &models.Candle{
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Timestamp: now,
	}
}

// IsCandleReady reports whether at least one candle has been finalized.
func (m *CandleManager) IsCandleReady() bool {
	return len(m.candles) > 0
}

// GetCompleted returns up to the last n finalized candles, oldest first.
func (m *CandleManager) GetCompleted(n int) []models.Candle {
	if n <= 0 || len(m.candles) == 0 {
		return nil
	}
	if n > len(m.candles) {
		n = len(m.candles)
	}
	out := make([]models.Candle, n)
	copy(out, m.candles[len(m.candles)-n:])
	return out
}

// GetCurrent returns the in-progress candle, or nil before the first tick.
func (m *CandleManager) GetCurrent() *models.Candle {
	if m.current == nil {
		return nil
	}
	c := *m.current
	return &c
}

// CompletedCount returns the number of finalized candles retained.
func (m *CandleManager) CompletedCount() int {
	return len(m.candles)
}
