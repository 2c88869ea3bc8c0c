// Package indicator provides the pure volatility and PnL functions used by
// the strategy layer.
package indicator

import (
	"math"

	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

// TrueRange returns the true range of a candle given its predecessor:
// the largest of high-low, |high-prevClose| and |low-prevClose|.
func TrueRange(c, prev models.Candle) float64 {
	tr := c.High - c.Low
	if v := math.Abs(c.High - prev.Close); v > tr {
		tr = v
	}
	if v := math.Abs(c.Low - prev.Close); v > tr {
		tr = v
	}
	return tr
}

// ATR returns the simple arithmetic mean of the last period true ranges.
// It requires at least period+1 candles; ok is false otherwise. No Wilder
// smoothing is applied.
func ATR(candles []models.Candle, period int) (atr float64, ok bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	trueRanges := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trueRanges = append(trueRanges, TrueRange(candles[i], candles[i-1]))
	}

	recent := trueRanges[len(trueRanges)-period:]
	sum := 0.0
	for _, tr := range recent {
		sum += tr
	}
	return sum / float64(len(recent)), true
}

// Profit returns the net PnL of a round trip: gross directional PnL minus the
// already-paid entry fee and an exit fee of exitPrice*qty*exitFeeRate.
func Profit(entryPrice, exitPrice, qty, entryFee, exitFeeRate float64, isLong bool) float64 {
	var gross float64
	if isLong {
		gross = (exitPrice - entryPrice) * qty
	} else {
		gross = (entryPrice - exitPrice) * qty
	}

	exitFee := exitPrice * qty * exitFeeRate
	return gross - entryFee - exitFee
}
