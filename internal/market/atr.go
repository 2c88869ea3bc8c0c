package market

import (
	"github.com/eddiefleurent/atr_dipbot/internal/indicator"
	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

// ATRCalculator re-derives the ATR model each time a candle is finalized.
// ATR is undefined until period+1 candles have been observed.
type ATRCalculator struct {
	period     int
	multiplier float64
	atr        *float64
	atrPct     *float64
}

// NewATRCalculator creates a calculator for the given period and base entry
// multiplier.
func NewATRCalculator(period int, multiplier float64) *ATRCalculator {
	return &ATRCalculator{
		period:     period,
		multiplier: multiplier,
	}
}

// Update recomputes ATR and ATR% of price from the candle window. With fewer
// than period+1 candles the model becomes undefined again.
func (c *ATRCalculator) Update(candles []models.Candle, currentPrice float64) {
	atr, ok := indicator.ATR(candles, c.period)
	if !ok {
		c.atr = nil
		c.atrPct = nil
		return
	}

	c.atr = &atr
	if currentPrice > 0 {
		pct := (atr / currentPrice) * 100
		c.atrPct = &pct
	} else {
		c.atrPct = nil
	}
}

// IsReady reports whether ATR is defined.
func (c *ATRCalculator) IsReady() bool {
	return c.atr != nil
}

// ATR returns the current ATR value; ok is false while undefined.
func (c *ATRCalculator) ATR() (float64, bool) {
	if c.atr == nil {
		return 0, false
	}
	return *c.atr, true
}

// ATRPct returns ATR as a percentage of the last price; ok is false while
// undefined.
func (c *ATRCalculator) ATRPct() (float64, bool) {
	if c.atrPct == nil {
		return 0, false
	}
	return *c.atrPct, true
}

// Trigger returns atr * multiplier; ok is false while ATR is undefined.
func (c *ATRCalculator) Trigger(multiplier float64) (float64, bool) {
	if c.atr == nil {
		return 0, false
	}
	return *c.atr * multiplier, true
}

// AdjustMultiplier scales a base entry multiplier by the current volatility
// regime: high ATR% widens the trigger, quiet markets tighten it.
func (c *ATRCalculator) AdjustMultiplier(base float64) float64 {
	if c.atrPct == nil {
		return base
	}

	switch pct := *c.atrPct; {
	case pct > 3.0:
		return base * 1.8
	case pct > 2.0:
		return base * 1.3
	case pct < 1.0:
		return base * 0.75
	default:
		return base
	}
}
