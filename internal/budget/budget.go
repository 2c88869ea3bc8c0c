// Package budget tracks allocated capital and computes per-trade sizing from
// ATR drop magnitude and volatility.
package budget

import (
	"fmt"

	"github.com/eddiefleurent/atr_dipbot/internal/config"
)

// defaultBudgetPct is used when no sizing level matches the observed drop.
const defaultBudgetPct = 0.03

// Allocation carries the sizing diagnostics alongside the computed quantity.
type Allocation struct {
	BudgetPercentage     float64
	VolatilityAdjustment float64
	AdjustedPercentage   float64
	PositionValue        float64
	ActualCost           float64
}

// Manager tracks total and used budget and applies the sizing ladder.
// It is owned by a single strategy and is not safe for concurrent use.
type Manager struct {
	totalBudget    float64
	maxPositionPct float64
	levels         []config.SizingLevel
	leverage       int
	usedBudget     float64
}

// NewManager creates a budget manager from the bot's budget config and
// leverage. Levels are assumed validated (sorted descending by atr_multiplier).
func NewManager(cfg config.BudgetConfig, leverage int) *Manager {
	return &Manager{
		totalBudget:    cfg.AllocatedAmount,
		maxPositionPct: cfg.MaxPositionPct,
		levels:         cfg.PositionSizing.Levels,
		leverage:       leverage,
	}
}

// Allocate computes the order quantity for a dip of atrDropSize ATRs at the
// given price, scaled down in volatile regimes.
func (m *Manager) Allocate(price, atrDropSize, atrPct float64) (float64, Allocation) {
	budgetPct := m.budgetPct(atrDropSize)
	volAdj := m.volatilityAdjustment(atrPct)
	adjustedPct := budgetPct * volAdj

	remaining := m.Remaining()
	positionValue := remaining * adjustedPct * float64(m.leverage)
	quantity := positionValue / price

	return quantity, Allocation{
		BudgetPercentage:     budgetPct,
		VolatilityAdjustment: volAdj,
		AdjustedPercentage:   adjustedPct,
		PositionValue:        positionValue,
		ActualCost:           positionValue / float64(m.leverage),
	}
}

// budgetPct selects the first sizing level whose atr_multiplier is at or
// below the observed drop; the ladder is ordered descending so bigger dips
// win bigger budget fractions.
func (m *Manager) budgetPct(atrDropSize float64) float64 {
	for _, lvl := range m.levels {
		if atrDropSize >= lvl.ATRMultiplier {
			return lvl.BudgetPercentage
		}
	}
	return defaultBudgetPct
}

// volatilityAdjustment shrinks sizing as ATR% of price rises.
func (m *Manager) volatilityAdjustment(atrPct float64) float64 {
	switch {
	case atrPct > 3.0:
		return 0.7
	case atrPct > 2.0:
		return 0.85
	default:
		return 1.0
	}
}

// CanOpen reports whether a trade costing actualCost (margin, already divided
// by leverage) may be opened, with a reason when it may not.
func (m *Manager) CanOpen(actualCost float64) (bool, string) {
	remaining := m.Remaining()
	if actualCost > remaining {
		return false, fmt.Sprintf("insufficient budget: required $%.2f, available $%.2f", actualCost, remaining)
	}

	maxPositionValue := m.totalBudget * m.maxPositionPct
	if m.usedBudget >= maxPositionValue {
		return false, fmt.Sprintf("max position size reached ($%.2f)", maxPositionValue)
	}

	return true, "OK"
}

// Reserve marks cost as committed.
func (m *Manager) Reserve(cost float64) {
	m.usedBudget += cost
}

// Release returns cost to the pool, flooring used budget at zero.
func (m *Manager) Release(cost float64) {
	m.usedBudget -= cost
	if m.usedBudget < 0 {
		m.usedBudget = 0
	}
}

// Remaining returns the uncommitted budget.
func (m *Manager) Remaining() float64 {
	return m.totalBudget - m.usedBudget
}

// Used returns the committed budget.
func (m *Manager) Used() float64 {
	return m.usedBudget
}

// Total returns the allocated budget.
func (m *Manager) Total() float64 {
	return m.totalBudget
}
