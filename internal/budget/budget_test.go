package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/atr_dipbot/internal/config"
)

func testConfig() config.BudgetConfig {
	return config.BudgetConfig{
		AllocatedAmount: 1000,
		MaxPositionPct:  0.50,
		PositionSizing: config.PositionSizingConfig{
			Levels: []config.SizingLevel{
				{ATRMultiplier: 3.0, BudgetPercentage: 0.30},
				{ATRMultiplier: 2.0, BudgetPercentage: 0.20},
				{ATRMultiplier: 1.0, BudgetPercentage: 0.10},
			},
		},
	}
}

func TestLadderSelection(t *testing.T) {
	m := NewManager(testConfig(), 10)

	tests := []struct {
		name     string
		dropSize float64
		wantPct  float64
	}{
		{"huge drop picks top level", 3.5, 0.30},
		{"exactly at a level picks it", 2.0, 0.20},
		{"just above a level picks it", 1.01, 0.10},
		{"below all levels defaults", 0.5, 0.03},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, alloc := m.Allocate(100, tt.dropSize, 1.0)
			assert.InDelta(t, tt.wantPct, alloc.BudgetPercentage, 1e-9)
		})
	}
}

func TestSizingMonotonicity(t *testing.T) {
	m := NewManager(testConfig(), 10)
	drops := []float64{0.5, 1.0, 1.5, 2.0, 2.5, 3.0, 4.0}

	prev := 0.0
	for _, drop := range drops {
		_, alloc := m.Allocate(100, drop, 1.5)
		assert.GreaterOrEqual(t, alloc.BudgetPercentage, prev,
			"budget pct must not shrink as the drop grows (drop=%v)", drop)
		prev = alloc.BudgetPercentage
	}
}

func TestVolatilityAdjustment(t *testing.T) {
	m := NewManager(testConfig(), 10)

	_, calm := m.Allocate(100, 1.0, 1.5)
	assert.InDelta(t, 1.0, calm.VolatilityAdjustment, 1e-9)

	_, elevated := m.Allocate(100, 1.0, 2.5)
	assert.InDelta(t, 0.85, elevated.VolatilityAdjustment, 1e-9)

	_, extreme := m.Allocate(100, 1.0, 3.5)
	assert.InDelta(t, 0.7, extreme.VolatilityAdjustment, 1e-9)

	_, boundary := m.Allocate(100, 1.0, 2.0)
	assert.InDelta(t, 1.0, boundary.VolatilityAdjustment, 1e-9)
}

func TestAllocateQuantityAndCost(t *testing.T) {
	m := NewManager(testConfig(), 10)

	qty, alloc := m.Allocate(98, 1.0, 1.0)
	// 1000 remaining * 0.10 * 10x = 1000 notional at 98.
	assert.InDelta(t, 1000.0, alloc.PositionValue, 1e-9)
	assert.InDelta(t, 1000.0/98.0, qty, 1e-9)
	assert.InDelta(t, 100.0, alloc.ActualCost, 1e-9)

	// Reserved budget shrinks the next allocation.
	m.Reserve(alloc.ActualCost)
	_, next := m.Allocate(98, 1.0, 1.0)
	assert.InDelta(t, 900.0, next.PositionValue, 1e-9)
}

func TestCanOpen(t *testing.T) {
	m := NewManager(testConfig(), 10)

	ok, reason := m.CanOpen(100)
	assert.True(t, ok)
	assert.Equal(t, "OK", reason)

	ok, reason = m.CanOpen(1500)
	assert.False(t, ok)
	assert.Contains(t, reason, "insufficient budget")

	// Used budget at the cap blocks further entries.
	m.Reserve(500)
	ok, reason = m.CanOpen(10)
	assert.False(t, ok)
	assert.Contains(t, reason, "max position size reached")
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	m := NewManager(testConfig(), 10)
	require.InDelta(t, 0, m.Used(), 1e-9)

	m.Reserve(123.45)
	assert.InDelta(t, 123.45, m.Used(), 1e-9)
	assert.InDelta(t, 1000-123.45, m.Remaining(), 1e-9)

	m.Release(123.45)
	assert.InDelta(t, 0, m.Used(), 1e-9)
	assert.InDelta(t, 1000, m.Remaining(), 1e-9)
}

func TestReleaseFloorsAtZero(t *testing.T) {
	m := NewManager(testConfig(), 10)
	m.Reserve(50)
	m.Release(80)
	assert.InDelta(t, 0, m.Used(), 1e-9)
	assert.InDelta(t, 1000, m.Remaining(), 1e-9)
}
