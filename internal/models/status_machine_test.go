package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    BotStatus
		to      BotStatus
		allowed bool
	}{
		{StatusCreated, StatusRunning, true},
		{StatusCreated, StatusError, true},
		{StatusRunning, StatusStopped, true},
		{StatusRunning, StatusError, true},
		{StatusStopped, StatusRunning, true},
		{StatusError, StatusRunning, true},
		{StatusCreated, StatusStopped, false},
		{StatusStopped, StatusError, false},
		{StatusError, StatusStopped, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
			err := CheckTransition(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSameStatusIsAlwaysAllowed(t *testing.T) {
	for _, s := range []BotStatus{StatusCreated, StatusRunning, StatusStopped, StatusPaused, StatusError} {
		assert.True(t, CanTransition(s, s), "repeat persistence of %s must stay legal", s)
	}
}

func TestCheckTransitionRejectsUnknownStatus(t *testing.T) {
	assert.Error(t, CheckTransition(StatusRunning, BotStatus("EXPLODED")))
	assert.False(t, BotStatus("EXPLODED").Valid())
}

func TestSideIsLong(t *testing.T) {
	assert.True(t, SideLong.IsLong())
	assert.True(t, SideBuy.IsLong())
	assert.False(t, SideShort.IsLong())
	assert.False(t, SideSell.IsLong())
}
