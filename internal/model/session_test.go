package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionStatusPending, SessionStatusRunning, true},
		{SessionStatusRunning, SessionStatusStopping, true},
		{SessionStatusStopping, SessionStatusStopped, true},
		{SessionStatusRunning, SessionStatusCompleted, true},
		{SessionStatusRunning, SessionStatusPending, false},
		{SessionStatusStopped, SessionStatusRunning, false},
		{SessionStatusCompleted, SessionStatusStopping, false},
		{SessionStatusStopping, SessionStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestSessionStatus_Stoppable(t *testing.T) {
	t.Parallel()
	assert.True(t, SessionStatusPending.Stoppable())
	assert.True(t, SessionStatusRunning.Stoppable())
	assert.False(t, SessionStatusStopping.Stoppable())
	assert.False(t, SessionStatusStopped.Stoppable())
	assert.False(t, SessionStatusCompleted.Stoppable())
}

func TestStatusCounts(t *testing.T) {
	t.Parallel()

	c := StatusCounts{
		ItemStatusPending:         2,
		ItemStatusLeased:          1,
		ItemStatusResolvedFailure: 4,
	}
	assert.Equal(t, 3, c.Unresolved())
	assert.Equal(t, 7, c.Total())
}
