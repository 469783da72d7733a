package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateSafeWorkerCount(t *testing.T) {
	tests := []struct {
		availableGB float64
		want        int
	}{
		{0.5, 1},
		{1.0, 1},
		{1.5, 10},
		{3.0, 40},
		{64.0, 256},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateSafeWorkerCount(tt.availableGB), "available %.1fGB", tt.availableGB)
	}
}

func TestGetSystemMetricsIdle(t *testing.T) {
	coord := NewCoordinator(newFakeClient(), testConfig())

	m := coord.GetSystemMetrics()

	assert.Zero(t, m.WorkersTotal)
	assert.Zero(t, m.JobsRunning)
	assert.GreaterOrEqual(t, m.MemoryPercent, 0.0)
}
