package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/hubrun/internal/util"
)

func TestNewConsumption(t *testing.T) {
	tests := []struct {
		name      string
		start     *float64
		end       *float64
		consumed  float64
		available bool
	}{
		{"spent", util.Ptr(100.0), util.Ptr(62.5), 37.5, true},
		{"nothing spent", util.Ptr(40.0), util.Ptr(40.0), 0, true},
		{"topped up during run", util.Ptr(10.0), util.Ptr(500.0), 0, true},
		{"start unavailable", nil, util.Ptr(50.0), 0, false},
		{"end unavailable", util.Ptr(50.0), nil, 0, false},
		{"both unavailable", nil, nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConsumption("main", "fp", tt.start, tt.end)
			assert.Equal(t, tt.available, c.Available)
			assert.InDelta(t, tt.consumed, c.Consumed, 1e-9)
			assert.GreaterOrEqual(t, c.Consumed, 0.0)
		})
	}
}

func TestConsumptionNeverNegative(t *testing.T) {
	balances := []float64{0, 0.01, 1, 7.5, 100, 1e6}
	for _, start := range balances {
		for _, end := range balances {
			c := NewConsumption("k", "fp", util.Ptr(start), util.Ptr(end))
			assert.GreaterOrEqual(t, c.Consumed, 0.0, "start=%v end=%v", start, end)
			if start >= end {
				assert.InDelta(t, start-end, c.Consumed, 1e-9)
			}
		}
	}
}

func TestFingerprint(t *testing.T) {
	key := "sk-live-0123456789abcdef"

	fp := Fingerprint(key)

	assert.NotEmpty(t, fp)
	assert.NotContains(t, fp, key)
	assert.NotContains(t, fp, "0123456789")
	assert.Equal(t, fp, Fingerprint(key), "fingerprint must be stable")
	assert.NotEqual(t, fp, Fingerprint(key+"x"))
}
