package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUntilCap(t *testing.T) {
	b := NewBackoff(time.Second, 10*time.Second)

	assert.Equal(t, 1*time.Second, b.Delay())
	assert.Equal(t, 2*time.Second, b.Delay())
	assert.Equal(t, 4*time.Second, b.Delay())
	assert.Equal(t, 8*time.Second, b.Delay())
	assert.Equal(t, 10*time.Second, b.Delay())
	assert.Equal(t, 10*time.Second, b.Delay())
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)
	b.Delay()
	b.Delay()
	b.Reset()
	assert.Equal(t, time.Second, b.Delay())
}

func TestBackoffDefaults(t *testing.T) {
	tests := []struct {
		name  string
		base  time.Duration
		max   time.Duration
		first time.Duration
	}{
		{name: "zero base falls back to one second", base: 0, max: 10 * time.Second, first: time.Second},
		{name: "max below base is raised to base", base: 5 * time.Second, max: time.Second, first: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackoff(tt.base, tt.max)
			assert.Equal(t, tt.first, b.Delay())
		})
	}
}
