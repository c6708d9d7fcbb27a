package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_NeverGoesBackwards(t *testing.T) {
	c := NewManualClock(t0)

	assert.Equal(t, t0.Add(time.Second), c.Advance(time.Second))
	c.Advance(-time.Hour)
	assert.Equal(t, t0.Add(time.Second), c.Now())

	assert.Equal(t, t0.Add(time.Minute), c.Advance(59*time.Second))
}

func TestSystemClock_IsNonDecreasing(t *testing.T) {
	var c SystemClock
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		now := c.Now()
		assert.False(t, now.Before(prev))
		prev = now
	}
}
