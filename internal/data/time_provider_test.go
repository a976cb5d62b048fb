package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedTimeProvider(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tp := NewFixedTimeProvider(start)

	assert.Equal(t, start, tp.Now())
	assert.Equal(t, start, tp.Now(), "the clock does not move on its own")

	tp.AddTime(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), tp.Now())
}

func TestRealTimeProvider(t *testing.T) {
	before := time.Now()
	got := (&RealTimeProvider{}).Now()
	assert.False(t, got.Before(before))
}
