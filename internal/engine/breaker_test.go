package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	b := NewBreaker(3, time.Minute)
	b.now = func() time.Time { return now }

	assert.False(t, b.Failure("dev-1"))
	assert.False(t, b.Failure("dev-1"))
	assert.True(t, b.Allow("dev-1"))
	assert.True(t, b.Failure("dev-1"))
	assert.False(t, b.Allow("dev-1"))
	assert.True(t, b.Allow("dev-2"))

	// Still open within the cooldown.
	now = now.Add(59 * time.Second)
	assert.False(t, b.Allow("dev-1"))

	// Half-open after the cooldown: one failure reopens.
	now = now.Add(time.Second)
	assert.True(t, b.Allow("dev-1"))
	assert.True(t, b.Failure("dev-1"))
	assert.False(t, b.Allow("dev-1"))
}

func TestBreaker_SuccessResets(t *testing.T) {
	b := NewBreaker(2, time.Minute)

	b.Failure("dev-1")
	b.Success("dev-1")
	assert.False(t, b.Failure("dev-1"))
	assert.True(t, b.Allow("dev-1"))
}

func TestBreaker_Disabled(t *testing.T) {
	b := NewBreaker(0, time.Minute)
	for i := 0; i < 10; i++ {
		assert.False(t, b.Failure("dev-1"))
	}
	assert.True(t, b.Allow("dev-1"))

	var nilBreaker *Breaker
	assert.True(t, nilBreaker.Allow("dev-1"))
}
