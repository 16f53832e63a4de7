package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSenderRateLimiter(t *testing.T) {
	rl := NewSenderRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("c1"), "attempt %d", i)
	}
	assert.False(t, rl.Allow("c1"))

	// Limits are per sender.
	assert.True(t, rl.Allow("c2"))

	rl.Forget("c1")
	assert.True(t, rl.Allow("c1"))
}

func TestSenderRateLimiterWindowExpiry(t *testing.T) {
	rl := NewSenderRateLimiter(2, 20*time.Millisecond)

	assert.True(t, rl.Allow("c1"))
	assert.True(t, rl.Allow("c1"))
	assert.False(t, rl.Allow("c1"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("c1"))
}
