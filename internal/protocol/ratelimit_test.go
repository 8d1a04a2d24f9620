package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnRateLimiterAllowsUpToMaxPerWindow(t *testing.T) {
	l := newConnRateLimiter(time.Minute, 3)
	now := time.Now()
	assert.True(t, l.Allow(now))
	assert.True(t, l.Allow(now))
	assert.True(t, l.Allow(now))
	assert.False(t, l.Allow(now), "fourth message within the window must be rejected")
}

func TestConnRateLimiterResetsAfterWindowElapses(t *testing.T) {
	l := newConnRateLimiter(time.Minute, 1)
	now := time.Now()
	assert.True(t, l.Allow(now))
	assert.False(t, l.Allow(now.Add(time.Second)))
	assert.True(t, l.Allow(now.Add(2*time.Minute)))
}
