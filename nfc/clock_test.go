package nfc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func fired(c <-chan time.Time) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

func TestFakeClock_Timer(t *testing.T) {
	clock := NewFakeClock(epoch)
	timer := clock.NewTimer(time.Second)
	assert.Equal(t, 1, clock.ActiveTimers())

	clock.Advance(999 * time.Millisecond)
	assert.False(t, fired(timer.C()))

	clock.Advance(time.Millisecond)
	assert.True(t, fired(timer.C()))
	assert.Equal(t, 0, clock.ActiveTimers())
	assert.Equal(t, epoch.Add(time.Second), clock.Now())
}

func TestFakeClock_TimerStopAndReset(t *testing.T) {
	clock := NewFakeClock(epoch)
	timer := clock.NewTimer(time.Second)

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	clock.Advance(2 * time.Second)
	assert.False(t, fired(timer.C()))

	assert.False(t, timer.Reset(time.Second))
	assert.True(t, timer.Reset(time.Second))
	assert.Equal(t, 1, clock.ActiveTimers())
	clock.Advance(time.Second)
	assert.True(t, fired(timer.C()))
}

func TestFakeClock_Ticker(t *testing.T) {
	clock := NewFakeClock(epoch)
	ticker := clock.NewTicker(100 * time.Millisecond)

	clock.Advance(50 * time.Millisecond)
	assert.False(t, fired(ticker.C()))
	clock.Advance(50 * time.Millisecond)
	assert.True(t, fired(ticker.C()))

	// Several periods in one step deliver a single tick.
	clock.Advance(time.Second)
	assert.True(t, fired(ticker.C()))
	assert.False(t, fired(ticker.C()))

	ticker.Stop()
	clock.Advance(time.Second)
	assert.False(t, fired(ticker.C()))
}

func TestFakeClock_After(t *testing.T) {
	clock := NewFakeClock(epoch)
	c := clock.After(time.Minute)
	clock.Advance(time.Minute)
	assert.True(t, fired(c))
}
