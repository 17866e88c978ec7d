package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualAdvanceFiresDueTimersInOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var fired []string
	m.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	m.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	m.AfterFunc(5*time.Second, func() { fired = append(fired, "c") })

	m.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, start.Add(3*time.Second), m.Now())
	assert.Equal(t, 1, m.Pending())

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, 0, m.Pending())
}

func TestManualStopPreventsFiring(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	called := false
	timer := m.AfterFunc(time.Second, func() { called = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports already stopped")

	m.Advance(time.Minute)
	assert.False(t, called)
}

func TestManualTimerScheduledFromCallback(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			m.AfterFunc(time.Second, tick)
		}
	}
	m.AfterFunc(time.Second, tick)

	m.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
}

func TestOrDefaultsToSystemClock(t *testing.T) {
	assert.IsType(t, DefaultTimeProvider{}, Or(nil))
	m := NewManual(time.Unix(0, 0))
	assert.Same(t, m, Or(m))
}
